package config

import (
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// mustDuration is for values already accepted by Validate.
func mustDuration(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("", raw, def)
	if err != nil {
		return def
	}
	return d
}

func (c TelegramConfig) PollTimeoutDuration() time.Duration {
	return mustDuration(c.PollTimeout, 10*time.Second)
}

func (c StorageConfig) BusyTimeoutDuration() time.Duration {
	return mustDuration(c.BusyTimeout, 5*time.Second)
}

func (c SchedulerConfig) TickDuration() time.Duration {
	return mustDuration(c.Tick, 20*time.Second)
}

// Location resolves Timezone; empty means time.Local.
func (c SchedulerConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

func (c DeliveryConfig) SendIntervalDuration() time.Duration {
	d, _ := ParseDurationField("", c.SendInterval)
	return d
}

func (c DeliveryConfig) RetryDelayDuration() time.Duration {
	d, _ := ParseDurationField("", c.RetryDelay)
	return d
}

func (c PulseConfig) Intervals() (lo, hi time.Duration) {
	return mustDuration(c.MinInterval, 2*time.Hour), mustDuration(c.MaxInterval, 6*time.Hour)
}

func (c RouterConfig) TimeoutDuration() time.Duration {
	d, _ := ParseDurationField("", c.Timeout)
	return d
}
