package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"routinebot/internal/catalog"
)

// Validate checks every section and that the tasks form a valid catalog.
func (c *Config) Validate() error {
	if err := c.Telegram.Validate(); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := c.Delivery.Validate(); err != nil {
		return fmt.Errorf("delivery: %w", err)
	}
	if err := c.Summary.Validate(); err != nil {
		return fmt.Errorf("summary: %w", err)
	}
	if err := c.Pulse.Validate(); err != nil {
		return fmt.Errorf("pulse: %w", err)
	}
	if err := c.Router.Validate(); err != nil {
		return fmt.Errorf("router: %w", err)
	}
	if err := c.Ops.Validate(); err != nil {
		return fmt.Errorf("ops: %w", err)
	}
	for i, t := range c.Tasks {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("tasks[%d]: %w", i, err)
		}
	}
	if _, err := c.Catalog(); err != nil {
		return fmt.Errorf("tasks: %w", err)
	}
	return nil
}

// Catalog builds the task catalog in configuration order.
func (c *Config) Catalog() (*catalog.Catalog, error) {
	if len(c.Tasks) == 0 {
		return nil, errors.New("at least one task is required")
	}
	defs := make([]catalog.TaskDefinition, 0, len(c.Tasks))
	for _, t := range c.Tasks {
		ft, err := catalog.ParseFireTime(t.Time)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", t.Key, err)
		}
		defs = append(defs, catalog.TaskDefinition{
			Key:      t.Key,
			FireAt:   ft,
			Prompt:   t.Prompt,
			Label:    t.Label,
			Keywords: t.Keywords,
		})
	}
	return catalog.New(defs)
}

// SummaryTime is the parsed summary.at.
func (c SummaryConfig) SummaryTime() (catalog.FireTime, error) {
	return catalog.ParseFireTime(c.At)
}

// MaxTick is the longest accepted scheduler.tick.
const MaxTick = 30 * time.Second

var (
	isDuration = validation.By(func(v any) error {
		s, _ := v.(string)
		_, err := ParseDurationField("value", s)
		return err
	})
	isFireTime = validation.By(func(v any) error {
		s, _ := v.(string)
		if strings.TrimSpace(s) == "" {
			return nil
		}
		_, err := catalog.ParseFireTime(s)
		return err
	})
	isTimezone = validation.By(func(v any) error {
		s, _ := v.(string)
		_, err := SchedulerConfig{Timezone: s}.Location()
		return err
	})
	// A tick of a minute or more can step over a whole due minute.
	isTick = validation.By(func(v any) error {
		s, _ := v.(string)
		d, err := ParseDurationField("value", s)
		if err == nil && d > MaxTick {
			return fmt.Errorf("must be at most %s", MaxTick)
		}
		return err
	})
)

func (c TelegramConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Token, validation.Required.Error("is required (set BOT_TOKEN)")),
		validation.Field(&c.PollTimeout, isDuration),
	)
}

func (c LoggingConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Level, validation.In("", "trace", "debug", "info", "warn", "warning", "error")),
	)
}

func (c StorageConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Driver, validation.Required, validation.In("sqlite", "sqlite3", "file")),
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.BusyTimeout, isDuration),
	)
}

func (c SchedulerConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Timezone, isTimezone),
		validation.Field(&c.Tick, isTick),
	)
}

func (c DeliveryConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.SendInterval, isDuration),
		validation.Field(&c.RetryMax, validation.Min(0), validation.Max(10)),
		validation.Field(&c.RetryDelay, isDuration),
	)
}

func (c SummaryConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.At, validation.Required, isFireTime),
		validation.Field(&c.RateDays, validation.Min(0), validation.Max(366)),
		validation.Field(&c.ReportDays, validation.Min(0), validation.Max(31)),
	)
}

func (c PulseConfig) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.MinInterval, isDuration),
		validation.Field(&c.MaxInterval, isDuration),
		validation.Field(&c.FromHour, validation.Min(0), validation.Max(23)),
		validation.Field(&c.ToHour, validation.Min(0), validation.Max(23)),
		validation.Field(&c.Messages, validation.When(c.Enabled, validation.Required)),
	)
	if err != nil {
		return err
	}
	if c.FromHour > c.ToHour {
		return errors.New("from_hour must not be after to_hour")
	}
	if lo, hi := c.Intervals(); lo > hi {
		return errors.New("min_interval must not exceed max_interval")
	}
	return nil
}

func (c RouterConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Workers, validation.Min(0), validation.Max(64)),
		validation.Field(&c.QueueSize, validation.Min(0)),
		validation.Field(&c.Timeout, isDuration),
	)
}

func (c OpsConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.When(c.Enabled, validation.Required)),
	)
}

func (c TaskConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Key, validation.Required),
		validation.Field(&c.Time, validation.Required, isFireTime),
		validation.Field(&c.Prompt, validation.Required),
		validation.Field(&c.Label, validation.Required),
	)
}
