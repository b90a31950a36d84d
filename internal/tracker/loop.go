package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"routinebot/internal/catalog"
	"routinebot/internal/clock"
	logx "routinebot/pkg/logx"
)

const (
	defaultTick = 20 * time.Second
	// fireWindow is how late a trigger may still fire after its due minute.
	fireWindow = time.Minute
	// maxTick keeps at least two evaluations inside every fire window.
	maxTick = fireWindow / 2
)

var dailyParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// DailySchedule returns the cron schedule firing every day at ft.
func DailySchedule(ft catalog.FireTime) (cron.Schedule, error) {
	s, err := dailyParser.Parse(ft.CronSpec())
	if err != nil {
		return nil, fmt.Errorf("daily schedule %s: %w", ft, err)
	}
	return s, nil
}

// RunFunc handles one due firing. due is the scheduled instant, not the tick.
type RunFunc func(ctx context.Context, due time.Time) error

// SpawnFunc starts fn asynchronously; supervisor.Supervisor.Go fits.
type SpawnFunc func(name string, fn func(ctx context.Context) error)

type LoopConfig struct {
	Tick     time.Duration
	Location *time.Location
	Clock    clock.Clock
	// Spawn runs dispatched triggers; when nil they run inline on the loop.
	Spawn SpawnFunc
	Log   logx.Logger
}

type TriggerInfo struct {
	Name      string    `json:"name"`
	Next      time.Time `json:"next"`
	LastFired string    `json:"last_fired,omitempty"`
}

type trigger struct {
	name      string
	sched     cron.Schedule
	run       RunFunc
	lastFired clock.Date
}

// Loop polls the clock and dispatches daily triggers at most once per
// calendar day each. Firings missed by more than a minute are logged and
// skipped.
type Loop struct {
	tick  time.Duration
	loc   *time.Location
	clock clock.Clock
	spawn SpawnFunc
	log   logx.Logger

	mu       sync.Mutex
	triggers []*trigger
	last     time.Time

	lastTick atomic.Int64
	missed   atomic.Uint64
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Tick <= 0 {
		cfg.Tick = defaultTick
	}
	if cfg.Tick > maxTick {
		cfg.Tick = maxTick
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Log.IsZero() {
		cfg.Log = logx.Nop()
	}
	return &Loop{
		tick:  cfg.Tick,
		loc:   cfg.Location,
		clock: cfg.Clock,
		spawn: cfg.Spawn,
		log:   cfg.Log.With(logx.String("comp", "tracker.loop")),
	}
}

// Add registers a trigger. Names must be unique.
func (l *Loop) Add(name string, sched cron.Schedule, run RunFunc) error {
	if name == "" || sched == nil || run == nil {
		return errors.New("trigger: name, schedule and run are required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.triggers {
		if t.name == name {
			return fmt.Errorf("trigger %q already registered", name)
		}
	}
	l.triggers = append(l.triggers, &trigger{name: name, sched: sched, run: run})
	return nil
}

// Run evaluates triggers on every tick until ctx is done. A trigger due in
// the minute Run starts in is still dispatched.
func (l *Loop) Run(ctx context.Context) error {
	now := l.clock.Now().In(l.loc)
	l.mu.Lock()
	l.last = now.Truncate(time.Minute).Add(-time.Nanosecond)
	n := len(l.triggers)
	l.mu.Unlock()
	l.log.Info("loop started", logx.Duration("tick", l.tick), logx.String("tz", l.loc.String()), logx.Int("triggers", n))

	t := time.NewTicker(l.tick)
	defer t.Stop()
	l.evaluate(ctx, now)
	for {
		select {
		case <-ctx.Done():
			l.log.Info("loop stopped")
			return nil
		case <-t.C:
			l.evaluate(ctx, l.clock.Now())
		}
	}
}

func (l *Loop) evaluate(ctx context.Context, now time.Time) {
	now = now.In(l.loc)
	l.lastTick.Store(now.UnixNano())

	l.mu.Lock()
	prev := l.last
	if prev.IsZero() {
		prev = now.Truncate(time.Minute).Add(-time.Nanosecond)
	}
	var fire []func()
	for _, t := range l.triggers {
		for due := t.sched.Next(prev); !due.After(now); due = t.sched.Next(due) {
			lag := now.Sub(due)
			day := clock.DateOf(due, l.loc)
			if lag >= fireWindow {
				l.missed.Add(1)
				l.log.Warn("missed firing", logx.String("trigger", t.name), logx.Time("due", due), logx.Duration("lag", lag))
				continue
			}
			if t.lastFired == day {
				continue
			}
			t.lastFired = day
			fire = append(fire, l.dispatch(ctx, t, due))
		}
	}
	if now.After(l.last) {
		l.last = now
	}
	l.mu.Unlock()

	for _, f := range fire {
		f()
	}
}

func (l *Loop) dispatch(ctx context.Context, t *trigger, due time.Time) func() {
	name, run := t.name, t.run
	job := func(ctx context.Context) error {
		start := time.Now()
		err := run(ctx, due)
		if err != nil && !errors.Is(err, context.Canceled) {
			l.log.Warn("trigger failed", logx.String("trigger", name), logx.Time("due", due), logx.Err(err))
			return nil
		}
		l.log.Debug("trigger done", logx.String("trigger", name), logx.Duration("took", time.Since(start)))
		return nil
	}
	return func() {
		l.log.Info("trigger due", logx.String("trigger", name), logx.Time("due", due))
		if l.spawn == nil {
			_ = job(ctx)
			return
		}
		l.spawn("trigger:"+name, job)
	}
}

// LastTick is the time of the most recent evaluation (zero before the first).
func (l *Loop) LastTick() time.Time {
	n := l.lastTick.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).In(l.loc)
}

func (l *Loop) Tick() time.Duration { return l.tick }

func (l *Loop) Missed() uint64 { return l.missed.Load() }

// Triggers lists registered triggers with their next due time after now.
func (l *Loop) Triggers(now time.Time) []TriggerInfo {
	now = now.In(l.loc)
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TriggerInfo, 0, len(l.triggers))
	for _, t := range l.triggers {
		ti := TriggerInfo{Name: t.name, Next: t.sched.Next(now)}
		if !t.lastFired.IsZero() {
			ti.LastFired = t.lastFired.String()
		}
		out = append(out, ti)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Next.Before(out[j].Next) })
	return out
}
