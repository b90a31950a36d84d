package tracker

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"routinebot/internal/clock"
	logx "routinebot/pkg/logx"
)

type PulseConfig struct {
	MinInterval time.Duration
	MaxInterval time.Duration
	// FromHour and ToHour bound the local hours (inclusive) a pulse may go out.
	FromHour int
	ToHour   int
	Messages []string
}

// Pulse periodically broadcasts a random motivational message. It keeps no
// state between runs.
type Pulse struct {
	cfg      PulseConfig
	audience Audience
	clock    clock.Clock
	loc      *time.Location
	log      logx.Logger
	out      *fanout

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewPulse builds a pulse; rng may be nil for a randomly seeded source.
func NewPulse(d Deps, audience Audience, cfg PulseConfig, rng *rand.Rand) *Pulse {
	d.normalize()
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Pulse{
		cfg:      cfg,
		audience: audience,
		clock:    d.Clock,
		loc:      d.Location,
		log:      d.Log.With(logx.String("comp", "tracker.pulse")),
		out:      newFanout(d, "tracker.pulse"),
		rng:      rng,
	}
}

// NextDelay draws a duration uniformly from [MinInterval, MaxInterval].
func (p *Pulse) NextDelay() time.Duration {
	span := p.cfg.MaxInterval - p.cfg.MinInterval
	if span <= 0 {
		return p.cfg.MinInterval
	}
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return p.cfg.MinInterval + time.Duration(p.rng.Int64N(int64(span)+1))
}

func (p *Pulse) InWindow(t time.Time) bool {
	h := t.In(p.loc).Hour()
	return h >= p.cfg.FromHour && h <= p.cfg.ToHour
}

// Pick returns a random message, or "" when none are configured.
func (p *Pulse) Pick() string {
	if len(p.cfg.Messages) == 0 {
		return ""
	}
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return p.cfg.Messages[p.rng.IntN(len(p.cfg.Messages))]
}

// Broadcast sends one random message to every notifiable user.
func (p *Pulse) Broadcast(ctx context.Context) (FanoutReport, error) {
	msg := p.Pick()
	if msg == "" {
		return FanoutReport{}, nil
	}
	users, err := p.audience.Notifiable(ctx)
	if err != nil {
		return FanoutReport{}, err
	}
	rep, startedAt := p.out.begin("pulse", len(users))
	for _, uid := range users {
		if _, err := p.out.deliver(ctx, rep, uid, msg, nil); err != nil {
			rep.Abandoned = true
			break
		}
	}
	p.out.finish(rep, startedAt)
	return *rep, nil
}

// Run sleeps a random delay, then broadcasts if the local hour is inside the
// window, until ctx is done.
func (p *Pulse) Run(ctx context.Context) error {
	if len(p.cfg.Messages) == 0 || p.cfg.MinInterval <= 0 {
		p.log.Info("pulse disabled")
		<-ctx.Done()
		return nil
	}
	for {
		d := p.NextDelay()
		p.log.Debug("next pulse scheduled", logx.Duration("in", d))
		if err := sleepCtx(ctx, d); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		now := p.clock.Now()
		if !p.InWindow(now) {
			p.log.Debug("pulse outside window", logx.Int("hour", now.In(p.loc).Hour()))
			continue
		}
		if _, err := p.Broadcast(ctx); err != nil {
			p.log.Warn("pulse broadcast failed", logx.Err(err))
		}
	}
}
