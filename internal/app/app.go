package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"routinebot/internal/catalog"
	"routinebot/internal/clock"
	"routinebot/internal/config"
	"routinebot/internal/eventbus"
	"routinebot/internal/ops"
	rtsup "routinebot/internal/runtime/supervisor"
	"routinebot/internal/storage"
	"routinebot/internal/tracker"
	kit "routinebot/internal/transport"
	telegram "routinebot/internal/transport/telegram/adapter"
	"routinebot/internal/transport/telegram/router"
	logx "routinebot/pkg/logx"
	"routinebot/pkg/systemd"
)

// Transport is the chat adapter together with the notification sender.
type Transport interface {
	kit.Adapter
	tracker.Sender
}

type Option func(*options)

type options struct {
	transport Transport
	clock     clock.Clock
}

// WithTransport replaces the Telegram adapter.
func WithTransport(t Transport) Option { return func(o *options) { o.transport = t } }

func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	sup *rtsup.Supervisor
	reg *rtsup.Registry

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	clock clock.Clock
	loc   *time.Location

	adapter Transport
	cat     *catalog.Catalog

	reminders *tracker.ReminderEngine
	summary   *tracker.SummaryEngine
	pulse     *tracker.Pulse
	loop      *tracker.Loop
	handlers  *router.Handlers
	router    *router.Router
	texts     router.Texts

	stats *ops.Stats
	ops   *ops.Server

	updates chan kit.Update
}

// New loads the configuration through cfgm and builds every component.
// Nothing runs until Start.
func New(cfgm *config.Manager, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.clock == nil {
		o.clock = clock.System{}
	}

	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, err
	}
	cat, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}
	summaryAt, err := cfg.Summary.SummaryTime()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	ad := o.transport
	if ad == nil {
		tg, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: cfg.Telegram.PollTimeoutDuration(),
		}, logSvc.Logger().With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		ad = tg
	}

	store, err := storage.Open(mapStorageConfig(cfg), logSvc.Logger())
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	bus := eventbus.New()
	deps := tracker.Deps{
		Catalog:  cat,
		Store:    store,
		Sender:   ad,
		Clock:    o.clock,
		Location: loc,
		Delivery: mapDelivery(cfg),
		Limiter:  tracker.NewLimiter(cfg.Delivery.SendIntervalDuration()),
		Log:      logSvc.Logger(),
		Bus:      bus,
	}
	reminders := tracker.NewReminderEngine(deps)
	summary := tracker.NewSummaryEngine(deps, reminders, mapSummaryTexts(cfg.Messages), cfg.Summary.RateDays)
	pulse := tracker.NewPulse(deps, reminders, mapPulse(cfg), nil)

	reg := rtsup.NewRegistry()
	a := &App{
		cfgm:      cfgm,
		cfg:       cfg,
		reg:       reg,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		clock:     o.clock,
		loc:       loc,
		adapter:   ad,
		cat:       cat,
		reminders: reminders,
		summary:   summary,
		pulse:     pulse,
		stats:     ops.NewStats(),
		updates:   make(chan kit.Update, 256),
	}

	a.loop = tracker.NewLoop(tracker.LoopConfig{
		Tick:     cfg.Scheduler.TickDuration(),
		Location: loc,
		Clock:    o.clock,
		Spawn:    a.spawnTrigger,
		Log:      logSvc.Logger(),
	})
	if err := tracker.RegisterTriggers(a.loop, cat, reminders, summary, summaryAt); err != nil {
		_ = store.Close()
		return nil, err
	}

	texts, doneWords := mapTexts(cfg.Messages)
	a.texts = texts
	a.handlers = router.NewHandlers(router.Deps{
		Catalog:    cat,
		Reminders:  reminders,
		Summary:    summary,
		Users:      store,
		Clock:      o.clock,
		Texts:      texts,
		DoneWords:  doneWords,
		ReportDays: cfg.Summary.ReportDays,
		Log:        logSvc.Logger(),
	})

	if cfg.Ops.Enabled {
		a.ops = ops.NewServer(ops.Config{Addr: cfg.Ops.Addr, Pprof: cfg.Ops.Pprof}, ops.Sources{
			Store:    store,
			Loop:     a.loop,
			OptOuts:  reminders,
			Stats:    a.stats,
			Registry: reg,
			Now:      o.clock.Now,
		}, logSvc.Logger())
	}

	log.Info("app built",
		logx.String("timezone", loc.String()),
		logx.Int("tasks", cat.Len()),
		logx.String("summary_at", summaryAt.String()),
		logx.String("storage", mapStorageConfig(cfg).Driver),
	)
	return a, nil
}

// spawnTrigger runs trigger jobs on the tracker supervisor so a slow fan-out
// never holds the clock loop.
func (a *App) spawnTrigger(name string, fn func(ctx context.Context) error) {
	if sup := a.trackerSup(); sup != nil {
		sup.Go(name, fn)
		return
	}
	go func() { _ = fn(context.Background()) }()
}

func (a *App) trackerSup() *rtsup.Supervisor {
	if a.reg == nil {
		return nil
	}
	return a.reg.Get("tracker")
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Reminders() *tracker.ReminderEngine { return a.reminders }
func (a *App) Summary() *tracker.SummaryEngine    { return a.summary }
func (a *App) Loop() *tracker.Loop                { return a.loop }
func (a *App) Store() storage.Store               { return a.store }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.reg.Set("app", a.sup)

	trackerSup := rtsup.NewSupervisor(a.sup.Context(),
		rtsup.WithLogger(a.log.With(logx.String("comp", "tracker"))),
		rtsup.WithCancelOnError(false),
	)
	a.reg.Set("tracker", trackerSup)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	a.router = router.New(router.Config{
		Workers:   a.cfg.Router.Workers,
		QueueSize: a.cfg.Router.QueueSize,
		Timeout:   a.cfg.Router.TimeoutDuration(),
		Busy:      a.texts.Busy,
		Unknown:   a.texts.Unknown,
	}, a.logs.Logger().With(logx.String("comp", "telegram.router")), a.adapter, a.sup, a.reg)
	a.handlers.Register(a.router)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if sp, ok := a.adapter.(interface{ Supervisor() *rtsup.Supervisor }); ok {
		a.reg.Set("telegram.adapter", sp.Supervisor())
	}

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.Go("tracker.loop", a.loop.Run)
	trackerSup.Go("tracker.pulse", a.pulse.Run)
	a.sup.Go0("ops.stats", func(c context.Context) { a.stats.Run(c, a.bus) })

	if a.ops != nil {
		a.ops.Start(a.sup.Context())
		a.reg.Set("ops", a.ops.Supervisor())
	}

	// Debug log of domain events.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		applied := a.cfg
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				applied = a.applyConfig(applied, newCfg)
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		systemd.Watchdog(c, a.healthy)
	})
	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}
	_, _ = systemd.Status(fmt.Sprintf("tracking %d tasks", a.cat.Len()))

	a.log.Info("app started")
	return nil
}

// applyConfig applies the live sections of a reloaded config and warns about
// the rest.
func (a *App) applyConfig(prev, next *config.Config) *config.Config {
	changed := config.Changed(prev, next)
	if len(changed) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return next
	}
	var restart []string
	for _, s := range changed {
		if !config.LiveSections[s] {
			restart = append(restart, s)
		}
	}
	if slices.Contains(changed, "logging") {
		a.logs.Apply(mapLogConfig(next))
	}
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: changed})
	a.log.Info("config reloaded", logx.String("changed", strings.Join(changed, ",")))
	return next
}

// healthy gates watchdog pings: the store answers and the clock loop ticks.
func (a *App) healthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.store.Ping(ctx); err != nil {
		a.log.Warn("watchdog: store unhealthy", logx.Err(err))
		return false
	}
	last := a.loop.LastTick()
	return !last.IsZero() && a.clock.Now().Sub(last) <= 3*a.loop.Tick()
}

// Stop cancels every component and waits for them within ctx. In-flight
// fan-outs are abandoned, not retried.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	a.sup.Cancel()

	// step bounds one shutdown stage; it never extends ctx.
	step := func(name string, limit time.Duration, fn func(context.Context) error) func() error {
		return func() error {
			start := time.Now()
			sctx, cancel := context.WithTimeout(ctx, limit)
			defer cancel()
			err := fn(sctx)
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
			}
			return err
		}
	}

	var g errgroup.Group
	g.Go(step("adapter", 2*time.Second, a.adapter.Stop))
	g.Go(step("tracker", 2*time.Second, func(c context.Context) error {
		if sup := a.trackerSup(); sup != nil {
			return sup.Wait(c)
		}
		return nil
	}))
	g.Go(step("ops", time.Second, func(c context.Context) error {
		if a.ops != nil {
			return a.ops.Stop(c)
		}
		return nil
	}))
	stepErr := g.Wait()

	supErr := step("supervisor", 2*time.Second, a.sup.Wait)()
	// the store closes last so in-flight handlers can finish their writes
	closeErr := step("storage", time.Second, func(context.Context) error { return a.store.Close() })()

	a.log.Info("stopped")
	_ = a.logs.Close()

	if errors.Is(supErr, context.DeadlineExceeded) {
		return errors.Join(stepErr, supErr, closeErr)
	}
	return errors.Join(stepErr, closeErr)
}
