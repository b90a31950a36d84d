package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"routinebot/internal/app"
	"routinebot/internal/clock"
	"routinebot/internal/config"
	"routinebot/internal/storage"
	"routinebot/internal/tracker"
	logx "routinebot/pkg/logx"
)

func main() {
	cmd := &cli.Command{
		Name:           "routinebot",
		Usage:          "Daily routine reminders and completion tracking for Telegram",
		DefaultCommand: "run",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file (yaml or json); empty uses built-in defaults",
				Sources: cli.EnvVars("ROUTINEBOT_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file loaded before the config",
				Value: ".env",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run the bot",
				Action: run,
			},
			{
				Name:   "check-config",
				Usage:  "load and validate the config, then print the task schedule",
				Action: checkConfig,
			},
			{
				Name:  "report",
				Usage: "print a user's completion report from the store",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "user", Usage: "telegram user id", Required: true},
					&cli.IntFlag{Name: "days", Usage: "days to include", Value: 7},
				},
				Action: report,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config. Offline commands pass validate=false and
// work without a bot token.
func loadConfig(cmd *cli.Command, validate bool) (*config.Manager, *config.Config, error) {
	if err := config.LoadDotEnv(cmd.String("env-file")); err != nil {
		return nil, nil, fmt.Errorf("load env: %w", err)
	}
	m := config.NewManager(cmd.String("config"))
	load := m.Load
	if !validate {
		load = m.Parse
	}
	cfg, err := load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	return m, cfg, nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	if err := config.LoadDotEnv(cmd.String("env-file")); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(config.NewManager(cmd.String("config")))
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.Stop(stopCtx, app.StopFatalError)
		c()
		return err
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		if ctx.Err() == nil {
			reason = app.StopFatalError
		}
	}
	fatal := a.Err()

	stopCtx, c := context.WithTimeout(context.Background(), 10*time.Second)
	defer c()
	stopErr := a.Stop(stopCtx, reason)
	if reason == app.StopFatalError && fatal != nil {
		return errors.Join(fatal, stopErr)
	}
	return stopErr
}

func checkConfig(_ context.Context, cmd *cli.Command) error {
	m, cfg, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}
	cat, err := cfg.Catalog()
	if err != nil {
		return err
	}
	loc, _ := cfg.Scheduler.Location()
	w := cmd.Root().Writer
	src := m.Path()
	if src == "" {
		src = "(defaults)"
	}
	fmt.Fprintf(w, "config ok: %s\n", src)
	fmt.Fprintf(w, "timezone: %s, tick: %s, storage: %s %s\n",
		loc, cfg.Scheduler.TickDuration(), cfg.Storage.Driver, cfg.Storage.Path)
	for _, t := range cat.ByFireTime() {
		fmt.Fprintf(w, "  %s  %-16s %s\n", t.FireAt, t.Key, t.Title())
	}
	fmt.Fprintf(w, "  %s  %-16s daily summary\n", cfg.Summary.At, tracker.SummaryTrigger)
	if cfg.Pulse.Enabled {
		lo, hi := cfg.Pulse.Intervals()
		fmt.Fprintf(w, "pulse: every %s-%s between %02d:00 and %02d:59\n", lo, hi, cfg.Pulse.FromHour, cfg.Pulse.ToHour)
	}
	return nil
}

func report(ctx context.Context, cmd *cli.Command) error {
	_, cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}
	cat, err := cfg.Catalog()
	if err != nil {
		return err
	}
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.Storage.BusyTimeoutDuration(),
	}, logx.Nop())
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer store.Close()

	sum := tracker.NewSummaryEngine(tracker.Deps{Catalog: cat, Store: store, Location: loc},
		nil, tracker.DefaultSummaryTexts(), cfg.Summary.RateDays)
	userID := cmd.Int("user")
	view, err := sum.Report(ctx, userID, clock.System{}.Now(), int(cmd.Int("days")))
	if err != nil {
		return err
	}

	w := cmd.Root().Writer
	fmt.Fprintf(w, "user %d, %d days to %s\n", userID, cmd.Int("days"), view.Today)
	if len(view.Days) == 0 {
		fmt.Fprintln(w, "no completions")
	}
	for _, d := range view.Days {
		fmt.Fprintf(w, "%s\n", d.Date)
		for _, it := range d.Items {
			fmt.Fprintf(w, "  %s  %s\n", it.At.In(loc).Format("15:04"), it.Label)
		}
	}
	fmt.Fprintf(w, "rate: %.1f%%\n", view.Rate)
	return nil
}
