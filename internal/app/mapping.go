package app

import (
	"strings"

	"routinebot/internal/config"
	"routinebot/internal/storage"
	"routinebot/internal/tracker"
	"routinebot/internal/transport/telegram/router"
	logx "routinebot/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: cfg.Storage.BusyTimeoutDuration(),
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapDelivery(cfg *config.Config) tracker.DeliveryConfig {
	return tracker.DeliveryConfig{
		SendInterval: cfg.Delivery.SendIntervalDuration(),
		RetryMax:     cfg.Delivery.RetryMax,
		RetryDelay:   cfg.Delivery.RetryDelayDuration(),
	}
}

func mapPulse(cfg *config.Config) tracker.PulseConfig {
	pc := tracker.PulseConfig{
		FromHour: cfg.Pulse.FromHour,
		ToHour:   cfg.Pulse.ToHour,
	}
	if cfg.Pulse.Enabled {
		pc.MinInterval, pc.MaxInterval = cfg.Pulse.Intervals()
		pc.Messages = cfg.Pulse.Messages
	}
	return pc
}

// mapTexts overlays non-empty configured messages on the built-in texts.
func mapTexts(m config.MessagesConfig) (router.Texts, []string) {
	t := router.DefaultTexts()
	set := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	set(&t.Start, m.Start)
	set(&t.Unknown, m.Unknown)
	set(&t.Busy, m.Busy)
	set(&t.Error, m.Error)
	set(&t.StatusHeader, m.StatusHeader)
	set(&t.ReportHeader, m.ReportHeader)
	set(&t.ScheduleHeader, m.ScheduleHeader)
	set(&t.TaskCompleted, m.TaskCompleted)
	set(&t.TaskAlreadyCompleted, m.TaskAlreadyCompleted)
	if len(m.Cheers) > 0 {
		t.Cheers = m.Cheers
	}
	words := router.DefaultDoneWords()
	if len(m.DoneWords) > 0 {
		words = m.DoneWords
	}
	return t, words
}

func mapSummaryTexts(m config.MessagesConfig) tracker.SummaryTexts {
	t := tracker.DefaultSummaryTexts()
	if strings.TrimSpace(m.SummaryHeader) != "" {
		t.Header = m.SummaryHeader
	}
	if strings.TrimSpace(m.SummaryEmpty) != "" {
		t.Empty = m.SummaryEmpty
	}
	if strings.TrimSpace(m.SummaryError) != "" {
		t.Error = m.SummaryError
	}
	return t
}
