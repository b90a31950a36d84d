package config

// Config is the whole bot configuration. Durations are Go duration strings
// ("100ms", "20s", "2h") and times of day are "HH:MM" in scheduler.timezone.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Delivery  DeliveryConfig  `json:"delivery"`
	Summary   SummaryConfig   `json:"summary"`
	Pulse     PulseConfig     `json:"pulse"`
	Router    RouterConfig    `json:"router"`
	Ops       OpsConfig       `json:"ops"`
	Tasks     []TaskConfig    `json:"tasks"`
	Messages  MessagesConfig  `json:"messages"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./routinebot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type SchedulerConfig struct {
	// Timezone is an IANA name; empty means the process local zone.
	Timezone string `json:"timezone,omitempty"`
	// Tick is the clock poll interval, at most MaxTick.
	Tick string `json:"tick,omitempty"`
}

type DeliveryConfig struct {
	SendInterval string `json:"send_interval,omitempty"`
	RetryMax     int    `json:"retry_max"`
	RetryDelay   string `json:"retry_delay,omitempty"`
}

type SummaryConfig struct {
	At string `json:"at"`
	// RateDays is the completion-rate window shown in summaries and /status.
	RateDays   int `json:"rate_days,omitempty"`
	ReportDays int `json:"report_days,omitempty"`
}

type PulseConfig struct {
	Enabled     bool     `json:"enabled"`
	MinInterval string   `json:"min_interval"`
	MaxInterval string   `json:"max_interval"`
	FromHour    int      `json:"from_hour"`
	ToHour      int      `json:"to_hour"`
	Messages    []string `json:"messages"`
}

type RouterConfig struct {
	Workers   int    `json:"workers,omitempty"`
	QueueSize int    `json:"queue_size,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
}

// OpsConfig controls the operational HTTP endpoint (health, stats, pprof).
// Prefer binding to localhost.
type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
}

type TaskConfig struct {
	Key      string   `json:"key"`
	Time     string   `json:"time"`
	Prompt   string   `json:"prompt"`
	Label    string   `json:"label"`
	Keywords []string `json:"keywords,omitempty"`
}

// MessagesConfig overrides user-facing texts; empty fields keep the
// built-in wording.
type MessagesConfig struct {
	Start                string   `json:"start,omitempty"`
	Unknown              string   `json:"unknown,omitempty"`
	Busy                 string   `json:"busy,omitempty"`
	Error                string   `json:"error,omitempty"`
	StatusHeader         string   `json:"status_header,omitempty"`
	ReportHeader         string   `json:"report_header,omitempty"`
	ScheduleHeader       string   `json:"schedule_header,omitempty"`
	TaskCompleted        string   `json:"task_completed,omitempty"`
	TaskAlreadyCompleted string   `json:"task_already_completed,omitempty"`
	SummaryHeader        string   `json:"summary_header,omitempty"`
	SummaryEmpty         string   `json:"summary_empty,omitempty"`
	SummaryError         string   `json:"summary_error,omitempty"`
	DoneWords            []string `json:"done_words,omitempty"`
	Cheers               []string `json:"cheers,omitempty"`
}
