package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("15s", "6h"). Schedules accept cron
// expressions, "@every" descriptors, Go durations or HH:MM intervals.
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Ledger     LedgerConfig     `json:"ledger"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Reconciler ReconcilerConfig `json:"reconciler"`
	Firing     FiringConfig     `json:"firing"`
	Notifier   NotifierConfig   `json:"notifier"`
	Metrics    MetricsConfig    `json:"metrics"`
	Tenants    []TenantConfig   `json:"tenants"`
}

// TelegramConfig configures the outbound chat client. An empty token runs the
// bot with a log-only sink.
type TelegramConfig struct {
	Token   string `json:"token"`
	Timeout string `json:"timeout,omitempty"` // default "15s"
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat mirrors WARN+ records into an ops channel of one tenant.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	Tenant     string `json:"tenant,omitempty"`
	Channel    string `json:"channel,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// LedgerConfig selects the row store. The driver defaults to sqlite and the
// path to ./clubbot.db; "memory" keeps rows only for the life of the process.
//
// Example:
//
//	"ledger": { "driver": "sqlite", "path": "./clubbot.db" }
type LedgerConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	CallTimeout string `json:"call_timeout,omitempty"` // per ledger call; default "10s"
}

type SchedulerConfig struct {
	Timezone       string `json:"timezone,omitempty"`
	ReconcileEvery string `json:"reconcile_every,omitempty"` // default "15m"
	TickEvery      string `json:"tick_every,omitempty"`      // default "60s"
	CleanupEvery   string `json:"cleanup_every,omitempty"`   // default "6h"
}

type ReconcilerConfig struct {
	Concurrency int `json:"concurrency,omitempty"`
}

type FiringConfig struct {
	Tolerance   string `json:"tolerance,omitempty"`    // default "1m"
	SendTimeout string `json:"send_timeout,omitempty"` // default "15s"
	Retention   string `json:"retention,omitempty"`    // default "168h"
}

type NotifierConfig struct {
	RatePerSec     int    `json:"rate_per_sec,omitempty"`
	SendTimeout    string `json:"send_timeout,omitempty"`
	DisablePreview bool   `json:"disable_preview,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
//
// Security note: bind to loopback, or set a token, or set allow_insecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default "127.0.0.1:9464"
	Path          string `json:"path,omitempty"` // default "/metrics"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"` // also serve /debug/pprof/
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}

// TenantConfig is one guild. Channels are chat targets in "chat[:thread]" form.
type TenantConfig struct {
	ID                string `json:"id"`
	Name              string `json:"name,omitempty"`
	TaskChannel       string `json:"task_channel"`
	MeetingChannel    string `json:"meeting_channel"`
	EscalationChannel string `json:"escalation_channel,omitempty"`
	Timezone          string `json:"timezone,omitempty"`
	// Enabled defaults to true when omitted.
	Enabled *bool `json:"enabled,omitempty"`
}

// IsEnabled reports the effective enabled flag.
func (t TenantConfig) IsEnabled() bool { return t.Enabled == nil || *t.Enabled }
