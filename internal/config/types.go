package config

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Store     StoreConfig     `json:"store"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Clients   ClientsConfig   `json:"clients"`
	Alert     AlertConfig     `json:"alert,omitempty"`
	API       APIConfig       `json:"api,omitempty"`
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

// StoreConfig selects the persistence driver.
//
// Example:
//
//	"store": { "driver": "postgres", "dsn": "postgres://taskd@db/taskd" }
//	"store": { "driver": "sqlite", "path": "./taskd.db" }
type StoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn,omitempty"`
	Path   string `json:"path,omitempty"`

	// MaxConns bounds the postgres pool. Size it to at least
	// executor_pool_size plus a small reserve per replica.
	MaxConns int `json:"max_conns,omitempty"`

	// BusyTimeout is a Go duration string (sqlite).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the polling/execution engine.
//
// All durations are Go duration strings (e.g. "30s", "5m", "1h").
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "30s" (minimum "1s")
//   - batch_size: 100
//   - executor_pool_size: 20
//   - default_max_retries: 5
//   - default_retry_delay_hours: 24
//   - lock_duration: "30m"
//   - stale_task_threshold: "60m"
//   - stale_check_interval: "5m"
//   - shutdown_grace: "30s"
//   - retention_days: 30
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	PollInterval     string `json:"poll_interval,omitempty"`
	BatchSize        int    `json:"batch_size,omitempty"`
	ExecutorPoolSize int    `json:"executor_pool_size,omitempty"`

	// DefaultMaxRetries is a pointer so an explicit 0 (never retry)
	// is distinguishable from "omitted".
	DefaultMaxRetries      *int `json:"default_max_retries,omitempty"`
	DefaultRetryDelayHours int  `json:"default_retry_delay_hours,omitempty"`

	LockDuration       string `json:"lock_duration,omitempty"`
	StaleTaskThreshold string `json:"stale_task_threshold,omitempty"`
	StaleCheckInterval string `json:"stale_check_interval,omitempty"`

	ShutdownGrace string `json:"shutdown_grace,omitempty"`

	// StrictDuplicates turns duplicate task creation (same reference_id and
	// type with an active row, preventDuplicates set) into a conflict error
	// instead of idempotently returning the existing task.
	StrictDuplicates bool `json:"strict_duplicates,omitempty"`

	// Retention sweep for terminal tasks and their logs.
	RetentionDays     int    `json:"retention_days,omitempty"`
	RetentionSchedule string `json:"retention_schedule,omitempty"` // cron, default "0 4 * * *"
}

type ClientsConfig struct {
	Order   ClientConfig `json:"order"`
	Payment ClientConfig `json:"payment"`
}

type ClientConfig struct {
	BaseURL string `json:"base_url"`
	// Timeout is a Go duration string. Default "30s".
	Timeout string `json:"timeout,omitempty"`
}

// AlertConfig controls the outbound alert pipeline.
//
// Transport is "webhook" (Slack-compatible JSON payload) or "telegram".
type AlertConfig struct {
	Enabled   bool   `json:"enabled"`
	Transport string `json:"transport,omitempty"`

	WebhookURL       string `json:"webhook_url,omitempty"`
	Channel          string `json:"channel,omitempty"`
	DashboardBaseURL string `json:"dashboard_base_url,omitempty"`

	TelegramToken  string `json:"telegram_token,omitempty"`
	TelegramChatID int64  `json:"telegram_chat_id,omitempty"`

	RatePerSec int `json:"rate_per_sec,omitempty"`
	QueueSize  int `json:"queue_size,omitempty"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default ":8080"

	// Server timeouts (Go duration strings).
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
