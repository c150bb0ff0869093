package config

// Config is the on-disk configuration for the scheduling daemon.
//
// The file may be JSON or YAML (by extension); both go through the same
// strict decoder, so unknown or misspelled keys are rejected instead of
// silently ignored. All durations are Go duration strings (e.g. "500ms",
// "10s", "1m"). Zero values defer to each service's defaults.
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Dispatch   DispatchConfig   `json:"dispatch,omitempty"`
	Generation GenerationConfig `json:"generation,omitempty"`
	Poller     PollerConfig     `json:"poller"`
	Channels   ChannelsConfig   `json:"channels"`
	Debug      DebugConfig      `json:"debug,omitempty"`
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

// StorageConfig selects the persistence backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./taskdue.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DispatchConfig tunes the delivery pass over due notifications.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - batch_limit: 200
//   - rate_per_sec: 10
//   - send_timeout: "10s"
//   - retention_age: "2160h" (90 days)
type DispatchConfig struct {
	Workers      int    `json:"workers,omitempty"`
	BatchLimit   int    `json:"batch_limit,omitempty"`
	RatePerSec   int    `json:"rate_per_sec,omitempty"`
	SendTimeout  string `json:"send_timeout,omitempty"`
	RetentionAge string `json:"retention_age,omitempty"`
}

// GenerationConfig tunes the recurring-task materialization pass.
type GenerationConfig struct {
	BatchLimit int `json:"batch_limit,omitempty"`
}

// PollerConfig controls the background pass triggers.
//
// Schedules accept cron expressions ("10 3 * * *", "@hourly"), Go
// durations ("55s", "2m30s"), or HH:MM intervals ("00:05"); sweep_at is a
// wall-clock HH:MM. Defaults: dispatch_every "1m", generation_every "5m",
// overdue_schedule "@hourly", sweep_at "03:10".
type PollerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`

	// PassTimeout bounds a single pass run. Use "0s" to fall back to the
	// built-in default.
	PassTimeout string `json:"pass_timeout,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`

	DispatchEvery   string `json:"dispatch_every,omitempty"`
	GenerationEvery string `json:"generation_every,omitempty"`
	OverdueSchedule string `json:"overdue_schedule,omitempty"`
	SweepAt         string `json:"sweep_at,omitempty"`
}

// ChannelsConfig enables delivery channels. A channel that is configured
// off never receives send attempts; recipients who selected it simply
// have it filtered out.
type ChannelsConfig struct {
	Email    EmailChannel    `json:"email"`
	InApp    InAppChannel    `json:"in_app"`
	Push     PushChannel     `json:"push"`
	Telegram TelegramChannel `json:"telegram,omitempty"`
}

type EmailChannel struct {
	Enabled bool `json:"enabled"`
}

type InAppChannel struct {
	Enabled bool `json:"enabled"`
}

type PushChannel struct {
	Enabled bool `json:"enabled"`
}

// TelegramChannel configures the Telegram sender.
//
// Token may be left out of the file and supplied via the
// TASKDUE_TELEGRAM_TOKEN environment variable (see TelegramToken).
// Chats maps recipients to chats as "uuid:chat_id" pairs.
type TelegramChannel struct {
	Enabled bool     `json:"enabled"`
	Token   string   `json:"token,omitempty"`
	Chats   []string `json:"chats,omitempty"`
}

// DebugConfig controls the optional operational HTTP server (pprof,
// /healthz, /statusz). Off by default; prefer a loopback addr. Binding
// elsewhere requires token or allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default "127.0.0.1:6060"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"` // default 0; profile streaming needs it off
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}
