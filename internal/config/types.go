package config

// Config is the on-disk configuration. All durations are Go duration
// strings (e.g. "500ms", "10s", "1h").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Reminders RemindersConfig `json:"reminders"`
	Notifier  NotifierConfig  `json:"notifier,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is the long-poll timeout, default "10s".
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file,omitempty"`
	Chat    LoggingChat `json:"chat,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// LoggingChat ships WARN+ log lines into a chat room, rate limited.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	Room       string `json:"room,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// RemindersConfig tunes the reminder engine.
type RemindersConfig struct {
	DefaultTimezone string `json:"default_timezone,omitempty"`
	DefaultLocale   string `json:"default_locale,omitempty"`
	RateLimit       int    `json:"rate_limit,omitempty"`
	RateLimitWindow string `json:"rate_limit_window,omitempty"`
	// RetainCancelled is a pointer so an omitted field means the default
	// (true) rather than an explicit false.
	RetainCancelled *bool `json:"retain_cancelled,omitempty"`
}

// RetainCancelledOrDefault resolves the retention tri-state.
func (r RemindersConfig) RetainCancelledOrDefault() bool {
	if r.RetainCancelled == nil {
		return true
	}
	return *r.RetainCancelled
}

type NotifierConfig struct {
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}
