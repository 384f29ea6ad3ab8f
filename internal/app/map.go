package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/engine"
	"remindbot/internal/notifier"
	"remindbot/internal/storage"
	"remindbot/internal/trigger"
	logx "remindbot/pkg/logx"
)

// The mapping helpers double as validation: every one of them runs inside
// the config validator so a bad hot-reload never reaches a component.

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			Room:       cfg.Logging.Chat.Room,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	switch driver {
	case "", "memory", "sqlite", "sqlite3":
	default:
		return storage.Config{}, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	r := cfg.Reminders
	if tz := strings.TrimSpace(r.DefaultTimezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return engine.Config{}, fmt.Errorf("reminders.default_timezone: invalid %q: %w", tz, err)
		}
	}
	if lc := strings.TrimSpace(r.DefaultLocale); lc != "" && !trigger.SupportedLocale(lc) {
		return engine.Config{}, fmt.Errorf("reminders.default_locale: unsupported %q (known: %s)",
			lc, strings.Join(trigger.Locales(), ", "))
	}
	if r.RateLimit < 0 {
		return engine.Config{}, fmt.Errorf("reminders.rate_limit must be >= 0")
	}
	window, err := config.ParseDurationField("reminders.rate_limit_window", r.RateLimitWindow)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		DefaultTimezone: r.DefaultTimezone,
		DefaultLocale:   r.DefaultLocale,
		RateLimit:       r.RateLimit,
		RateWindow:      window,
		RetainCancelled: r.RetainCancelledOrDefault(),
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	for name, v := range map[string]int{
		"notifier.workers":      n.Workers,
		"notifier.queue_size":   n.QueueSize,
		"notifier.rate_per_sec": n.RatePerSec,
		"notifier.retry_max":    n.RetryMax,
	} {
		if v < 0 {
			return notifier.Config{}, fmt.Errorf("%s must be >= 0", name)
		}
	}
	base, err := config.ParseDurationField("notifier.retry_base", n.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Workers:       n.Workers,
		QueueSize:     n.QueueSize,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
	}, nil
}

// telegramToken expands ${VAR} references so the token can live in the
// environment instead of the config file.
func telegramToken(cfg *config.Config) string {
	return strings.TrimSpace(os.ExpandEnv(cfg.Telegram.Token))
}

func validate(cfg *config.Config) error {
	if telegramToken(cfg) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	return nil
}
