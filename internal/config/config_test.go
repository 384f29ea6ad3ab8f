package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "remindbot/pkg/logx"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  poll_timeout: 15s
logging:
  level: debug
  console: true
  chat:
    enabled: true
    room: "-100200300"
    min_level: warn
    rate_per_sec: 1
storage:
  driver: sqlite
  path: /tmp/remind.db
  busy_timeout: 5s
reminders:
  default_timezone: Europe/Berlin
  default_locale: en
  rate_limit: 10
  rate_limit_window: 1h
  retain_cancelled: false
notifier:
  workers: 4
  retry_base: 500ms
`

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return p
}

func TestDecodeStrictYAML(t *testing.T) {
	t.Parallel()

	cfg, err := decodeStrict("cfg.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.BusyTimeout != "5s" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Reminders.RateLimit != 10 {
		t.Fatalf("rate_limit = %d", cfg.Reminders.RateLimit)
	}
	if cfg.Reminders.RetainCancelledOrDefault() {
		t.Fatal("retain_cancelled: explicit false must win")
	}
	if cfg.Notifier.Workers != 4 {
		t.Fatalf("workers = %d", cfg.Notifier.Workers)
	}
}

func TestDecodeStrictRejectsUnknownField(t *testing.T) {
	t.Parallel()

	_, err := decodeStrict("cfg.yaml", []byte("telegram:\n  tokin: oops\n"))
	if err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("want unknown field error, got %v", err)
	}
}

func TestRetainCancelledDefault(t *testing.T) {
	t.Parallel()

	var r RemindersConfig
	if !r.RetainCancelledOrDefault() {
		t.Fatal("omitted retain_cancelled must default to true")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"500ms", 500 * time.Millisecond, false},
		{" 2h ", 2 * time.Hour, false},
		{"-1s", 0, true},
		{"soon", 0, true},
	}
	for _, tc := range tests {
		got, err := ParseDurationField("x", tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: want error", tc.raw)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: got %v, %v", tc.raw, got, err)
		}
	}

	if d, err := ParseDurationOrDefault("x", "", 3*time.Second); err != nil || d != 3*time.Second {
		t.Fatalf("default: got %v, %v", d, err)
	}
}

func TestManagerLoadAndValidate(t *testing.T) {
	t.Parallel()

	p := writeTemp(t, "cfg.yaml", sampleYAML)
	m := NewManager(p, logx.Nop())
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get must return the committed snapshot")
	}

	m2 := NewManager(p, logx.Nop())
	m2.SetValidator(func(*Config) error { return os.ErrInvalid })
	if _, err := m2.Load(); err == nil {
		t.Fatal("validator rejection must fail Load")
	}
	if m2.Get() != nil {
		t.Fatal("rejected config must not be committed")
	}
}

func TestManagerSubscribe(t *testing.T) {
	t.Parallel()

	p := writeTemp(t, "cfg.yaml", sampleYAML)
	m := NewManager(p, logx.Nop())
	ch, cancel := m.Subscribe()
	defer cancel()

	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	select {
	case got := <-ch:
		if got.Telegram.Token != "123:abc" {
			t.Fatalf("unexpected snapshot: %+v", got.Telegram)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the committed config")
	}
}
