// Package ratelimit implements a per-user sliding-window counter for
// reminder creation. A user may create at most Limit reminders within any
// Window; refusals do not consume quota.
package ratelimit

import (
	"sync"
	"time"
)

// Config bounds creation rate. Zero or negative Limit disables limiting.
type Config struct {
	Limit  int
	Window time.Duration
}

// Limiter tracks creation timestamps per user.
type Limiter struct {
	mu   sync.Mutex
	cfg  Config
	hits map[string][]time.Time
}

func New(cfg Config) *Limiter {
	return &Limiter{cfg: cfg, hits: make(map[string][]time.Time)}
}

// Allow records a creation attempt at now and reports whether it is within
// the window budget. A refused attempt is not recorded.
func (l *Limiter) Allow(user string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cfg.Limit <= 0 || l.cfg.Window <= 0 {
		return true
	}

	// Expire hits that slid out of the window. The boundary is inclusive:
	// a hit exactly Window old still counts.
	cutoff := now.Add(-l.cfg.Window)
	kept := l.hits[user][:0]
	for _, ts := range l.hits[user] {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.cfg.Limit {
		l.hits[user] = kept
		return false
	}
	l.hits[user] = append(kept, now)
	return true
}

// Config returns the active limits, for error messages.
func (l *Limiter) Config() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

// Apply swaps the limits at runtime. Existing windows are reinterpreted
// under the new config on the next Allow call.
func (l *Limiter) Apply(cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
}
