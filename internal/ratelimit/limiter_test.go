package ratelimit

import (
	"testing"
	"time"
)

func TestAllowSlidingWindow(t *testing.T) {
	t.Parallel()
	l := New(Config{Limit: 3, Window: time.Minute})
	start := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if !l.Allow("alice", start.Add(time.Duration(i)*time.Second)) {
			t.Fatalf("creation %d refused within budget", i+1)
		}
	}
	if l.Allow("alice", start.Add(3*time.Second)) {
		t.Fatal("4th creation inside the window must be refused")
	}

	// Inclusive boundary: at exactly +60s the first hit is Window old and
	// still counts, so the window is still full.
	if l.Allow("alice", start.Add(60*time.Second)) {
		t.Fatal("hit exactly Window old must still occupy its slot")
	}

	// The refusals consumed no quota: once the first hit slides out,
	// exactly one slot opens.
	if !l.Allow("alice", start.Add(60500*time.Millisecond)) {
		t.Fatal("creation after the first hit slid out must be allowed")
	}
	if l.Allow("alice", start.Add(60700*time.Millisecond)) {
		t.Fatal("window holds 3 live hits again")
	}
}

func TestAllowPerUser(t *testing.T) {
	t.Parallel()
	l := New(Config{Limit: 1, Window: time.Minute})
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	if !l.Allow("alice", now) {
		t.Fatal("alice first creation refused")
	}
	if !l.Allow("bob", now) {
		t.Fatal("bob must have a separate window")
	}
	if l.Allow("alice", now.Add(time.Second)) {
		t.Fatal("alice over budget")
	}
}

func TestAllowDisabled(t *testing.T) {
	t.Parallel()
	l := New(Config{})
	now := time.Now()
	for i := 0; i < 100; i++ {
		if !l.Allow("alice", now) {
			t.Fatal("disabled limiter must always allow")
		}
	}
}

func TestApply(t *testing.T) {
	t.Parallel()
	l := New(Config{Limit: 1, Window: time.Minute})
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	if !l.Allow("alice", now) {
		t.Fatal("first creation refused")
	}
	if l.Allow("alice", now.Add(time.Second)) {
		t.Fatal("over budget under old config")
	}

	l.Apply(Config{Limit: 5, Window: time.Minute})
	if !l.Allow("alice", now.Add(2*time.Second)) {
		t.Fatal("raised limit must open the window")
	}
	if got := l.Config().Limit; got != 5 {
		t.Fatalf("Config().Limit = %d, want 5", got)
	}
}
