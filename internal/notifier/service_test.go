package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []string
	failures int
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                           { return nil }

func (f *fakeAdapter) SendText(_ context.Context, room, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return transport.MessageRef{}, errors.New("flood control")
	}
	f.sent = append(f.sent, room+": "+text)
	return transport.MessageRef{Room: room, ID: "1"}, nil
}

func (f *fakeAdapter) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestNotifyDelivers(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s := New(Config{Workers: 1, RatePerSec: 1000}, ad, logx.Nop(), nil)
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	if err := s.Notify(ctx, transport.Notification{Room: "room1", Text: "buy milk"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	waitFor(t, func() bool { return ad.sentCount() == 1 })
}

func TestNotifyRetries(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{failures: 2}
	s := New(Config{Workers: 1, RatePerSec: 1000, RetryMax: 3, RetryBase: time.Millisecond}, ad, logx.Nop(), nil)
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	if err := s.Notify(ctx, transport.Notification{Room: "room1", Text: "buy milk"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	waitFor(t, func() bool { return ad.sentCount() == 1 })
}

func TestNotifyQueueFull(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s := New(Config{Workers: 1, QueueSize: 1, RatePerSec: 1}, ad, logx.Nop(), nil)
	// Not started: workers are not draining, so the queue fills.
	s.mu.Lock()
	s.queue = make(chan transport.Notification, 1)
	s.accepting = true
	s.mu.Unlock()

	ctx := context.Background()
	if err := s.Notify(ctx, transport.Notification{Room: "r", Text: "a"}); err != nil {
		t.Fatalf("first notify: %v", err)
	}
	if err := s.Notify(ctx, transport.Notification{Room: "r", Text: "b"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}

func TestNotifyAfterStop(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s := New(Config{Workers: 1}, ad, logx.Nop(), nil)
	ctx := context.Background()
	s.Start(ctx)
	s.Stop(ctx)

	if err := s.Notify(ctx, transport.Notification{Room: "r", Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}
