// Package scheduler owns the timer queue. It holds one armed occurrence
// per active reminder, sleeps until the earliest one, performs the store
// state transition exactly once and re-arms recurring reminders.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

// FireEvent describes one occurrence handed to the notify callback. The
// store transition has already been committed when the callback runs.
type FireEvent struct {
	Reminder *reminder.Reminder
	Audience []string
	At       time.Time
}

// FireFunc receives fire events outside the scheduler lock.
type FireFunc func(ctx context.Context, ev FireEvent)

// LocateFunc resolves the timezone recurring triggers are evaluated in,
// keyed by the reminder's creator.
type LocateFunc func(ctx context.Context, user string) *time.Location

type Scheduler struct {
	store storage.Store
	clk   clock.Clock
	log   logx.Logger

	onFire FireFunc
	locate LocateFunc

	mu    sync.Mutex
	queue entryHeap
	seq   uint64

	wake   chan struct{}
	stopCh chan struct{}
	done   chan struct{}
}

func New(store storage.Store, clk clock.Clock, log logx.Logger) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		store: store,
		clk:   clk,
		log:   log,
		wake:  make(chan struct{}, 1),
	}
}

// OnFire registers the notify callback. Must be called before Start.
func (s *Scheduler) OnFire(fn FireFunc) { s.onFire = fn }

// Locate registers the timezone resolver. Must be called before Start.
// Without one, recurring triggers are evaluated in UTC.
func (s *Scheduler) Locate(fn LocateFunc) { s.locate = fn }

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(ctx, s.stopCh, s.done)
	s.log.Info("scheduler started", logx.Int("armed", len(s.queue)))
}

func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh, done := s.stopCh, s.done
	s.stopCh = nil
	s.mu.Unlock()

	close(stopCh)
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// Arm queues an occurrence. createdAt breaks ties between reminders due at
// the same instant. Arming with a zero time is a no-op (agenda items).
func (s *Scheduler) Arm(id string, at, createdAt time.Time) {
	if at.IsZero() {
		return
	}
	s.mu.Lock()
	s.seq++
	heap.Push(&s.queue, entry{at: at, createdAt: createdAt, seq: s.seq, id: id})
	s.mu.Unlock()
	s.kick()
}

// Cancel removes every queued occurrence of the reminder. The store state
// is the caller's business; a fire racing with Cancel is serialized by the
// scheduler lock, so after Cancel returns no further event is dispatched.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	kept := s.queue[:0]
	for _, e := range s.queue {
		if e.id != id {
			kept = append(kept, e)
		}
	}
	s.queue = kept
	heap.Init(&s.queue)
	s.mu.Unlock()
	s.kick()
}

// Armed reports the number of queued occurrences.
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		for _, ev := range s.fireDue(ctx) {
			if s.onFire != nil {
				s.onFire(ctx, ev)
			}
		}

		s.mu.Lock()
		var timer *clock.Timer
		var timerC <-chan time.Time
		if len(s.queue) > 0 {
			d := s.queue[0].at.Sub(s.clk.Now())
			if d < 0 {
				d = 0
			}
			timer = s.clk.Timer(d)
			timerC = timer.C
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-timerC:
		}
	}
}

// fireDue pops and transitions every occurrence due at the current clock
// reading. Store writes happen under the lock so Cancel/Reschedule cannot
// interleave; callbacks run after the lock is released.
func (s *Scheduler) fireDue(ctx context.Context) []FireEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	var out []FireEvent
	for len(s.queue) > 0 && !s.queue[0].at.After(now) {
		e := heap.Pop(&s.queue).(entry)
		if ev, ok := s.fireLocked(ctx, e, now); ok {
			out = append(out, ev)
		}
	}
	return out
}

func (s *Scheduler) fireLocked(ctx context.Context, e entry, now time.Time) (FireEvent, bool) {
	r, err := s.store.GetReminder(ctx, e.id)
	if err != nil {
		if !errors.Is(err, storage.ErrNoReminder) {
			s.log.Error("load due reminder", logx.String("id", e.id), logx.Err(err))
		}
		return FireEvent{}, false
	}
	// Stale queue entry: the reminder was cancelled or rescheduled after
	// this occurrence was armed.
	if r.State != reminder.StatePending || !r.NextFireAt.Equal(e.at) {
		return FireEvent{}, false
	}

	r.LastFiredAt = now
	r.FireCount++

	if r.Trigger.Recurring() {
		loc := time.UTC
		if s.locate != nil {
			loc = s.locate(ctx, r.Creator)
		}
		if next, ok := r.Trigger.NextAfter(now, loc); ok {
			r.NextFireAt = next
			s.seq++
			heap.Push(&s.queue, entry{at: next, createdAt: r.CreatedAt, seq: s.seq, id: r.ID})
		} else {
			r.State = reminder.StateCompleted
			r.NextFireAt = time.Time{}
		}
	} else {
		// One-offs park in fired until delivery is confirmed.
		r.State = reminder.StateFired
		r.NextFireAt = time.Time{}
	}

	if err := s.store.UpdateReminder(ctx, r); err != nil {
		s.log.Error("persist fire transition", logx.String("id", r.ID), logx.Err(err))
		return FireEvent{}, false
	}
	return FireEvent{Reminder: r, Audience: ResolveAudience(r), At: e.at}, true
}

// ResolveAudience expands a reminder's audience into the recipient set,
// deduplicated and sorted. A subscribers-only reminder with nobody
// subscribed falls back to the creator so the fire is never silent.
func ResolveAudience(r *reminder.Reminder) []string {
	switch r.Audience {
	case reminder.AudienceRoom:
		return []string{reminder.RoomMention}
	case reminder.AudienceSubscribers:
		if len(r.Subscribers) == 0 {
			return []string{r.Creator}
		}
		return dedupSorted(r.Subscribers)
	default:
		return dedupSorted(append([]string{r.Creator}, r.Subscribers...))
	}
}

func dedupSorted(users []string) []string {
	seen := make(map[string]struct{}, len(users))
	out := make([]string, 0, len(users))
	for _, u := range users {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
