// Package engine orchestrates the reminder lifecycle: creation with
// trigger parsing and rate limiting, listing, cancellation, reply-based
// rescheduling, reaction-driven subscriptions, user preferences and the
// fire path from scheduler to notifier.
package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"remindbot/internal/eventbus"
	"remindbot/internal/ratelimit"
	"remindbot/internal/reminder"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Config tunes the engine.
type Config struct {
	DefaultTimezone string
	DefaultLocale   string
	RateLimit       int
	RateWindow      time.Duration
	// RetainCancelled keeps cancelled reminders in the store for the audit
	// trail instead of deleting them.
	RetainCancelled bool
}

func (c Config) withDefaults() Config {
	if c.DefaultLocale == "" {
		c.DefaultLocale = "en"
	}
	if c.RateLimit == 0 {
		c.RateLimit = 10
	}
	if c.RateWindow == 0 {
		c.RateWindow = time.Hour
	}
	return c
}

// Notifier is the delivery seam; satisfied by notifier.Service.
type Notifier interface {
	Notify(ctx context.Context, n transport.Notification) error
}

// Service is the reminder engine. Safe for concurrent use.
type Service struct {
	store storage.Store
	sched *scheduler.Scheduler
	notif Notifier
	bus   eventbus.Bus
	clk   clock.Clock
	log   logx.Logger

	limiter *ratelimit.Limiter

	mu  sync.Mutex
	cfg Config
	rng *rand.Rand
}

func New(cfg Config, store storage.Store, sched *scheduler.Scheduler, notif Notifier,
	bus eventbus.Bus, clk clock.Clock, log logx.Logger) *Service {

	cfg = cfg.withDefaults()
	if clk == nil {
		clk = clock.New()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		store:   store,
		sched:   sched,
		notif:   notif,
		bus:     bus,
		clk:     clk,
		log:     log,
		cfg:     cfg,
		limiter: ratelimit.New(ratelimit.Config{Limit: cfg.RateLimit, Window: cfg.RateWindow}),
		rng:     rand.New(rand.NewSource(clk.Now().UnixNano())),
	}
	if sched != nil {
		sched.OnFire(s.handleFire)
		sched.Locate(s.locationFor)
	}
	return s
}

// Apply swaps runtime-tunable settings.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.limiter.Apply(ratelimit.Config{Limit: cfg.RateLimit, Window: cfg.RateWindow})
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return reminder.NewID(s.rng)
}

// Preferences returns the user's stored preferences with configured
// defaults filled in.
func (s *Service) Preferences(ctx context.Context, user string) reminder.UserPreference {
	p, ok, err := s.store.UserPreference(ctx, user)
	if err != nil {
		s.log.Warn("load user preference", logx.String("user", user), logx.Err(err))
	}
	if !ok {
		p = reminder.UserPreference{User: user}
	}
	cfg := s.config()
	if p.Timezone == "" {
		p.Timezone = cfg.DefaultTimezone
	}
	if p.Locale == "" {
		p.Locale = cfg.DefaultLocale
	}
	return p
}

func (s *Service) locationFor(ctx context.Context, user string) *time.Location {
	return s.Preferences(ctx, user).Location()
}

func (s *Service) publish(typ string, r *reminder.Reminder, actor, detail string) {
	if s.bus == nil {
		return
	}
	now := s.clk.Now()
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: eventbus.ReminderEvent{
		ID: r.ID, Room: r.Room, Actor: actor, Payload: r.Payload, Detail: detail, At: now,
	}})
}

func (s *Service) audit(ctx context.Context, actor string, r *reminder.Reminder, action, detail string) {
	err := s.store.AppendAudit(ctx, storage.AuditEntry{
		At:         s.clk.Now().UTC(),
		Actor:      actor,
		Room:       r.Room,
		Action:     action,
		ReminderID: r.ID,
		Detail:     detail,
	})
	if err != nil {
		s.log.Warn("append audit", logx.String("action", action), logx.Err(err))
	}
}
