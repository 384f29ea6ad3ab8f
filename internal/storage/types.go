package storage

import (
	"context"
	"errors"
	"time"

	"remindbot/internal/reminder"
)

var (
	// ErrIDExists signals a short-ID collision on create; callers draw a
	// fresh ID and retry.
	ErrIDExists = errors.New("reminder id already exists")

	// ErrNoReminder signals a lookup, update or delete against an ID the
	// store does not hold.
	ErrNoReminder = errors.New("no such reminder")
)

// Config configures storage.
//
// If Driver is empty, the in-memory store is used.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Filter narrows ListReminders. Zero fields match everything.
type Filter struct {
	Room       string
	Creator    string
	Subscriber string
	SourceRef  string
	States     []reminder.State
}

func (f Filter) matches(r *reminder.Reminder) bool {
	if f.Room != "" && r.Room != f.Room {
		return false
	}
	if f.SourceRef != "" && r.SourceRef != f.SourceRef {
		return false
	}
	if f.Creator != "" && r.Creator != f.Creator {
		return false
	}
	if f.Subscriber != "" && !r.Subscribed(f.Subscriber) {
		return false
	}
	if len(f.States) > 0 {
		ok := false
		for _, s := range f.States {
			if r.State == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// AuditEntry records one lifecycle event for the audit trail.
type AuditEntry struct {
	At         time.Time
	Actor      string
	Room       string
	Action     string
	ReminderID string
	Detail     string
}

// Store is the persistence API used by the scheduler and the engine.
//
// Implementations hand out deep copies: mutating a returned Reminder never
// changes stored state until it is written back via UpdateReminder.
// ListReminders returns reminders ordered by creation time, then ID, so
// listings and prefix matching are deterministic.
type Store interface {
	CreateReminder(ctx context.Context, r *reminder.Reminder) error
	GetReminder(ctx context.Context, id string) (*reminder.Reminder, error)
	UpdateReminder(ctx context.Context, r *reminder.Reminder) error
	DeleteReminder(ctx context.Context, id string) error
	ListReminders(ctx context.Context, f Filter) ([]*reminder.Reminder, error)

	UserPreference(ctx context.Context, user string) (reminder.UserPreference, bool, error)
	SetUserPreference(ctx context.Context, p reminder.UserPreference) error

	AppendAudit(ctx context.Context, e AuditEntry) error

	Close() error
}
