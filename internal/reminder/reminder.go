// Package reminder holds the domain entities of the reminder engine:
// the Reminder itself, user preferences, short IDs and the error taxonomy
// shared by the store, the scheduler and the orchestrating service.
package reminder

import (
	"time"

	"remindbot/internal/trigger"
)

// State is the lifecycle state of a reminder.
//
// pending -> fired -> {completed | pending(next occurrence)}
// pending|fired -> cancelled (terminal)
type State string

const (
	StatePending   State = "pending"
	StateFired     State = "fired"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

// Audience selects who gets notified when a reminder fires.
type Audience string

const (
	AudienceCreator     Audience = "creator"
	AudienceRoom        Audience = "room"
	AudienceSubscribers Audience = "subscribers"
)

// RoomMention is the sentinel member used in a resolved audience set to
// address the whole room rather than a single user.
const RoomMention = "@room"

// Reminder is a scheduled (or agenda, i.e. never-firing) notification.
//
// The trigger is immutable after creation; a reschedule replaces the whole
// trigger while keeping ID and subscribers. Subscribers are owned by the
// subscription registry but persisted alongside the reminder.
type Reminder struct {
	ID       string
	Payload  string
	Creator  string
	Room     string
	Audience Audience
	Trigger  trigger.Trigger
	State    State

	Subscribers []string

	// SourceRef references the message that created the reminder
	// ("room/messageID"), used for reply-based cancel/reschedule and for
	// reaction-driven subscriptions.
	SourceRef string

	CreatedAt   time.Time
	LastFiredAt time.Time
	FireCount   int

	// NextFireAt is scheduler bookkeeping: the next occurrence the timer
	// queue holds (zero for agenda items and terminal states).
	NextFireAt time.Time
}

// Scheduled reports whether the reminder ever enters the timer queue.
// Agenda items never do.
func (r *Reminder) Scheduled() bool { return r.Trigger.Kind != trigger.KindNone }

// Active reports whether the reminder still awaits a fire.
func (r *Reminder) Active() bool {
	return r.State == StatePending || r.State == StateFired
}

// Subscribed reports whether user is in the subscriber set.
func (r *Reminder) Subscribed(user string) bool {
	for _, s := range r.Subscribers {
		if s == user {
			return true
		}
	}
	return false
}

// Clone returns a deep copy, so store implementations can hand out values
// without aliasing their internal state.
func (r *Reminder) Clone() *Reminder {
	cp := *r
	if r.Subscribers != nil {
		cp.Subscribers = append([]string(nil), r.Subscribers...)
	}
	return &cp
}

// UserPreference carries per-user time interpretation settings. Created
// lazily on first use, mutated only by explicit settings commands.
type UserPreference struct {
	User     string
	Timezone string
	Locale   string
}

// Location resolves the stored timezone, falling back to UTC.
func (p UserPreference) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
