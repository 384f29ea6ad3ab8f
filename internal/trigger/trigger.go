// Package trigger turns raw reminder text into a normalized Trigger:
// an absolute instant, a crontab spec, a fixed repeat interval, or nothing
// at all for agenda items. Parsing is locale-sensitive; results are
// anchored in the user's timezone and normalized to UTC.
package trigger

import (
	"fmt"
	"time"
)

// Kind discriminates the trigger variants.
type Kind string

const (
	// KindNone marks agenda items; they never enter the timer queue.
	KindNone Kind = "none"
	// KindAt is a one-off absolute instant (stored in UTC).
	KindAt Kind = "at"
	// KindCron is a recurring crontab spec, evaluated in the creator's
	// timezone at fire time.
	KindCron Kind = "cron"
	// KindEvery is a recurring fixed interval, re-anchored on each fire.
	KindEvery Kind = "every"
)

// Trigger describes when a reminder fires. Immutable once created;
// rescheduling replaces the whole value.
type Trigger struct {
	Kind  Kind
	At    time.Time     // KindAt
	Spec  string        // KindCron, normalized 5-field form
	Every time.Duration // KindEvery
}

// None is the agenda trigger.
func None() Trigger { return Trigger{Kind: KindNone} }

// At builds a one-off trigger for the given instant.
func At(t time.Time) Trigger { return Trigger{Kind: KindAt, At: t.UTC()} }

func (t Trigger) Recurring() bool { return t.Kind == KindCron || t.Kind == KindEvery }

// NextAfter computes the next fire instant strictly after ref, in UTC.
// ok is false when the trigger yields no further occurrence (agenda items,
// exhausted one-offs, corrupted specs).
func (t Trigger) NextAfter(ref time.Time, loc *time.Location) (time.Time, bool) {
	switch t.Kind {
	case KindAt:
		if t.At.After(ref) {
			return t.At, true
		}
		return time.Time{}, false
	case KindCron:
		cs, err := ParseCronSpec(t.Spec)
		if err != nil {
			return time.Time{}, false
		}
		return cs.NextAfter(ref, loc).UTC(), true
	case KindEvery:
		if t.Every <= 0 {
			return time.Time{}, false
		}
		return ref.Add(t.Every).UTC(), true
	default:
		return time.Time{}, false
	}
}

// Describe renders the trigger for confirmations and listings.
func (t Trigger) Describe(loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	switch t.Kind {
	case KindAt:
		return "at " + t.At.In(loc).Format("15:04 on Monday, Jan 2 2006")
	case KindCron:
		return "on schedule `" + t.Spec + "`"
	case KindEvery:
		return "every " + t.Every.String()
	default:
		return "agenda"
	}
}

func (t Trigger) String() string {
	switch t.Kind {
	case KindAt:
		return fmt.Sprintf("at(%s)", t.At.Format(time.RFC3339))
	case KindCron:
		return fmt.Sprintf("cron(%s)", t.Spec)
	case KindEvery:
		return fmt.Sprintf("every(%s)", t.Every)
	default:
		return "none"
	}
}
