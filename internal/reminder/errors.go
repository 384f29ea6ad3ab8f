package reminder

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidTimezone rejects a timezone string time.LoadLocation does
	// not know; the previous preference stays in place.
	ErrInvalidTimezone = errors.New("unknown timezone")

	// ErrInvalidLocale rejects an unsupported locale; the previous
	// preference stays in place.
	ErrInvalidLocale = errors.New("unknown locale")
)

// NotFoundError reports that a delete/reschedule target does not exist.
type NotFoundError struct {
	Ref string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no reminder matches %q", e.Ref)
}

// AmbiguousMatchError reports that a payload prefix matched more than one
// reminder. The engine never guesses; it hands the candidates back.
type AmbiguousMatchError struct {
	Prefix     string
	Candidates []*Reminder
}

func (e *AmbiguousMatchError) Error() string {
	ids := make([]string, len(e.Candidates))
	for i, r := range e.Candidates {
		ids[i] = r.ID
	}
	return fmt.Sprintf("%q matches %d reminders (%s)", e.Prefix, len(e.Candidates), strings.Join(ids, ", "))
}

// RateLimitError reports that a creation was refused by the sliding-window
// limiter. Nothing is persisted for the refused request.
type RateLimitError struct {
	User   string
	Limit  int
	Window time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit reached: %d reminders per %s", e.Limit, e.Window)
}
