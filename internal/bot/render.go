package bot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/trigger"
)

func renderCreated(r *reminder.Reminder, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reminder %s set %s", r.ID, r.Trigger.Describe(loc))
	if r.Trigger.Recurring() && !r.NextFireAt.IsZero() {
		fmt.Fprintf(&b, ", next %s", r.NextFireAt.In(loc).Format("15:04 on Monday, Jan 2"))
	}
	if r.Audience == reminder.AudienceRoom {
		b.WriteString(" (pings the whole room)")
	}
	b.WriteString(": ")
	b.WriteString(r.Payload)
	return b.String()
}

func renderList(rems []*reminder.Reminder, loc *time.Location) string {
	if len(rems) == 0 {
		return "Nothing scheduled here."
	}
	var b strings.Builder
	var agenda []*reminder.Reminder
	for _, r := range rems {
		if !r.Scheduled() {
			agenda = append(agenda, r)
			continue
		}
		fmt.Fprintf(&b, "%s  %s — %s", r.ID, r.Payload, r.Trigger.Describe(loc))
		if r.Trigger.Recurring() && !r.NextFireAt.IsZero() {
			fmt.Fprintf(&b, ", next %s", r.NextFireAt.In(loc).Format("Mon 15:04"))
		}
		if n := len(r.Subscribers); n > 0 {
			fmt.Fprintf(&b, " (+%d subscribed)", n)
		}
		b.WriteByte('\n')
	}
	if len(agenda) > 0 {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("Agenda:\n")
		for _, r := range agenda {
			fmt.Fprintf(&b, "%s  %s\n", r.ID, r.Payload)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderError turns engine errors into chat-sized replies. Unexpected
// errors stay generic so internals never leak into the room.
func renderError(err error) string {
	var parseErr *trigger.ParseError
	if errors.As(err, &parseErr) {
		return "I couldn't make sense of that: " + parseErr.Reason + "."
	}
	var rateErr *reminder.RateLimitError
	if errors.As(err, &rateErr) {
		return fmt.Sprintf("Slow down: at most %d reminders per %s.", rateErr.Limit, rateErr.Window)
	}
	var notFound *reminder.NotFoundError
	if errors.As(err, &notFound) {
		return fmt.Sprintf("No reminder matches %q.", notFound.Ref)
	}
	var ambiguous *reminder.AmbiguousMatchError
	if errors.As(err, &ambiguous) {
		var b strings.Builder
		fmt.Fprintf(&b, "%q matches several reminders, use an ID:\n", ambiguous.Prefix)
		for _, r := range ambiguous.Candidates {
			fmt.Fprintf(&b, "%s  %s\n", r.ID, r.Payload)
		}
		return strings.TrimRight(b.String(), "\n")
	}
	switch {
	case errors.Is(err, reminder.ErrInvalidTimezone):
		return "That's not a timezone I know. Use an IANA name like Europe/Berlin."
	case errors.Is(err, reminder.ErrInvalidLocale):
		return "Unsupported locale. I speak: " + strings.Join(trigger.Locales(), ", ") + "."
	}
	return "Something went wrong, try again."
}
