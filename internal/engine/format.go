package engine

import (
	"strings"

	"remindbot/internal/reminder"
)

// formatFire renders the notification text for one occurrence: the
// mention list, then the payload.
func formatFire(r *reminder.Reminder, audience []string) string {
	var b strings.Builder
	for i, u := range audience {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(mention(u))
	}
	if b.Len() > 0 {
		b.WriteString(": ")
	}
	b.WriteString(r.Payload)
	return b.String()
}

func mention(user string) string {
	if user == reminder.RoomMention || strings.HasPrefix(user, "@") {
		return user
	}
	return "@" + user
}
