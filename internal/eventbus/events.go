package eventbus

import "time"

// Reminder lifecycle event types.
const (
	TypeReminderCreated     = "reminder.created"
	TypeReminderFired       = "reminder.fired"
	TypeReminderCompleted   = "reminder.completed"
	TypeReminderCancelled   = "reminder.cancelled"
	TypeReminderRescheduled = "reminder.rescheduled"
	TypeSubscribed          = "reminder.subscribed"
	TypeUnsubscribed        = "reminder.unsubscribed"
)

// Notifier pipeline event types.
const (
	TypeNotifySent    = "notify.sent"
	TypeNotifyFailed  = "notify.failed"
	TypeNotifyDropped = "notify.dropped"
)

// ReminderEvent is the Data payload of reminder.* events.
type ReminderEvent struct {
	ID      string    `json:"id"`
	Room    string    `json:"room"`
	Actor   string    `json:"actor"`
	Payload string    `json:"payload,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// NotifyEvent is the Data payload of notify.* events.
type NotifyEvent struct {
	Room  string    `json:"room"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}
