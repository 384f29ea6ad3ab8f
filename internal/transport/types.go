package transport

import (
	"context"
	"strings"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateReaction UpdateKind = "reaction"
)

// Update is a normalized inbound event from the chat platform.
type Update struct {
	Kind     UpdateKind
	Message  *Message
	Reaction *Reaction
}

type Message struct {
	Ref        MessageRef // reference to this message
	Room       string
	Sender     string
	SenderName string
	Text       string
	ReplyTo    *MessageRef // set when this message replies to another
	IsGroup    bool
}

// Reaction is a reaction added to or removed from a message.
type Reaction struct {
	Target MessageRef
	Room   string
	Sender string
	Emoji  string
	Added  bool
}

// MessageRef identifies a single message within a room.
type MessageRef struct {
	Room string
	ID   string
}

func (r MessageRef) IsZero() bool { return r.Room == "" && r.ID == "" }

func (r MessageRef) String() string {
	if r.IsZero() {
		return ""
	}
	return r.Room + "/" + r.ID
}

// ParseMessageRef parses the "room/id" form produced by MessageRef.String.
func ParseMessageRef(s string) (MessageRef, bool) {
	i := strings.LastIndexByte(s, '/')
	if i <= 0 || i == len(s)-1 {
		return MessageRef{}, false
	}
	return MessageRef{Room: s[:i], ID: s[i+1:]}, true
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	ReplyTo        *MessageRef
	Silent         bool
}

// Notification is an outbound message handed to the notifier pipeline.
// OnSent, when set, is invoked from the delivery worker with the ref of
// the sent message, so callers can anchor replies and reactions to it.
type Notification struct {
	Room    string
	Text    string
	Options *SendOptions
	OnSent  func(MessageRef)
}

// Adapter is the chat platform boundary. The engine never talks to the
// platform directly; it only sees Updates in and SendText out.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, room string, text string, opt *SendOptions) (MessageRef, error)
}
