// Package bot turns chat updates into engine operations: slash commands,
// reply-based reschedule and deletion, and reaction subscriptions.
package bot

import (
	"context"
	"strings"

	"remindbot/internal/engine"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type request struct {
	msg  *transport.Message
	args []string
}

// argText is the raw argument string with inner whitespace preserved.
func (r *request) argText() string { return strings.Join(r.args, " ") }

type command struct {
	route       string
	aliases     []string
	usage       string
	description string
	handle      func(ctx context.Context, req *request) error
}

// Router dispatches inbound transport updates.
type Router struct {
	eng     *engine.Service
	adapter transport.Adapter
	log     logx.Logger
	botName string

	routes map[string]*command
	order  []*command
}

func NewRouter(eng *engine.Service, adapter transport.Adapter, botName string, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		eng:     eng,
		adapter: adapter,
		log:     log,
		botName: strings.TrimPrefix(botName, "@"),
		routes:  make(map[string]*command),
	}
	r.register()
	return r
}

func (r *Router) add(c *command) {
	r.order = append(r.order, c)
	r.routes[c.route] = c
	for _, a := range c.aliases {
		r.routes[a] = c
	}
}

// Run consumes updates until the channel closes or ctx is done.
func (r *Router) Run(ctx context.Context, updates <-chan transport.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			r.dispatch(ctx, up)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, up transport.Update) {
	switch up.Kind {
	case transport.UpdateMessage:
		if up.Message != nil {
			r.handleMessage(ctx, up.Message)
		}
	case transport.UpdateReaction:
		if up.Reaction != nil {
			r.handleReaction(ctx, up.Reaction)
		}
	}
}

func (r *Router) handleMessage(ctx context.Context, m *transport.Message) {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return
	}
	if strings.HasPrefix(text, "/") {
		r.handleCommand(ctx, m, text[1:])
		return
	}
	// A bare reply to one of our messages reschedules or deletes the
	// reminder anchored there.
	if m.ReplyTo != nil {
		r.handleReply(ctx, m, *m.ReplyTo, text)
	}
}

func (r *Router) handleCommand(ctx context.Context, m *transport.Message, body string) {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return
	}
	name := strings.ToLower(fields[0])
	// Group chats address commands as /cmd@botname.
	if i := strings.IndexByte(name, '@'); i >= 0 {
		if r.botName != "" && !strings.EqualFold(name[i+1:], r.botName) {
			return
		}
		name = name[:i]
	}
	cmd, ok := r.routes[name]
	if !ok {
		return
	}

	req := &request{msg: m, args: fields[1:]}
	if err := cmd.handle(ctx, req); err != nil {
		r.replyTo(ctx, m, renderError(err))
	}
}

func (r *Router) handleReply(ctx context.Context, m *transport.Message, target transport.MessageRef, text string) {
	sourceRef := target.String()
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "delete", "cancel", "remove":
		rem, err := r.eng.CancelBySource(ctx, m.Sender, sourceRef)
		if err != nil {
			r.logReplyError(m, err)
			return
		}
		r.replyTo(ctx, m, "Deleted reminder "+rem.ID+".")
	default:
		rem, err := r.eng.Reschedule(ctx, m.Sender, sourceRef, text)
		if err != nil {
			r.logReplyError(m, err)
			return
		}
		loc := r.eng.Preferences(ctx, m.Sender).Location()
		r.replyTo(ctx, m, "Rescheduled "+rem.ID+": "+rem.Trigger.Describe(loc)+".")
	}
}

// Replies to arbitrary messages are common chatter; only replies that
// actually reference a reminder get a response, the rest only a trace.
func (r *Router) logReplyError(m *transport.Message, err error) {
	r.log.Debug("reply ignored",
		logx.String("room", m.Room), logx.String("from", m.Sender), logx.Err(err))
}

func (r *Router) handleReaction(ctx context.Context, re *transport.Reaction) {
	sourceRef := re.Target.String()
	var err error
	if re.Added {
		_, _, err = r.eng.Subscribe(ctx, sourceRef, re.Sender)
	} else {
		_, _, err = r.eng.Unsubscribe(ctx, sourceRef, re.Sender)
	}
	if err != nil {
		// Most reactions target ordinary messages; not an error worth noise.
		r.log.Debug("reaction ignored",
			logx.String("room", re.Room), logx.String("from", re.Sender), logx.Err(err))
	}
}

func (r *Router) replyTo(ctx context.Context, m *transport.Message, text string) transport.MessageRef {
	ref, err := r.adapter.SendText(ctx, m.Room, text, &transport.SendOptions{ReplyTo: &m.Ref})
	if err != nil {
		r.log.Warn("send reply", logx.String("room", m.Room), logx.Err(err))
		return transport.MessageRef{}
	}
	return ref
}
