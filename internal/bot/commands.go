package bot

import (
	"context"
	"strings"

	"remindbot/internal/engine"
	"remindbot/internal/reminder"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

func (r *Router) register() {
	r.add(&command{
		route:       "remind",
		aliases:     []string{"remindme"},
		usage:       "/remind <when>; <text> | /remind every <schedule>; <text> | /remind cron <spec>; <text>",
		description: "create a reminder for yourself (and anyone who reacts to it)",
		handle:      r.remind,
	})
	r.add(&command{
		route:       "remindroom",
		aliases:     []string{"remindall", "remindeveryone"},
		usage:       "/remindroom <when>; <text>",
		description: "create a reminder that pings the whole room",
		handle: func(ctx context.Context, req *request) error {
			return r.create(ctx, req, reminder.AudienceRoom)
		},
	})
	r.add(&command{
		route:       "agenda",
		usage:       "/agenda <text>",
		description: "add an agenda item: listed, never fires",
		handle:      r.agenda,
	})
	r.add(&command{
		route:       "list",
		aliases:     []string{"reminders"},
		usage:       "/list [all|my|subscribed]",
		description: "list this room's reminders and agenda items",
		handle:      r.list,
	})
	r.add(&command{
		route:       "cancel",
		aliases:     []string{"delete", "del"},
		usage:       "/cancel <id or text prefix>",
		description: "cancel a reminder by ID or unique text prefix",
		handle:      r.cancel,
	})
	r.add(&command{
		route:       "tz",
		aliases:     []string{"timezone"},
		usage:       "/tz <IANA zone, e.g. Europe/Berlin>",
		description: "set your timezone for dates and schedules",
		handle:      r.timezone,
	})
	r.add(&command{
		route:       "locale",
		usage:       "/locale <code>",
		description: "set the language your dates are parsed in",
		handle:      r.locale,
	})
	r.add(&command{
		route:       "help",
		aliases:     []string{"start"},
		usage:       "/help",
		description: "show this help",
		handle:      r.help,
	})
}

// remind also accepts the sub-command form (/remind list, /remind cancel
// ...) and, as a reply to a confirmation or fired notification, a new
// date to reschedule it.
func (r *Router) remind(ctx context.Context, req *request) error {
	m := req.msg
	if m.ReplyTo != nil {
		rem, err := r.eng.Reschedule(ctx, m.Sender, m.ReplyTo.String(), req.argText())
		if err != nil {
			return err
		}
		loc := r.eng.Preferences(ctx, m.Sender).Location()
		r.replyTo(ctx, m, "Rescheduled "+rem.ID+": "+rem.Trigger.Describe(loc)+".")
		return nil
	}

	audience := reminder.AudienceCreator
	if len(req.args) > 0 {
		sub := strings.ToLower(req.args[0])
		rest := &request{msg: m, args: req.args[1:]}
		switch sub {
		case "room", "everyone":
			audience = reminder.AudienceRoom
			req = rest
		case "list":
			return r.list(ctx, rest)
		case "cancel", "delete", "del":
			return r.cancel(ctx, rest)
		case "tz", "timezone":
			return r.timezone(ctx, rest)
		case "locale":
			return r.locale(ctx, rest)
		case "help":
			return r.help(ctx, rest)
		}
	}
	return r.create(ctx, req, audience)
}

func (r *Router) create(ctx context.Context, req *request, audience reminder.Audience) error {
	m := req.msg
	rem, err := r.eng.Create(ctx, engine.CreateRequest{
		Room:     m.Room,
		Creator:  m.Sender,
		Text:     req.argText(),
		Audience: audience,
	})
	if err != nil {
		return err
	}
	loc := r.eng.Preferences(ctx, m.Sender).Location()
	ref := r.replyTo(ctx, m, renderCreated(rem, loc))
	r.bindSource(ctx, rem.ID, ref)
	return nil
}

func (r *Router) agenda(ctx context.Context, req *request) error {
	m := req.msg
	// "/agenda room ..." is accepted for symmetry; agenda items never
	// fire, so the token only gets stripped.
	if len(req.args) > 0 && strings.EqualFold(req.args[0], "room") {
		req = &request{msg: m, args: req.args[1:]}
	}
	rem, err := r.eng.Create(ctx, engine.CreateRequest{
		Room:    m.Room,
		Creator: m.Sender,
		Text:    req.argText(),
		Agenda:  true,
	})
	if err != nil {
		return err
	}
	ref := r.replyTo(ctx, m, "Noted "+rem.ID+": "+rem.Payload)
	r.bindSource(ctx, rem.ID, ref)
	return nil
}

// bindSource anchors reactions and replies to the confirmation message.
func (r *Router) bindSource(ctx context.Context, id string, ref transport.MessageRef) {
	if ref.IsZero() {
		return
	}
	if err := r.eng.BindSource(ctx, id, ref.String()); err != nil {
		r.log.Warn("bind source ref", logx.String("id", id), logx.Err(err))
	}
}

func (r *Router) list(ctx context.Context, req *request) error {
	m := req.msg
	scope := engine.ScopeAll
	if len(req.args) > 0 {
		switch strings.ToLower(req.args[0]) {
		case "all":
		case "my", "mine":
			scope = engine.ScopeMine
		case "subscribed", "subs":
			scope = engine.ScopeSubscribed
		default:
			r.replyTo(ctx, m, "Usage: "+r.routes["list"].usage)
			return nil
		}
	}
	rems, err := r.eng.List(ctx, m.Room, m.Sender, scope)
	if err != nil {
		return err
	}
	loc := r.eng.Preferences(ctx, m.Sender).Location()
	r.replyTo(ctx, m, renderList(rems, loc))
	return nil
}

func (r *Router) cancel(ctx context.Context, req *request) error {
	m := req.msg
	if len(req.args) == 0 {
		r.replyTo(ctx, m, "Usage: "+r.routes["cancel"].usage)
		return nil
	}
	rem, err := r.eng.Cancel(ctx, m.Room, m.Sender, req.argText())
	if err != nil {
		return err
	}
	r.replyTo(ctx, m, "Cancelled "+rem.ID+": "+rem.Payload)
	return nil
}

func (r *Router) timezone(ctx context.Context, req *request) error {
	m := req.msg
	if len(req.args) == 0 {
		p := r.eng.Preferences(ctx, m.Sender)
		r.replyTo(ctx, m, "Your timezone is "+p.Timezone+". "+r.routes["tz"].usage)
		return nil
	}
	if err := r.eng.SetTimezone(ctx, m.Sender, req.args[0]); err != nil {
		return err
	}
	r.replyTo(ctx, m, "Timezone set to "+req.args[0]+".")
	return nil
}

func (r *Router) locale(ctx context.Context, req *request) error {
	m := req.msg
	if len(req.args) == 0 {
		p := r.eng.Preferences(ctx, m.Sender)
		r.replyTo(ctx, m, "Your locale is "+p.Locale+". "+r.routes["locale"].usage)
		return nil
	}
	if err := r.eng.SetLocale(ctx, m.Sender, req.args[0]); err != nil {
		return err
	}
	r.replyTo(ctx, m, "Locale set to "+strings.ToLower(req.args[0])+".")
	return nil
}

func (r *Router) help(ctx context.Context, req *request) error {
	var b strings.Builder
	b.WriteString("I keep reminders and agenda items for this room.\n\n")
	for _, c := range r.order {
		b.WriteString(c.usage)
		b.WriteString("\n  ")
		b.WriteString(c.description)
		b.WriteString("\n")
	}
	b.WriteString("\nReply to a reminder confirmation with a new date to reschedule it,")
	b.WriteString(" or with \"delete\" to remove it. React to a confirmation to get")
	b.WriteString(" pinged when it fires.")
	r.replyTo(ctx, req.msg, b.String())
	return nil
}
