package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/internal/trigger"
	logx "remindbot/pkg/logx"
)

// idRetries bounds the short-ID collision retry loop. The 32^4 keyspace
// makes even one retry rare until the store holds tens of thousands of
// reminders.
const idRetries = 10

// CreateRequest describes one creation command.
type CreateRequest struct {
	Room      string
	Creator   string
	Text      string
	Audience  reminder.Audience
	SourceRef string
	// Agenda items take Text verbatim and never fire.
	Agenda bool
}

// Create parses the trigger, applies the rate limit and persists and arms
// the reminder. Parse failures do not consume rate-limit quota.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*reminder.Reminder, error) {
	now := s.clk.Now().UTC()
	prefs := s.Preferences(ctx, req.Creator)
	loc := prefs.Location()

	trig := trigger.None()
	payload := strings.TrimSpace(req.Text)
	if !req.Agenda {
		res, err := trigger.Parse(req.Text, prefs.Locale, loc, now)
		if err != nil {
			return nil, err
		}
		trig, payload = res.Trigger, res.Payload
	}
	if payload == "" {
		return nil, &trigger.ParseError{Input: req.Text, Reason: "reminder text is empty"}
	}

	cfg := s.config()
	if !s.limiter.Allow(req.Creator, now) {
		return nil, &reminder.RateLimitError{User: req.Creator, Limit: cfg.RateLimit, Window: cfg.RateWindow}
	}

	audience := req.Audience
	if audience == "" {
		audience = reminder.AudienceCreator
	}

	r := &reminder.Reminder{
		Payload:   payload,
		Creator:   req.Creator,
		Room:      req.Room,
		Audience:  audience,
		Trigger:   trig,
		State:     reminder.StatePending,
		SourceRef: req.SourceRef,
		CreatedAt: now,
	}
	if next, ok := trig.NextAfter(now, loc); ok {
		r.NextFireAt = next
	}

	for attempt := 0; ; attempt++ {
		r.ID = s.newID()
		err := s.store.CreateReminder(ctx, r)
		if err == nil {
			break
		}
		if errors.Is(err, storage.ErrIDExists) && attempt < idRetries {
			continue
		}
		return nil, err
	}

	s.sched.Arm(r.ID, r.NextFireAt, r.CreatedAt)
	s.publish(eventbus.TypeReminderCreated, r, req.Creator, trig.String())
	s.audit(ctx, req.Creator, r, "created", trig.String())
	s.log.Info("reminder created",
		logx.String("id", r.ID), logx.String("room", r.Room),
		logx.String("trigger", trig.String()))
	return r, nil
}

// ListScope selects whose reminders List returns.
type ListScope string

const (
	ScopeAll        ListScope = "all"
	ScopeMine       ListScope = "mine"
	ScopeSubscribed ListScope = "subscribed"
)

// List returns the room's active reminders and agenda items in creation
// order.
func (s *Service) List(ctx context.Context, room, user string, scope ListScope) ([]*reminder.Reminder, error) {
	f := storage.Filter{
		Room:   room,
		States: []reminder.State{reminder.StatePending, reminder.StateFired},
	}
	switch scope {
	case ScopeMine:
		f.Creator = user
	case ScopeSubscribed:
		f.Subscriber = user
	}
	return s.store.ListReminders(ctx, f)
}

// Cancel resolves ref (exact ID first, then case-insensitive payload
// prefix) among the room's active reminders and cancels the unique match.
func (s *Service) Cancel(ctx context.Context, room, actor, ref string) (*reminder.Reminder, error) {
	r, err := s.resolve(ctx, room, ref)
	if err != nil {
		return nil, err
	}
	return s.cancel(ctx, actor, r)
}

// CancelBySource cancels the reminder created by the given message,
// used when a deletion command replies to the original.
func (s *Service) CancelBySource(ctx context.Context, actor, sourceRef string) (*reminder.Reminder, error) {
	r, err := s.findBySource(ctx, sourceRef)
	if err != nil {
		return nil, err
	}
	if !r.Active() {
		return nil, &reminder.NotFoundError{Ref: sourceRef}
	}
	return s.cancel(ctx, actor, r)
}

func (s *Service) cancel(ctx context.Context, actor string, r *reminder.Reminder) (*reminder.Reminder, error) {
	// Queue entry goes first so no fire can slip between the store write
	// and the disarm.
	s.sched.Cancel(r.ID)

	// A fire may have committed between resolving this copy and the
	// disarm; write back the freshest state, not the resolver's.
	fresh, err := s.store.GetReminder(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	r = fresh

	r.State = reminder.StateCancelled
	r.NextFireAt = time.Time{}
	if s.config().RetainCancelled {
		if err := s.store.UpdateReminder(ctx, r); err != nil {
			return nil, err
		}
	} else {
		if err := s.store.DeleteReminder(ctx, r.ID); err != nil {
			return nil, err
		}
	}

	s.publish(eventbus.TypeReminderCancelled, r, actor, "")
	s.audit(ctx, actor, r, "cancelled", "")
	s.log.Info("reminder cancelled", logx.String("id", r.ID), logx.String("by", actor))
	return r, nil
}

func (s *Service) resolve(ctx context.Context, room, ref string) (*reminder.Reminder, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, &reminder.NotFoundError{Ref: ref}
	}
	active, err := s.store.ListReminders(ctx, storage.Filter{
		Room:   room,
		States: []reminder.State{reminder.StatePending, reminder.StateFired},
	})
	if err != nil {
		return nil, err
	}

	for _, r := range active {
		if r.ID == ref {
			return r, nil
		}
	}

	prefix := strings.ToLower(ref)
	var hits []*reminder.Reminder
	for _, r := range active {
		if strings.HasPrefix(strings.ToLower(r.Payload), prefix) {
			hits = append(hits, r)
		}
	}
	switch len(hits) {
	case 0:
		return nil, &reminder.NotFoundError{Ref: ref}
	case 1:
		return hits[0], nil
	default:
		return nil, &reminder.AmbiguousMatchError{Prefix: ref, Candidates: hits}
	}
}

// Reschedule replaces the trigger of the reminder created by sourceRef.
// The payload and subscribers stay. Fired and completed reminders come
// back to pending; only cancellation is final.
func (s *Service) Reschedule(ctx context.Context, actor, sourceRef, text string) (*reminder.Reminder, error) {
	r, err := s.findBySource(ctx, sourceRef)
	if err != nil {
		return nil, err
	}
	if r.State == reminder.StateCancelled {
		return nil, &reminder.NotFoundError{Ref: sourceRef}
	}

	now := s.clk.Now().UTC()
	prefs := s.Preferences(ctx, actor)
	res, err := trigger.Parse(text, prefs.Locale, prefs.Location(), now)
	if err != nil {
		return nil, err
	}
	if res.Payload != "" {
		return nil, &trigger.ParseError{Input: text, Reason: "a reschedule takes only a date, time or schedule"}
	}
	next, ok := res.Trigger.NextAfter(now, prefs.Location())
	if !ok {
		return nil, &trigger.ParseError{Input: text, Reason: "schedule yields no future occurrence"}
	}

	s.sched.Cancel(r.ID)
	r.Trigger = res.Trigger
	r.State = reminder.StatePending
	r.NextFireAt = next
	if err := s.store.UpdateReminder(ctx, r); err != nil {
		return nil, err
	}
	s.sched.Arm(r.ID, next, r.CreatedAt)

	s.publish(eventbus.TypeReminderRescheduled, r, actor, res.Trigger.String())
	s.audit(ctx, actor, r, "rescheduled", res.Trigger.String())
	s.log.Info("reminder rescheduled",
		logx.String("id", r.ID), logx.String("trigger", res.Trigger.String()))
	return r, nil
}

// Subscribe adds user to the reminder referenced by the reacted-to
// message. Idempotent: the second subscription reports changed=false.
func (s *Service) Subscribe(ctx context.Context, sourceRef, user string) (*reminder.Reminder, bool, error) {
	r, err := s.findBySource(ctx, sourceRef)
	if err != nil {
		return nil, false, err
	}
	if user == "" || r.Subscribed(user) {
		return r, false, nil
	}
	r.Subscribers = append(r.Subscribers, user)
	if err := s.store.UpdateReminder(ctx, r); err != nil {
		return nil, false, err
	}
	s.publish(eventbus.TypeSubscribed, r, user, "")
	s.audit(ctx, user, r, "subscribed", "")
	return r, true, nil
}

// Unsubscribe removes user from the reminder's subscriber set. Idempotent.
func (s *Service) Unsubscribe(ctx context.Context, sourceRef, user string) (*reminder.Reminder, bool, error) {
	r, err := s.findBySource(ctx, sourceRef)
	if err != nil {
		return nil, false, err
	}
	if !r.Subscribed(user) {
		return r, false, nil
	}
	kept := r.Subscribers[:0]
	for _, u := range r.Subscribers {
		if u != user {
			kept = append(kept, u)
		}
	}
	r.Subscribers = kept
	if err := s.store.UpdateReminder(ctx, r); err != nil {
		return nil, false, err
	}
	s.publish(eventbus.TypeUnsubscribed, r, user, "")
	s.audit(ctx, user, r, "unsubscribed", "")
	return r, true, nil
}

// BindSource anchors the reminder to the message reactions and replies
// will reference, typically the confirmation the bot just sent.
func (s *Service) BindSource(ctx context.Context, id, sourceRef string) error {
	// Same lock as the post-fire completion write; a bind from the
	// delivery worker and the completion transition must not lose each
	// other's update.
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.store.GetReminder(ctx, id)
	if err != nil {
		return err
	}
	r.SourceRef = sourceRef
	return s.store.UpdateReminder(ctx, r)
}

func (s *Service) findBySource(ctx context.Context, sourceRef string) (*reminder.Reminder, error) {
	if strings.TrimSpace(sourceRef) == "" {
		return nil, &reminder.NotFoundError{Ref: sourceRef}
	}
	rs, err := s.store.ListReminders(ctx, storage.Filter{SourceRef: sourceRef})
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return nil, &reminder.NotFoundError{Ref: sourceRef}
	}
	return rs[0], nil
}

// SetTimezone validates and stores the user's timezone. On a bad zone the
// stored preference is untouched.
func (s *Service) SetTimezone(ctx context.Context, user, tz string) error {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return reminder.ErrInvalidTimezone
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return reminder.ErrInvalidTimezone
	}
	p, _, err := s.store.UserPreference(ctx, user)
	if err != nil {
		return err
	}
	p.User = user
	p.Timezone = tz
	return s.store.SetUserPreference(ctx, p)
}

// SetLocale validates and stores the user's parsing locale. On an
// unsupported locale the stored preference is untouched.
func (s *Service) SetLocale(ctx context.Context, user, code string) error {
	code = strings.ToLower(strings.TrimSpace(code))
	if !trigger.SupportedLocale(code) {
		return reminder.ErrInvalidLocale
	}
	p, _, err := s.store.UserPreference(ctx, user)
	if err != nil {
		return err
	}
	p.User = user
	p.Locale = code
	return s.store.SetUserPreference(ctx, p)
}
