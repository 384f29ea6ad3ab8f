package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/reminder"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	"remindbot/internal/transport"
	"remindbot/internal/trigger"
	logx "remindbot/pkg/logx"
)

type fakeNotifier struct {
	mu    sync.Mutex
	notes []transport.Notification
	fail  error
}

func (f *fakeNotifier) Notify(_ context.Context, n transport.Notification) error {
	f.mu.Lock()
	if f.fail != nil {
		f.mu.Unlock()
		return f.fail
	}
	f.notes = append(f.notes, n)
	ref := transport.MessageRef{Room: n.Room, ID: fmt.Sprintf("n%d", len(f.notes))}
	f.mu.Unlock()

	// Confirm delivery the way the real pipeline's worker does.
	if n.OnSent != nil {
		n.OnSent(ref)
	}
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notes)
}

func (f *fakeNotifier) last() transport.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notes[len(f.notes)-1]
}

type fixture struct {
	svc   *Service
	store storage.Store
	sched *scheduler.Scheduler
	clk   *clock.Mock
	notif *fakeNotifier
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	st := storage.NewMemory()
	mck := clock.NewMock()
	mck.Set(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	sched := scheduler.New(st, mck, logx.Nop())
	notif := &fakeNotifier{}
	svc := New(cfg, st, sched, notif, nil, mck, logx.Nop())
	return &fixture{svc: svc, store: st, sched: sched, clk: mck, notif: notif}
}

func settle() { time.Sleep(50 * time.Millisecond) }

func TestCreateOneOff(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	r, err := f.svc.Create(ctx, CreateRequest{
		Room:      "room1",
		Creator:   "alice",
		Text:      "8 hours water plants",
		SourceRef: "room1/100",
	})
	require.NoError(t, err)
	assert.Len(t, r.ID, reminder.IDLength)
	assert.Equal(t, "water plants", r.Payload)
	assert.Equal(t, trigger.KindAt, r.Trigger.Kind)
	assert.Equal(t, reminder.StatePending, r.State)
	assert.True(t, r.NextFireAt.Equal(f.clk.Now().Add(8*time.Hour)))
	assert.Equal(t, 1, f.sched.Armed())

	stored, err := f.store.GetReminder(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "room1/100", stored.SourceRef)
}

func TestCreateAgenda(t *testing.T) {
	f := newFixture(t, Config{})
	r, err := f.svc.Create(context.Background(), CreateRequest{
		Room: "room1", Creator: "alice", Text: "discuss budget", Agenda: true,
	})
	require.NoError(t, err)
	assert.Equal(t, trigger.KindNone, r.Trigger.Kind)
	assert.True(t, r.NextFireAt.IsZero())
	assert.Equal(t, 0, f.sched.Armed(), "agenda items never enter the timer queue")
}

func TestCreateParseErrorAndEmptyPayload(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	var pe *trigger.ParseError
	_, err := f.svc.Create(ctx, CreateRequest{Room: "r", Creator: "alice", Text: "no date here at all"})
	require.ErrorAs(t, err, &pe)

	_, err = f.svc.Create(ctx, CreateRequest{Room: "r", Creator: "alice", Text: "  ", Agenda: true})
	require.ErrorAs(t, err, &pe)
}

func TestCreateRateLimited(t *testing.T) {
	f := newFixture(t, Config{RateLimit: 2, RateWindow: time.Hour})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.Create(ctx, CreateRequest{Room: "r", Creator: "alice", Text: "8 hours tea"})
		require.NoError(t, err)
	}

	var rle *reminder.RateLimitError
	_, err := f.svc.Create(ctx, CreateRequest{Room: "r", Creator: "alice", Text: "8 hours tea"})
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 2, rle.Limit)

	// Parse failures and other users are not throttled.
	_, err = f.svc.Create(ctx, CreateRequest{Room: "r", Creator: "bob", Text: "8 hours coffee"})
	require.NoError(t, err)
}

func TestCreateParseErrorConsumesNoQuota(t *testing.T) {
	f := newFixture(t, Config{RateLimit: 1, RateWindow: time.Hour})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.svc.Create(ctx, CreateRequest{Room: "r", Creator: "alice", Text: "gibberish"})
		var pe *trigger.ParseError
		require.ErrorAs(t, err, &pe)
	}
	_, err := f.svc.Create(ctx, CreateRequest{Room: "r", Creator: "alice", Text: "8 hours tea"})
	require.NoError(t, err)
}

func TestCancelByIDAndPrefix(t *testing.T) {
	f := newFixture(t, Config{RetainCancelled: true})
	ctx := context.Background()

	milk, err := f.svc.Create(ctx, CreateRequest{Room: "r", Creator: "alice", Text: "8 hours buy milk"})
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, CreateRequest{Room: "r", Creator: "alice", Text: "8 hours buy more pumpkins"})
	require.NoError(t, err)

	// "buy" prefixes both: never guess.
	var amb *reminder.AmbiguousMatchError
	_, err = f.svc.Cancel(ctx, "r", "alice", "buy")
	require.ErrorAs(t, err, &amb)
	assert.Len(t, amb.Candidates, 2)

	got, err := f.svc.Cancel(ctx, "r", "alice", "buy more")
	require.NoError(t, err)
	assert.Equal(t, "buy more pumpkins", got.Payload)

	got, err = f.svc.Cancel(ctx, "r", "alice", milk.ID)
	require.NoError(t, err)
	assert.Equal(t, "buy milk", got.Payload)
	assert.Equal(t, 0, f.sched.Armed())

	// Retained for the audit trail.
	stored, err := f.store.GetReminder(ctx, milk.ID)
	require.NoError(t, err)
	assert.Equal(t, reminder.StateCancelled, stored.State)

	var nf *reminder.NotFoundError
	_, err = f.svc.Cancel(ctx, "r", "alice", "buy milk")
	require.ErrorAs(t, err, &nf, "cancelled reminders are no longer cancellable")
}

func TestCancelWithoutRetention(t *testing.T) {
	f := newFixture(t, Config{RetainCancelled: false})
	ctx := context.Background()

	r, err := f.svc.Create(ctx, CreateRequest{Room: "r", Creator: "alice", Text: "8 hours tea"})
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, "r", "alice", r.ID)
	require.NoError(t, err)

	_, err = f.store.GetReminder(ctx, r.ID)
	assert.ErrorIs(t, err, storage.ErrNoReminder)
}

func TestRescheduleBySource(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	r, err := f.svc.Create(ctx, CreateRequest{
		Room: "r", Creator: "alice", Text: "8 hours buy milk", SourceRef: "r/1",
	})
	require.NoError(t, err)
	oldNext := r.NextFireAt

	got, err := f.svc.Reschedule(ctx, "alice", "r/1", "2 days")
	require.NoError(t, err)
	assert.Equal(t, "buy milk", got.Payload, "payload survives a reschedule")
	assert.True(t, got.NextFireAt.Equal(f.clk.Now().Add(48*time.Hour)))
	assert.False(t, got.NextFireAt.Equal(oldNext))
	assert.Equal(t, 1, f.sched.Armed(), "old occurrence disarmed, new one armed")

	// Trailing text is refused, the reply must be pure date.
	var pe *trigger.ParseError
	_, err = f.svc.Reschedule(ctx, "alice", "r/1", "2 days change the text too")
	require.ErrorAs(t, err, &pe)

	// Cancelled reminders stay dead.
	_, err = f.svc.Cancel(ctx, "r", "alice", got.ID)
	require.NoError(t, err)
	var nf *reminder.NotFoundError
	_, err = f.svc.Reschedule(ctx, "alice", "r/1", "2 days")
	require.ErrorAs(t, err, &nf)
}

func TestSubscribeUnsubscribe(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateRequest{
		Room: "r", Creator: "alice", Text: "8 hours standup", SourceRef: "r/7",
	})
	require.NoError(t, err)

	_, changed, err := f.svc.Subscribe(ctx, "r/7", "bob")
	require.NoError(t, err)
	assert.True(t, changed)

	_, changed, err = f.svc.Subscribe(ctx, "r/7", "bob")
	require.NoError(t, err)
	assert.False(t, changed, "subscribe is idempotent")

	r, changed, err := f.svc.Unsubscribe(ctx, "r/7", "bob")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Empty(t, r.Subscribers)

	_, changed, err = f.svc.Unsubscribe(ctx, "r/7", "bob")
	require.NoError(t, err)
	assert.False(t, changed, "unsubscribe is idempotent")

	var nf *reminder.NotFoundError
	_, _, err = f.svc.Subscribe(ctx, "r/404", "bob")
	require.ErrorAs(t, err, &nf)
}

func TestPreferences(t *testing.T) {
	f := newFixture(t, Config{DefaultTimezone: "UTC", DefaultLocale: "en"})
	ctx := context.Background()

	require.NoError(t, f.svc.SetTimezone(ctx, "alice", "Europe/Zurich"))
	require.NoError(t, f.svc.SetLocale(ctx, "alice", "RU"))

	p := f.svc.Preferences(ctx, "alice")
	assert.Equal(t, "Europe/Zurich", p.Timezone)
	assert.Equal(t, "ru", p.Locale)

	// Invalid values are rejected and the stored preference is retained.
	assert.ErrorIs(t, f.svc.SetTimezone(ctx, "alice", "Mars/Olympus"), reminder.ErrInvalidTimezone)
	assert.ErrorIs(t, f.svc.SetLocale(ctx, "alice", "tlh"), reminder.ErrInvalidLocale)
	p = f.svc.Preferences(ctx, "alice")
	assert.Equal(t, "Europe/Zurich", p.Timezone)
	assert.Equal(t, "ru", p.Locale)

	// Unset users get the configured defaults.
	p = f.svc.Preferences(ctx, "bob")
	assert.Equal(t, "UTC", p.Timezone)
	assert.Equal(t, "en", p.Locale)
}

func TestFireDeliversAndCompletes(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	r, err := f.svc.Create(ctx, CreateRequest{
		Room: "room1", Creator: "alice", Text: "30min tea", SourceRef: "room1/5",
	})
	require.NoError(t, err)
	_, _, err = f.svc.Subscribe(ctx, "room1/5", "bob")
	require.NoError(t, err)

	f.sched.Start(ctx)
	defer f.sched.Stop(ctx)
	settle()

	f.clk.Add(30 * time.Minute)
	require.Eventually(t, func() bool { return f.notif.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	n := f.notif.last()
	assert.Equal(t, "room1", n.Room)
	assert.Equal(t, "@alice @bob: tea", n.Text)

	require.Eventually(t, func() bool {
		stored, err := f.store.GetReminder(ctx, r.ID)
		return err == nil && stored.State == reminder.StateCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRescheduleAfterFire(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	r, err := f.svc.Create(ctx, CreateRequest{
		Room: "room1", Creator: "alice", Text: "30min stretch", SourceRef: "room1/9",
	})
	require.NoError(t, err)

	f.sched.Start(ctx)
	defer f.sched.Stop(ctx)
	settle()

	f.clk.Add(30 * time.Minute)
	require.Eventually(t, func() bool {
		stored, err := f.store.GetReminder(ctx, r.ID)
		return err == nil && stored.State == reminder.StateCompleted
	}, 2*time.Second, 10*time.Millisecond)

	// The delivered notification re-anchored the reminder, so a reply to
	// the fired message resolves it.
	stored, err := f.store.GetReminder(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "room1/n1", stored.SourceRef)

	// Completed is not final: a new date brings it back to pending.
	got, err := f.svc.Reschedule(ctx, "alice", "room1/n1", "3 hours")
	require.NoError(t, err)
	assert.Equal(t, reminder.StatePending, got.State)
	assert.Equal(t, "stretch", got.Payload)
	assert.True(t, got.NextFireAt.Equal(f.clk.Now().Add(3*time.Hour)))
	assert.Equal(t, 1, f.sched.Armed())
}

func TestCancelWritesFreshState(t *testing.T) {
	f := newFixture(t, Config{RetainCancelled: true})
	ctx := context.Background()

	r, err := f.svc.Create(ctx, CreateRequest{Room: "r", Creator: "alice", Text: "8 hours tea"})
	require.NoError(t, err)
	stale := r.Clone()

	// A fire that committed after the caller resolved its copy.
	current, err := f.store.GetReminder(ctx, r.ID)
	require.NoError(t, err)
	current.FireCount = 3
	current.LastFiredAt = f.clk.Now()
	require.NoError(t, f.store.UpdateReminder(ctx, current))

	_, err = f.svc.cancel(ctx, "alice", stale)
	require.NoError(t, err)

	stored, err := f.store.GetReminder(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, reminder.StateCancelled, stored.State)
	assert.Equal(t, 3, stored.FireCount, "cancel must not write back a stale copy")
	assert.True(t, stored.LastFiredAt.Equal(current.LastFiredAt))
}

func TestLoadRearmsAdvancesAndDrops(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	now := f.clk.Now()

	future := &reminder.Reminder{
		ID: "fut1", Payload: "future", Creator: "alice", Room: "r",
		Audience: reminder.AudienceCreator, Trigger: trigger.At(now.Add(time.Hour)),
		State: reminder.StatePending, CreatedAt: now.Add(-time.Hour), NextFireAt: now.Add(time.Hour),
	}
	recurring := &reminder.Reminder{
		ID: "rec1", Payload: "recurring", Creator: "alice", Room: "r",
		Audience: reminder.AudienceCreator,
		Trigger:  trigger.Trigger{Kind: trigger.KindEvery, Every: time.Hour},
		State:    reminder.StatePending, CreatedAt: now.Add(-2 * time.Hour),
		NextFireAt: now.Add(-30 * time.Minute),
	}
	missed := &reminder.Reminder{
		ID: "mis1", Payload: "missed", Creator: "alice", Room: "r",
		Audience: reminder.AudienceCreator, Trigger: trigger.At(now.Add(-time.Hour)),
		State: reminder.StatePending, CreatedAt: now.Add(-2 * time.Hour),
		NextFireAt: now.Add(-time.Hour),
	}
	agenda := &reminder.Reminder{
		ID: "age1", Payload: "agenda", Creator: "alice", Room: "r",
		Audience: reminder.AudienceCreator, Trigger: trigger.None(),
		State: reminder.StatePending, CreatedAt: now.Add(-time.Hour),
	}
	for _, r := range []*reminder.Reminder{future, recurring, missed, agenda} {
		require.NoError(t, f.store.CreateReminder(ctx, r))
	}

	require.NoError(t, f.svc.Load(ctx))
	assert.Equal(t, 2, f.sched.Armed(), "future armed, recurring advanced")

	rec, err := f.store.GetReminder(ctx, "rec1")
	require.NoError(t, err)
	assert.True(t, rec.NextFireAt.Equal(now.Add(time.Hour)), "recurring advanced past the outage")

	_, err = f.store.GetReminder(ctx, "mis1")
	assert.ErrorIs(t, err, storage.ErrNoReminder, "missed one-off dropped")

	_, err = f.store.GetReminder(ctx, "age1")
	assert.NoError(t, err, "agenda items survive untouched")
}

func TestFireFailedEnqueueKeepsFiredState(t *testing.T) {
	f := newFixture(t, Config{})
	f.notif.fail = errors.New("queue full")
	ctx := context.Background()

	r, err := f.svc.Create(ctx, CreateRequest{Room: "r", Creator: "alice", Text: "30min tea"})
	require.NoError(t, err)

	f.sched.Start(ctx)
	defer f.sched.Stop(ctx)
	settle()

	f.clk.Add(30 * time.Minute)
	require.Eventually(t, func() bool {
		stored, err := f.store.GetReminder(ctx, r.ID)
		return err == nil && stored.State == reminder.StateFired
	}, 2*time.Second, 10*time.Millisecond)
}
