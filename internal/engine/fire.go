package engine

import (
	"context"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Load re-arms persisted reminders after a restart. Recurring reminders
// whose occurrence passed while the process was down advance to their next
// occurrence; one-offs that were missed are dropped rather than fired
// stale.
func (s *Service) Load(ctx context.Context) error {
	rs, err := s.store.ListReminders(ctx, storage.Filter{
		States: []reminder.State{reminder.StatePending},
	})
	if err != nil {
		return err
	}

	now := s.clk.Now().UTC()
	var armed, advanced, dropped int
	for _, r := range rs {
		if !r.Scheduled() {
			continue // agenda item
		}
		if r.NextFireAt.After(now) {
			s.sched.Arm(r.ID, r.NextFireAt, r.CreatedAt)
			armed++
			continue
		}
		if r.Trigger.Recurring() {
			if next, ok := r.Trigger.NextAfter(now, s.locationFor(ctx, r.Creator)); ok {
				r.NextFireAt = next
				if err := s.store.UpdateReminder(ctx, r); err != nil {
					return err
				}
				s.sched.Arm(r.ID, next, r.CreatedAt)
				advanced++
				continue
			}
		}
		s.log.Warn("dropping reminder missed while down",
			logx.String("id", r.ID), logx.Time("due", r.NextFireAt))
		if err := s.store.DeleteReminder(ctx, r.ID); err != nil {
			return err
		}
		dropped++
	}

	s.log.Info("reminders loaded",
		logx.Int("armed", armed), logx.Int("advanced", advanced), logx.Int("dropped", dropped))
	return nil
}

// handleFire runs on the scheduler's dispatch path, after the fire
// transition has been committed.
func (s *Service) handleFire(ctx context.Context, ev scheduler.FireEvent) {
	r := ev.Reminder
	text := formatFire(r, ev.Audience)

	// Re-anchor the reminder on the fired message once it is actually
	// sent, so replying to it reschedules and reacting to it subscribes.
	// The callback runs on a delivery worker, possibly after this ctx's
	// command scope ended.
	bindCtx := context.WithoutCancel(ctx)
	id := r.ID
	note := transport.Notification{
		Room: r.Room,
		Text: text,
		OnSent: func(ref transport.MessageRef) {
			if err := s.BindSource(bindCtx, id, ref.String()); err != nil {
				s.log.Warn("bind fired message", logx.String("id", id), logx.Err(err))
			}
		},
	}

	if err := s.notif.Notify(ctx, note); err != nil {
		// The reminder stays in fired state so the miss is visible.
		s.log.Error("fire notification not queued",
			logx.String("id", r.ID), logx.Err(err))
	} else if r.State == reminder.StateFired {
		// One-off handed to delivery: lifecycle complete. Re-read under the
		// service lock so a concurrent BindSource from the delivery worker
		// is not clobbered.
		s.mu.Lock()
		if fresh, gerr := s.store.GetReminder(ctx, r.ID); gerr != nil {
			s.log.Error("complete one-off", logx.String("id", r.ID), logx.Err(gerr))
		} else {
			fresh.State = reminder.StateCompleted
			fresh.NextFireAt = time.Time{}
			if err := s.store.UpdateReminder(ctx, fresh); err != nil {
				s.log.Error("complete one-off", logx.String("id", r.ID), logx.Err(err))
			}
		}
		s.mu.Unlock()
		s.publish(eventbus.TypeReminderCompleted, r, "", "")
	}

	s.publish(eventbus.TypeReminderFired, r, "", "")
	s.audit(ctx, r.Creator, r, "fired", "")
	s.log.Info("reminder fired",
		logx.String("id", r.ID), logx.String("room", r.Room),
		logx.Int("count", r.FireCount))
}
