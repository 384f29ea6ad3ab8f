package storage

import (
	"context"
	"sort"
	"sync"

	"remindbot/internal/reminder"
)

// memoryStore keeps everything in maps. It backs tests and ephemeral runs
// and doubles as the reference semantics for the sqlite driver.
type memoryStore struct {
	mu        sync.RWMutex
	reminders map[string]*reminder.Reminder
	prefs     map[string]reminder.UserPreference
	audit     []AuditEntry
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memoryStore{
		reminders: make(map[string]*reminder.Reminder),
		prefs:     make(map[string]reminder.UserPreference),
	}
}

func (m *memoryStore) CreateReminder(_ context.Context, r *reminder.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reminders[r.ID]; ok {
		return ErrIDExists
	}
	m.reminders[r.ID] = r.Clone()
	return nil
}

func (m *memoryStore) GetReminder(_ context.Context, id string) (*reminder.Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reminders[id]
	if !ok {
		return nil, ErrNoReminder
	}
	return r.Clone(), nil
}

func (m *memoryStore) UpdateReminder(_ context.Context, r *reminder.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reminders[r.ID]; !ok {
		return ErrNoReminder
	}
	m.reminders[r.ID] = r.Clone()
	return nil
}

func (m *memoryStore) DeleteReminder(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reminders[id]; !ok {
		return ErrNoReminder
	}
	delete(m.reminders, id)
	return nil
}

func (m *memoryStore) ListReminders(_ context.Context, f Filter) ([]*reminder.Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*reminder.Reminder
	for _, r := range m.reminders {
		if f.matches(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memoryStore) UserPreference(_ context.Context, user string) (reminder.UserPreference, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prefs[user]
	return p, ok, nil
}

func (m *memoryStore) SetUserPreference(_ context.Context, p reminder.UserPreference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[p.User] = p
	return nil
}

func (m *memoryStore) AppendAudit(_ context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

func (m *memoryStore) Close() error { return nil }
