package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"remindbot/internal/reminder"
	"remindbot/internal/trigger"
	logx "remindbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const reminderColumns = `id, payload, creator, room, audience, state,
	trigger_kind, trigger_at, trigger_spec, trigger_every_ns,
	source_ref, created_at, last_fired_at, fire_count, next_fire_at`

func (s *sqliteStore) CreateReminder(ctx context.Context, r *reminder.Reminder) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM reminders WHERE id = ?`, r.ID).Scan(&one)
	switch {
	case err == nil:
		return ErrIDExists
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO reminders(`+reminderColumns+`)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.Payload, r.Creator, r.Room, string(r.Audience), string(r.State),
		string(r.Trigger.Kind), nullTime(r.Trigger.At), r.Trigger.Spec, int64(r.Trigger.Every),
		r.SourceRef, r.CreatedAt.UTC().Format(time.RFC3339Nano),
		nullTime(r.LastFiredAt), r.FireCount, nullTime(r.NextFireAt),
	); err != nil {
		return err
	}
	if err := insertSubscribers(ctx, tx, r.ID, r.Subscribers); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) UpdateReminder(ctx context.Context, r *reminder.Reminder) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE reminders SET payload=?, creator=?, room=?, audience=?, state=?,
		 trigger_kind=?, trigger_at=?, trigger_spec=?, trigger_every_ns=?,
		 source_ref=?, created_at=?, last_fired_at=?, fire_count=?, next_fire_at=?
		 WHERE id=?`,
		r.Payload, r.Creator, r.Room, string(r.Audience), string(r.State),
		string(r.Trigger.Kind), nullTime(r.Trigger.At), r.Trigger.Spec, int64(r.Trigger.Every),
		r.SourceRef, r.CreatedAt.UTC().Format(time.RFC3339Nano),
		nullTime(r.LastFiredAt), r.FireCount, nullTime(r.NextFireAt),
		r.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNoReminder
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM subscribers WHERE reminder_id=?`, r.ID); err != nil {
		return err
	}
	if err := insertSubscribers(ctx, tx, r.ID, r.Subscribers); err != nil {
		return err
	}
	return tx.Commit()
}

func insertSubscribers(ctx context.Context, tx *sql.Tx, id string, subs []string) error {
	for _, u := range subs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO subscribers(reminder_id, username) VALUES(?,?)`, id, u); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) GetReminder(ctx context.Context, id string) (*reminder.Reminder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoReminder
	}
	if err != nil {
		return nil, err
	}
	if r.Subscribers, err = s.loadSubscribers(ctx, id); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *sqliteStore) DeleteReminder(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNoReminder
	}
	return nil
}

func (s *sqliteStore) ListReminders(ctx context.Context, f Filter) ([]*reminder.Reminder, error) {
	q := `SELECT ` + reminderColumns + ` FROM reminders`
	var conds []string
	var args []any
	if f.Room != "" {
		conds = append(conds, "room = ?")
		args = append(args, f.Room)
	}
	if f.Creator != "" {
		conds = append(conds, "creator = ?")
		args = append(args, f.Creator)
	}
	if f.SourceRef != "" {
		conds = append(conds, "source_ref = ?")
		args = append(args, f.SourceRef)
	}
	if f.Subscriber != "" {
		conds = append(conds, "EXISTS (SELECT 1 FROM subscribers sub WHERE sub.reminder_id = reminders.id AND sub.username = ?)")
		args = append(args, f.Subscriber)
	}
	if len(f.States) > 0 {
		ph := make([]string, len(f.States))
		for i, st := range f.States {
			ph[i] = "?"
			args = append(args, string(st))
		}
		conds = append(conds, "state IN ("+strings.Join(ph, ",")+")")
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*reminder.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, r := range out {
		if r.Subscribers, err = s.loadSubscribers(ctx, r.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *sqliteStore) loadSubscribers(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username FROM subscribers WHERE reminder_id = ? ORDER BY username`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		subs = append(subs, u)
	}
	return subs, rows.Err()
}

func (s *sqliteStore) UserPreference(ctx context.Context, user string) (reminder.UserPreference, bool, error) {
	p := reminder.UserPreference{User: user}
	err := s.db.QueryRowContext(ctx,
		`SELECT timezone, locale FROM user_prefs WHERE username = ?`, user).
		Scan(&p.Timezone, &p.Locale)
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.UserPreference{}, false, nil
	}
	if err != nil {
		return reminder.UserPreference{}, false, err
	}
	return p, true, nil
}

func (s *sqliteStore) SetUserPreference(ctx context.Context, p reminder.UserPreference) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_prefs(username, timezone, locale) VALUES(?,?,?)
		 ON CONFLICT(username) DO UPDATE SET timezone=excluded.timezone, locale=excluded.locale`,
		p.User, p.Timezone, p.Locale,
	)
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor, room, action, reminder_id, detail)
		 VALUES(?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.Actor, e.Room, e.Action, e.ReminderID, nullStr(e.Detail),
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (*reminder.Reminder, error) {
	var (
		r                           reminder.Reminder
		audience, state, kind       string
		trigAt, lastFired, nextFire sql.NullString
		createdAt                   string
		everyNS                     int64
	)
	if err := row.Scan(
		&r.ID, &r.Payload, &r.Creator, &r.Room, &audience, &state,
		&kind, &trigAt, &r.Trigger.Spec, &everyNS,
		&r.SourceRef, &createdAt, &lastFired, &r.FireCount, &nextFire,
	); err != nil {
		return nil, err
	}
	r.Audience = reminder.Audience(audience)
	r.State = reminder.State(state)
	r.Trigger.Kind = trigger.Kind(kind)
	r.Trigger.Every = time.Duration(everyNS)

	var err error
	if r.Trigger.At, err = parseNullTime(trigAt); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if r.LastFiredAt, err = parseNullTime(lastFired); err != nil {
		return nil, err
	}
	if r.NextFireAt, err = parseNullTime(nextFire); err != nil {
		return nil, err
	}
	return &r, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullTime(v sql.NullString) (time.Time, error) {
	if !v.Valid || v.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v.String)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
