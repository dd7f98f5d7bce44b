package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"schedd/internal/model"
	logx "schedd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps filterable fields in columns and the full record as JSON in body.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; this also serializes claim transactions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
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

// ---- events ----

const eventColumns = `id, body`

func (s *sqliteStore) InsertEvent(ctx context.Context, e *model.ScheduledEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO scheduled_events(public_id, entity_type, entity_id, handler_type, organizer_id,
		   start_time, end_time, processing_status, status, auto_process, next_attempt_at,
		   parent_event_id, deleted_at, body)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.PublicID, e.EntityType, e.EntityID, e.HandlerType, e.OrganizerID,
		e.StartTime.UnixMilli(), e.EndTime.UnixMilli(), string(e.ProcessingStatus), string(e.Status),
		e.AutoProcess, msPtr(e.NextAttemptAt), nullID(e.ParentEventID), msPtr(e.DeletedAt), string(body),
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	if body, err = json.Marshal(e); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE scheduled_events SET body = ? WHERE id = ?`, string(body), id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) GetEvent(ctx context.Context, id int64) (model.ScheduledEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM scheduled_events WHERE id = ?`, id)
	return scanEvent(row)
}

func (s *sqliteStore) GetEventByPublicID(ctx context.Context, publicID string) (model.ScheduledEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM scheduled_events WHERE public_id = ?`, strings.TrimSpace(publicID))
	return scanEvent(row)
}

func (s *sqliteStore) UpdateEvent(ctx context.Context, e model.ScheduledEvent) error {
	res, err := s.updateEvent(ctx, s.db, e, "")
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *sqliteStore) updateEvent(ctx context.Context, x execer, e model.ScheduledEvent, guard string) (sql.Result, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	q := `UPDATE scheduled_events SET public_id=?, entity_type=?, entity_id=?, handler_type=?, organizer_id=?,
		start_time=?, end_time=?, processing_status=?, status=?, auto_process=?, next_attempt_at=?,
		parent_event_id=?, deleted_at=?, body=?
		WHERE id = ?` + guard
	return x.ExecContext(ctx, q,
		e.PublicID, e.EntityType, e.EntityID, e.HandlerType, e.OrganizerID,
		e.StartTime.UnixMilli(), e.EndTime.UnixMilli(), string(e.ProcessingStatus), string(e.Status),
		e.AutoProcess, msPtr(e.NextAttemptAt), nullID(e.ParentEventID), msPtr(e.DeletedAt), string(body),
		e.ID,
	)
}

// ClaimEvent is an optimistic compare-and-set on processing_status.
func (s *sqliteStore) ClaimEvent(ctx context.Context, id int64, at time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	e, err := scanEvent(tx.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM scheduled_events WHERE id = ?`, id))
	if err != nil {
		return false, err
	}
	if e.ProcessingStatus != model.ProcessingPending || e.Deleted() {
		return false, nil
	}
	e.ProcessingStatus = model.ProcessingProcessing
	e.UpdatedAt = at

	res, err := s.updateEvent(ctx, tx, e, ` AND processing_status = 'pending'`)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return false, nil
	}
	return true, tx.Commit()
}

func (s *sqliteStore) ListEvents(ctx context.Context, f EventFilter) ([]model.ScheduledEvent, error) {
	where, args := eventWhere(f)
	q := `SELECT ` + eventColumns + ` FROM scheduled_events`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, ` AND `)
	}
	q += ` ORDER BY start_time ASC, id ASC`
	if f.Limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.ScheduledEvent, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func eventWhere(f EventFilter) ([]string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, vals ...any) {
		where = append(where, clause)
		args = append(args, vals...)
	}
	if !f.IncludeDeleted {
		add(`deleted_at IS NULL`)
	}
	if f.EntityType != "" {
		add(`entity_type = ?`, f.EntityType)
	}
	if f.EntityID != "" {
		add(`entity_id = ?`, f.EntityID)
	}
	if f.HandlerType != "" {
		add(`handler_type = ?`, f.HandlerType)
	}
	if f.OrganizerID != "" {
		add(`organizer_id = ?`, f.OrganizerID)
	}
	if f.Participant != "" {
		add(`(organizer_id = ? OR EXISTS (SELECT 1 FROM json_each(body, '$.attendees') WHERE json_extract(value, '$.user_id') = ?))`,
			f.Participant, f.Participant)
	}
	if !f.StartFrom.IsZero() {
		add(`start_time >= ?`, f.StartFrom.UnixMilli())
	}
	if !f.StartTo.IsZero() {
		add(`start_time < ?`, f.StartTo.UnixMilli())
	}
	if !f.EndAfter.IsZero() {
		add(`end_time > ?`, f.EndAfter.UnixMilli())
	}
	if len(f.ProcessingStatuses) > 0 {
		vals := make([]any, len(f.ProcessingStatuses))
		for i, st := range f.ProcessingStatuses {
			vals[i] = string(st)
		}
		add(`processing_status IN (`+placeholders(len(vals))+`)`, vals...)
	}
	if len(f.Statuses) > 0 {
		vals := make([]any, len(f.Statuses))
		for i, st := range f.Statuses {
			vals[i] = string(st)
		}
		add(`status IN (`+placeholders(len(vals))+`)`, vals...)
	}
	if f.ActiveOnly {
		add(`status NOT IN (?, ?)`, string(model.StatusCancelled), string(model.StatusCompleted))
	}
	if f.AutoProcess != nil {
		add(`auto_process = ?`, *f.AutoProcess)
	}
	if !f.AttemptDueAt.IsZero() {
		add(`(next_attempt_at IS NULL OR next_attempt_at <= ?)`, f.AttemptDueAt.UnixMilli())
	}
	if f.ParentEventID != 0 {
		add(`parent_event_id = ?`, f.ParentEventID)
	}
	if f.ExcludeID != 0 {
		add(`id <> ?`, f.ExcludeID)
	}
	return where, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (model.ScheduledEvent, error) {
	var (
		id   int64
		body string
		e    model.ScheduledEvent
	)
	if err := r.Scan(&id, &body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, ErrNotFound
		}
		return e, err
	}
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return e, fmt.Errorf("decode event %d: %w", id, err)
	}
	e.ID = id
	return e, nil
}

// ---- preferences ----

func (s *sqliteStore) GetPreferences(ctx context.Context, userID string) (model.AvailabilityPreferences, error) {
	var (
		id   int64
		body string
		p    model.AvailabilityPreferences
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, body FROM availability_preferences WHERE user_id = ? AND deleted_at IS NULL`,
		strings.TrimSpace(userID)).Scan(&id, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return p, fmt.Errorf("decode preferences %d: %w", id, err)
	}
	p.ID = id
	return p, nil
}

func (s *sqliteStore) SavePreferences(ctx context.Context, p model.AvailabilityPreferences) (model.AvailabilityPreferences, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer func() { _ = tx.Rollback() }()

	p.DeletedAt = nil
	p.DeletedBy = ""

	var (
		id      int64
		oldBody string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, body FROM availability_preferences WHERE user_id = ? AND deleted_at IS NULL`, p.UserID).Scan(&id, &oldBody)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx, `INSERT INTO availability_preferences(user_id, body) VALUES(?, '{}')`, p.UserID)
		if err != nil {
			return p, err
		}
		if id, err = res.LastInsertId(); err != nil {
			return p, err
		}
	case err != nil:
		return p, err
	default:
		var old model.AvailabilityPreferences
		if json.Unmarshal([]byte(oldBody), &old) == nil {
			p.CreatedAt = old.CreatedAt
		}
	}
	p.ID = id

	body, err := json.Marshal(p)
	if err != nil {
		return p, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE availability_preferences SET body = ? WHERE id = ?`, string(body), id); err != nil {
		return p, err
	}
	return p, tx.Commit()
}

func (s *sqliteStore) DeletePreferences(ctx context.Context, userID, by string, at time.Time) error {
	p, err := s.GetPreferences(ctx, userID)
	if err != nil {
		return err
	}
	p.DeletedAt = &at
	p.DeletedBy = by
	p.UpdatedAt = at
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE availability_preferences SET deleted_at = ?, body = ? WHERE id = ? AND deleted_at IS NULL`,
		at.UnixMilli(), string(body), p.ID)
	return err
}

// ---- posts ----

func (s *sqliteStore) CreatePost(ctx context.Context, p Post) (Post, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO blog_posts(title, body, published, published_at, created_at, updated_at) VALUES(?,?,?,?,?,?)`,
		p.Title, p.Body, p.Published, msPtr(p.PublishedAt), p.CreatedAt.UnixMilli(), p.UpdatedAt.UnixMilli())
	if err != nil {
		return p, err
	}
	p.ID, err = res.LastInsertId()
	return p, err
}

func (s *sqliteStore) GetPost(ctx context.Context, id int64) (Post, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, body, published, published_at, created_at, updated_at FROM blog_posts WHERE id = ?`, id)
	return scanPost(row)
}

func (s *sqliteStore) ListPosts(ctx context.Context) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, body, published, published_at, created_at, updated_at FROM blog_posts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Post, 0)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PublishPost(ctx context.Context, id int64, at time.Time) (Post, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE blog_posts SET published = 1, published_at = ?, updated_at = ? WHERE id = ? AND published = 0`,
		at.UnixMilli(), at.UnixMilli(), id)
	if err != nil {
		return Post{}, err
	}
	return s.GetPost(ctx, id)
}

func scanPost(r rowScanner) (Post, error) {
	var (
		p                  Post
		publishedAt        sql.NullInt64
		createdAt, updated int64
	)
	err := r.Scan(&p.ID, &p.Title, &p.Body, &p.Published, &publishedAt, &createdAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if publishedAt.Valid {
		t := time.UnixMilli(publishedAt.Int64).UTC()
		p.PublishedAt = &t
	}
	p.CreatedAt = time.UnixMilli(createdAt).UTC()
	p.UpdatedAt = time.UnixMilli(updated).UTC()
	return p, nil
}

func msPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
