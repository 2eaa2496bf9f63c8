package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/g960059/aistatus/internal/model"
)

const DefaultOutboxMax = 50

// Enqueue stores a failed call for later replay. An entry for the same
// task, endpoint and intent replaces the older one. The table is then trimmed
// to the newest max entries; max <= 0 disables trimming.
func (s *Store) Enqueue(ctx context.Context, e model.OutboxEntry, max int) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin enqueue: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var id int64
	err = tx.QueryRowContext(ctx, `
INSERT INTO outbox(task_id, endpoint, intent, payload_json, attempts, last_error, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(task_id, endpoint, intent) DO UPDATE SET
	payload_json=excluded.payload_json,
	attempts=excluded.attempts,
	last_error=excluded.last_error,
	created_at=excluded.created_at
RETURNING id`,
		e.TaskID, e.Endpoint, string(e.Intent), e.PayloadJSON, e.Attempts, e.LastError, ts(e.CreatedAt),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert outbox entry: %w", err)
	}
	if max > 0 {
		if _, err := tx.ExecContext(ctx, `
DELETE FROM outbox WHERE id NOT IN (
	SELECT id FROM outbox ORDER BY created_at DESC, id DESC LIMIT ?
)`, max); err != nil {
			return 0, fmt.Errorf("trim outbox: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit enqueue: %w", err)
	}
	return id, nil
}

// List returns entries oldest first, the order they are replayed in.
func (s *Store) List(ctx context.Context, limit int) ([]model.OutboxEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, task_id, endpoint, intent, payload_json, attempts, last_error, created_at
FROM outbox
ORDER BY created_at ASC, id ASC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := make([]model.OutboxEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Get(ctx context.Context, id int64) (model.OutboxEntry, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, task_id, endpoint, intent, payload_json, attempts, last_error, created_at
FROM outbox WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return model.OutboxEntry{}, ErrNotFound
	}
	return e, err
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete outbox entry: %w", err)
	}
	return expectOne(res)
}

// MarkAttempt records a failed replay of the entry.
func (s *Store) MarkAttempt(ctx context.Context, id int64, lastErr string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE outbox SET attempts = attempts + 1, last_error = ? WHERE id = ?`, lastErr, id)
	if err != nil {
		return fmt.Errorf("mark outbox attempt: %w", err)
	}
	return expectOne(res)
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count outbox: %w", err)
	}
	return n, nil
}

// Purge removes every entry, or only those of taskID when it is non-empty.
func (s *Store) Purge(ctx context.Context, taskID string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if taskID == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM outbox`)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM outbox WHERE task_id = ?`, taskID)
	}
	if err != nil {
		return 0, fmt.Errorf("purge outbox: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (model.OutboxEntry, error) {
	var (
		e         model.OutboxEntry
		intent    string
		createdAt string
	)
	if err := r.Scan(&e.ID, &e.TaskID, &e.Endpoint, &intent, &e.PayloadJSON, &e.Attempts, &e.LastError, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return e, err
		}
		return e, fmt.Errorf("scan outbox entry: %w", err)
	}
	e.Intent = model.IntentKind(intent)
	t, err := parseTS(createdAt)
	if err != nil {
		return e, fmt.Errorf("parse created_at: %w", err)
	}
	e.CreatedAt = t
	return e, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
