package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/avoronov/lastvault/internal/dbx"
)

// SQLiteRepository implements the queue's persistence over a DBTX, so the
// same code runs against the database handle or inside a transaction.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Insert(ctx context.Context, e *Entry) (int64, error) {
	query := `INSERT INTO queue_entries (kind, target_id, payload, created_at)
			VALUES (?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query,
		string(e.Kind), e.TargetID, e.Payload, e.CreatedAt.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to insert queue entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get inserted id: %w", err)
	}
	return id, nil
}

// Pending lists all queued entries oldest-first. Backoff eligibility is
// checked by the drainer, not here, so one snapshot serves a whole pass.
func (r *SQLiteRepository) Pending(ctx context.Context) ([]*Entry, error) {
	query := `SELECT id, kind, target_id, payload, created_at, attempts, last_attempt, last_error
			FROM queue_entries ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select queue entries: %w", err)
	}
	defer rows.Close()

	var result []*Entry
	for rows.Next() {
		var (
			item               Entry
			kind               string
			created, attempted int64
		)
		if err := rows.Scan(&item.ID, &kind, &item.TargetID, &item.Payload,
			&created, &item.Attempts, &attempted, &item.LastError); err != nil {
			return nil, err
		}
		item.Kind = OpKind(kind)
		item.CreatedAt = time.Unix(created, 0)
		if attempted > 0 {
			item.LastAttempt = time.Unix(attempted, 0)
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkAttempt records a failed replay attempt.
func (r *SQLiteRepository) MarkAttempt(ctx context.Context, id int64, at time.Time, reason string) error {
	query := `UPDATE queue_entries SET attempts = attempts + 1, last_attempt = ?, last_error = ?
			WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, at.Unix(), reason, id)
	if err != nil {
		return fmt.Errorf("failed to mark attempt: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra != 1 {
		return fmt.Errorf("wrong rows affected count: %d", ra)
	}
	return nil
}

// Remove deletes an acknowledged entry.
func (r *SQLiteRepository) Remove(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM queue_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove queue entry: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra != 1 {
		return fmt.Errorf("wrong rows affected count: %d", ra)
	}
	return nil
}

// MoveToDeadLetter retires an entry into the dead-letter table.
func (r *SQLiteRepository) MoveToDeadLetter(ctx context.Context, e *Entry, at time.Time, reason string) error {
	query := `INSERT INTO dead_letters (entry_id, kind, target_id, payload, created_at, failed_at, reason)
			VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, e.ID, string(e.Kind), e.TargetID,
		e.Payload, e.CreatedAt.Unix(), at.Unix(), reason); err != nil {
		return fmt.Errorf("failed to insert dead letter: %w", err)
	}
	return r.Remove(ctx, e.ID)
}

// DeadLetters lists retired entries oldest-first.
func (r *SQLiteRepository) DeadLetters(ctx context.Context) ([]*DeadLetter, error) {
	query := `SELECT id, entry_id, kind, target_id, payload, created_at, failed_at, reason
			FROM dead_letters ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select dead letters: %w", err)
	}
	defer rows.Close()

	var result []*DeadLetter
	for rows.Next() {
		var (
			item            DeadLetter
			kind            string
			created, failed int64
		)
		if err := rows.Scan(&item.ID, &item.EntryID, &kind, &item.TargetID,
			&item.Payload, &created, &failed, &item.Reason); err != nil {
			return nil, err
		}
		item.Kind = OpKind(kind)
		item.CreatedAt = time.Unix(created, 0)
		item.FailedAt = time.Unix(failed, 0)
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// AcquireDrainLock claims the single advisory drain lock. A lock held
// longer than staleAfter is treated as abandoned by a crashed process and
// taken over. Returns false when another live owner holds it.
func (r *SQLiteRepository) AcquireDrainLock(ctx context.Context, owner string, now time.Time, staleAfter time.Duration) (bool, error) {
	query := `UPDATE drain_lock SET owner = ?, acquired_at = ?
			WHERE id = 1 AND (owner = '' OR owner = ? OR acquired_at < ?)`
	res, err := r.db.ExecContext(ctx, query,
		owner, now.Unix(), owner, now.Add(-staleAfter).Unix())
	if err != nil {
		return false, fmt.Errorf("failed to acquire drain lock: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return ra == 1, nil
}

// ReleaseDrainLock frees the drain lock if this owner still holds it.
func (r *SQLiteRepository) ReleaseDrainLock(ctx context.Context, owner string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE drain_lock SET owner = '', acquired_at = 0 WHERE id = 1 AND owner = ?`, owner)
	if err != nil {
		return fmt.Errorf("failed to release drain lock: %w", err)
	}
	return nil
}
