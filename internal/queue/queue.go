// Package queue is the durable upload queue: mutations that could not be
// delivered to the server are appended here and replayed later. Entries
// for the same target keep their creation order; unrelated targets do not
// block each other. Storage is a local SQLite database.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/avoronov/lastvault/internal/common"
	"github.com/avoronov/lastvault/internal/dbx"
	"github.com/avoronov/lastvault/internal/logging"
	"github.com/avoronov/lastvault/internal/queue/migrations"
)

// Uploader replays one entry against the server. A common.ErrNetwork or
// common.ErrSessionExpired result is treated as retryable; any other error
// retires the entry to the dead-letter table.
type Uploader interface {
	Upload(ctx context.Context, e *Entry) error
}

const (
	backoffBase = 30 * time.Second
	backoffCap  = time.Hour
	lockStale   = 10 * time.Minute

	// maxAttempts bounds retryable failures: once an entry has failed
	// this many times it is retired to the dead-letter table instead of
	// being retried again.
	maxAttempts = 5
)

// Queue owns the SQLite store. Enqueue is safe while another process
// drains; Drain takes an advisory lock so only one drainer replays at a
// time.
type Queue struct {
	db    *sql.DB
	repo  *SQLiteRepository
	log   logging.Logger
	owner string
	now   func() time.Time
}

// Open opens (creating if needed) the queue database at dsn and applies
// schema migrations.
func Open(ctx context.Context, dsn string, log logging.Logger) (*Queue, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer connection sidesteps SQLITE_BUSY between pool members.
	db.SetMaxOpenConns(1)
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Queue{
		db:    db,
		repo:  NewSQLiteRepository(db),
		log:   log,
		owner: uuid.NewString(),
		now:   time.Now,
	}, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

func (q *Queue) Close() error { return q.db.Close() }

// Enqueue appends a mutation and returns its queue id. A nil error means
// the operation is accepted for eventual delivery.
func (q *Queue) Enqueue(ctx context.Context, kind OpKind, targetID string, payload []byte) (int64, error) {
	if kind == "" || targetID == "" {
		return 0, fmt.Errorf("%w: kind and target id are required", common.ErrInvalidInput)
	}
	id, err := q.repo.Insert(ctx, &Entry{
		Kind:      kind,
		TargetID:  targetID,
		Payload:   payload,
		CreatedAt: q.now(),
	})
	if err != nil {
		return 0, err
	}
	q.log.Debug(ctx, "queued mutation", "id", id, "kind", kind, "target", targetID)
	return id, nil
}

// Pending lists entries awaiting replay, oldest-first.
func (q *Queue) Pending(ctx context.Context) ([]*Entry, error) {
	return q.repo.Pending(ctx)
}

// DeadLetters lists entries retired after non-retryable failures.
func (q *Queue) DeadLetters(ctx context.Context) ([]*DeadLetter, error) {
	return q.repo.DeadLetters(ctx)
}

// backoff returns the wait before attempt n+1. Exponential from
// backoffBase, capped at backoffCap.
func backoff(attempts int) time.Duration {
	d := backoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}

// eligible reports whether an entry's backoff window has elapsed.
func eligible(e *Entry, now time.Time) bool {
	if e.Attempts == 0 {
		return true
	}
	return !now.Before(e.LastAttempt.Add(backoff(e.Attempts)))
}

// Drain replays pending entries through the uploader. Entries still inside
// their backoff window are skipped, as are entries behind a failed entry
// for the same target. Retryable failures are retried up to maxAttempts
// times, then retired to the dead-letter table. Returns
// common.ErrQueueLocked when another process is draining. Entries enqueued
// while a drain runs are picked up by the next pass.
func (q *Queue) Drain(ctx context.Context, up Uploader) (*DrainReport, error) {
	got, err := q.repo.AcquireDrainLock(ctx, q.owner, q.now(), lockStale)
	if err != nil {
		return nil, err
	}
	if !got {
		return nil, common.ErrQueueLocked
	}
	defer func() {
		if err := q.repo.ReleaseDrainLock(context.WithoutCancel(ctx), q.owner); err != nil {
			q.log.Warn(ctx, "failed to release drain lock", "err", err)
		}
	}()

	pending, err := q.repo.Pending(ctx)
	if err != nil {
		return nil, err
	}

	report := &DrainReport{}
	blocked := make(map[string]bool)

	for _, e := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if blocked[e.TargetID] {
			report.Deferred++
			continue
		}
		if !eligible(e, q.now()) {
			report.Deferred++
			blocked[e.TargetID] = true
			continue
		}

		err := up.Upload(ctx, e)
		switch {
		case err == nil:
			if err := q.repo.Remove(ctx, e.ID); err != nil {
				return report, err
			}
			report.Applied++

		case retryable(err) && e.Attempts+1 < maxAttempts:
			if err := q.repo.MarkAttempt(ctx, e.ID, q.now(), err.Error()); err != nil {
				return report, err
			}
			blocked[e.TargetID] = true
			report.Deferred++
			q.log.Warn(ctx, "replay deferred", "id", e.ID, "target", e.TargetID, "err", err)

		default:
			reason := err.Error()
			if retryable(err) {
				reason = fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts+1, err)
			}
			moveErr := dbx.WithTx(ctx, q.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
				return NewSQLiteRepository(tx).MoveToDeadLetter(ctx, e, q.now(), reason)
			})
			if moveErr != nil {
				return report, moveErr
			}
			blocked[e.TargetID] = true
			report.DeadLettered++
			report.Errors = append(report.Errors,
				fmt.Errorf("entry %d (%s %s): %w", e.ID, e.Kind, e.TargetID, err))
			q.log.Warn(ctx, "replay dead-lettered", "id", e.ID, "target", e.TargetID, "err", err)
		}
	}

	return report, nil
}

func retryable(err error) bool {
	return errors.Is(err, common.ErrNetwork) || errors.Is(err, common.ErrSessionExpired)
}
