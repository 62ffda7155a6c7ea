package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/laviprog/speech-api/internal/data/pgxutil"
	"github.com/laviprog/speech-api/internal/domain/model"
)

// Advisory lock keys for reaper operations, used with the two-argument
// pg_try_advisory_xact_lock(major, minor).
const (
	advisoryLockReaperMajor     = 4100
	advisoryLockReaperFailStale = 1
)

// StaleTaskMessage is recorded on tasks the reaper gives up on.
const StaleTaskMessage = "task timed out before completion"

// FailStaleTasks marks IN_PROGRESS tasks whose last attempt started before
// now-maxAge as FAILED and returns them. PENDING tasks are never touched: their
// delivery may still be waiting in the broker. At most batchSize rows are
// touched per call. Concurrent reapers skip the batch when another instance
// holds the advisory lock.
func (r *TaskRepo) FailStaleTasks(ctx context.Context, maxAge time.Duration, batchSize int) ([]*model.TranscriptionTask, error) {
	if maxAge <= 0 {
		return nil, errors.New("max age must be greater than zero")
	}
	if batchSize <= 0 {
		return nil, errors.New("batch size must be greater than zero")
	}

	var failed []*model.TranscriptionTask
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx,
				"SELECT pg_try_advisory_xact_lock($1, $2)",
				advisoryLockReaperMajor, advisoryLockReaperFailStale,
			).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				return nil
			}

			now := r.timeProvider.Now().UTC()
			rows, err := tx.QueryContext(ctx, `
				UPDATE transcription_tasks AS t
				SET status = 'FAILED', message = $1, completed_at = $2, updated_at = $2
				WHERE t.id IN (
					SELECT id FROM transcription_tasks
					WHERE status = 'IN_PROGRESS'
					  AND deleted_at IS NULL
					  AND started_at < $3
					ORDER BY started_at
					LIMIT $4
					FOR UPDATE SKIP LOCKED
				)
				RETURNING`+taskColumns, StaleTaskMessage, now, now.Add(-maxAge), batchSize)
			if err != nil {
				return fmt.Errorf("fail stale tasks: %w", err)
			}
			defer rows.Close()

			for rows.Next() {
				task, err := scanTask(rows, nil)
				if err != nil {
					return fmt.Errorf("scan stale task: %w", err)
				}
				failed = append(failed, task)
			}
			return rows.Err()
		},
	})
	if err != nil {
		return nil, err
	}
	return failed, nil
}
