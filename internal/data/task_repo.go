package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/laviprog/speech-api/internal/data/pgxutil"
	"github.com/laviprog/speech-api/internal/domain/model"
	apperrors "github.com/laviprog/speech-api/internal/errors"
)

// TaskRepoConfig holds configuration options for the task repository.
type TaskRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// TaskRepo persists transcription task records and their results.
type TaskRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewTaskRepo creates a TaskRepo over db.
func NewTaskRepo(db *sql.DB, cfg TaskRepoConfig) *TaskRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskRepo{
		DB:           db,
		timeProvider: tp,
		logger:       logger.With("component", "task_repo"),
	}
}

const taskColumns = `
  t.id,
  t.api_key_id,
  t.status,
  t.message,
  t.model,
  t.language,
  t.recognition_mode,
  t.num_speakers,
  t.align_mode,
  t.duration_seconds,
  t.file_size_bytes,
  t.started_at,
  t.completed_at,
  t.created_at,
  t.updated_at`

// openStatuses are the states a worker hook may transition out of.
const openStatuses = `('PENDING', 'IN_PROGRESS')`

// Create inserts a PENDING task with message "queued".
func (r *TaskRepo) Create(ctx context.Context, req *model.CreateTaskRequest) (*model.TranscriptionTask, error) {
	if req == nil {
		return nil, errors.New("create task request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var lang *string
	if req.Language != nil {
		s := string(*req.Language)
		lang = &s
	}

	now := r.timeProvider.Now().UTC()
	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO transcription_tasks AS t (
			id, api_key_id, status, message, model, language, recognition_mode,
			num_speakers, align_mode, duration_seconds, file_size_bytes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		RETURNING`+taskColumns,
		uuid.NewString(), req.APIKeyID, model.TaskStatusPending, model.MessageQueued, req.Model, lang,
		req.RecognitionMode, req.NumSpeakers, req.AlignMode, req.DurationSeconds, req.FileSizeBytes, now,
	)

	task, err := scanTask(row, nil)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", apperrors.MapDBError(err))
	}
	return task, nil
}

// GetForOwner loads a task and, when COMPLETED, its result. Tasks owned by
// another key are indistinguishable from missing ones.
func (r *TaskRepo) GetForOwner(ctx context.Context, id, apiKeyID string) (*model.TranscriptionTask, error) {
	return r.get(ctx, `t.id = $1 AND t.api_key_id = $2`, id, apiKeyID)
}

// GetByID loads a task regardless of owner. Used by operator tooling.
func (r *TaskRepo) GetByID(ctx context.Context, id string) (*model.TranscriptionTask, error) {
	return r.get(ctx, `t.id = $1`, id)
}

func (r *TaskRepo) get(ctx context.Context, where string, args ...any) (*model.TranscriptionTask, error) {
	if _, err := uuid.Parse(fmt.Sprint(args[0])); err != nil {
		return nil, ErrTaskNotFound
	}
	var segments []byte
	row := r.DB.QueryRowContext(ctx, `
		SELECT`+taskColumns+`, res.segments
		FROM transcription_tasks t
		LEFT JOIN transcription_results res ON res.task_id = t.id
		WHERE `+where+` AND t.deleted_at IS NULL`, args...)

	task, err := scanTask(row, &segments)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", apperrors.MapDBError(err))
	}

	if task.Status == model.TaskStatusCompleted {
		task.Result = []model.Segment{}
		if len(segments) > 0 {
			if uerr := json.Unmarshal(segments, &task.Result); uerr != nil {
				return nil, fmt.Errorf("decode result of task %s: %w", task.ID, uerr)
			}
		}
	}
	return task, nil
}

// MarkInProgress moves an open task to IN_PROGRESS with started_at = at.
// Re-entering IN_PROGRESS on a retry is allowed and refreshes started_at.
func (r *TaskRepo) MarkInProgress(ctx context.Context, id string, at time.Time) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE transcription_tasks
		SET status = 'IN_PROGRESS', message = $2, started_at = $3, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL AND status IN `+openStatuses,
		id, model.MessageProcessing, at.UTC())
	if err != nil {
		return fmt.Errorf("mark task in progress: %w", apperrors.MapDBError(err))
	}
	return r.checkTransition(ctx, id, res)
}

// MarkCompleted moves an open task to COMPLETED and stores its segments in
// the same transaction. A nil segment slice is stored as an empty list.
func (r *TaskRepo) MarkCompleted(ctx context.Context, id string, segments []model.Segment, at time.Time) error {
	if segments == nil {
		segments = []model.Segment{}
	}
	body, err := json.Marshal(segments)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	var finalized bool
	txErr := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			tag, execErr := tx.Exec(ctx, `
				UPDATE transcription_tasks
				SET status = 'COMPLETED', message = $2, completed_at = $3, updated_at = $3
				WHERE id = $1 AND deleted_at IS NULL AND status IN `+openStatuses,
				id, model.MessageCompleted, at.UTC())
			if execErr != nil {
				return fmt.Errorf("mark task completed: %w", execErr)
			}
			if tag.RowsAffected() == 0 {
				finalized = true
				return nil
			}
			if _, execErr = tx.Exec(ctx, `
				INSERT INTO transcription_results (task_id, segments, created_at, updated_at)
				VALUES ($1, $2::jsonb, $3, $3)
				ON CONFLICT (task_id) DO UPDATE
				SET segments = EXCLUDED.segments, updated_at = EXCLUDED.updated_at`,
				id, string(body), at.UTC()); execErr != nil {
				return fmt.Errorf("store task result: %w", execErr)
			}
			return nil
		},
	})
	if txErr != nil {
		return apperrors.MapDBError(txErr)
	}
	if finalized {
		return r.explainNoTransition(ctx, id)
	}
	return nil
}

// MarkFailed moves an open task to FAILED with the given message.
func (r *TaskRepo) MarkFailed(ctx context.Context, id, message string, at time.Time) error {
	if message == "" {
		message = model.MessageFailed
	}
	res, err := r.DB.ExecContext(ctx, `
		UPDATE transcription_tasks
		SET status = 'FAILED', message = $2, completed_at = $3, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL AND status IN `+openStatuses,
		id, message, at.UTC())
	if err != nil {
		return fmt.Errorf("mark task failed: %w", apperrors.MapDBError(err))
	}
	return r.checkTransition(ctx, id, res)
}

func (r *TaskRepo) checkTransition(ctx context.Context, id string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	return r.explainNoTransition(ctx, id)
}

// explainNoTransition distinguishes a missing task from one that is already terminal.
func (r *TaskRepo) explainNoTransition(ctx context.Context, id string) error {
	var status model.TaskStatus
	err := r.DB.QueryRowContext(ctx,
		`SELECT status FROM transcription_tasks WHERE id = $1 AND deleted_at IS NULL`, id,
	).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrTaskNotFound
	case err != nil:
		return fmt.Errorf("load task status: %w", apperrors.MapDBError(err))
	default:
		return fmt.Errorf("%w: status %s", ErrTaskFinalized, status)
	}
}

// CountByStatus returns the number of non-deleted tasks per status.
func (r *TaskRepo) CountByStatus(ctx context.Context) (model.TaskStats, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT status, count(*) FROM transcription_tasks
		WHERE deleted_at IS NULL
		GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", apperrors.MapDBError(err))
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			r.logger.WarnContext(ctx, "close task count rows", "error", cerr)
		}
	}()

	stats := model.TaskStats{}
	for rows.Next() {
		var (
			status model.TaskStatus
			n      int
		)
		if scanErr := rows.Scan(&status, &n); scanErr != nil {
			return nil, fmt.Errorf("scan task count: %w", scanErr)
		}
		stats[status] = n
	}
	if iterErr := rows.Err(); iterErr != nil {
		return nil, fmt.Errorf("iterate task counts: %w", iterErr)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner, extra *[]byte) (*model.TranscriptionTask, error) {
	var (
		task        model.TranscriptionTask
		message     sql.NullString
		language    sql.NullString
		numSpeakers sql.NullInt64
		duration    sql.NullFloat64
		size        sql.NullInt64
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	dest := []any{
		&task.ID, &task.APIKeyID, &task.Status, &message, &task.Model, &language,
		&task.RecognitionMode, &numSpeakers, &task.AlignMode, &duration, &size,
		&startedAt, &completedAt, &task.CreatedAt, &task.UpdatedAt,
	}
	if extra != nil {
		dest = append(dest, extra)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if message.Valid {
		task.Message = &message.String
	}
	if language.Valid {
		l := model.Language(language.String)
		task.Language = &l
	}
	if numSpeakers.Valid {
		n := int(numSpeakers.Int64)
		task.NumSpeakers = &n
	}
	if duration.Valid {
		task.DurationSeconds = &duration.Float64
	}
	if size.Valid {
		task.FileSizeBytes = &size.Int64
	}
	if startedAt.Valid {
		ts := startedAt.Time.UTC()
		task.StartedAt = &ts
	}
	if completedAt.Valid {
		ts := completedAt.Time.UTC()
		task.CompletedAt = &ts
	}
	task.CreatedAt = task.CreatedAt.UTC()
	task.UpdatedAt = task.UpdatedAt.UTC()
	return &task, nil
}
