package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/laviprog/speech-api/internal/domain/model"
	apperrors "github.com/laviprog/speech-api/internal/errors"
)

// APIKeyRepo persists hashed API keys.
type APIKeyRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewAPIKeyRepo creates an APIKeyRepo. A nil TimeProvider uses the wall clock.
func NewAPIKeyRepo(db *sql.DB, tp TimeProvider) *APIKeyRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &APIKeyRepo{DB: db, timeProvider: tp}
}

const apiKeyColumns = `id, name, key_prefix, key_hash, is_active, last_used_at, created_at`

// Create stores a new active key.
func (r *APIKeyRepo) Create(ctx context.Context, req *model.CreateAPIKeyRequest) (*model.APIKey, error) {
	if req == nil {
		return nil, errors.New("create api key request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := r.timeProvider.Now().UTC()
	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO api_keys (id, name, key_prefix, key_hash, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, $5, $5)
		RETURNING `+apiKeyColumns,
		uuid.NewString(), req.Name, req.KeyPrefix, req.KeyHash, now)
	key, err := scanAPIKey(row)
	if err != nil {
		return nil, fmt.Errorf("insert api key: %w", apperrors.MapDBError(err))
	}
	return key, nil
}

// FindActiveByHash returns the active, non-deleted key with the given hash.
func (r *APIKeyRepo) FindActiveByHash(ctx context.Context, keyHash string) (*model.APIKey, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys
		WHERE key_hash = $1 AND is_active AND deleted_at IS NULL`, keyHash)
	key, err := scanAPIKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find api key: %w", apperrors.MapDBError(err))
	}
	return key, nil
}

// TouchLastUsed records a successful authentication.
func (r *APIKeyRepo) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	if _, err := r.DB.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, at.UTC(),
	); err != nil {
		return fmt.Errorf("touch api key: %w", apperrors.MapDBError(err))
	}
	return nil
}

// Revoke deactivates and soft-deletes a key. Tasks it owns stay readable by operators only.
func (r *APIKeyRepo) Revoke(ctx context.Context, id string) error {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE api_keys SET is_active = FALSE, deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL`, id, now)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", apperrors.MapDBError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

func scanAPIKey(row rowScanner) (*model.APIKey, error) {
	var (
		key      model.APIKey
		lastUsed sql.NullTime
	)
	if err := row.Scan(
		&key.ID, &key.Name, &key.KeyPrefix, &key.KeyHash, &key.IsActive, &lastUsed, &key.CreatedAt,
	); err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		ts := lastUsed.Time.UTC()
		key.LastUsedAt = &ts
	}
	key.CreatedAt = key.CreatedAt.UTC()
	return &key, nil
}
