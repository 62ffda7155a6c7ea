package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/laviprog/speech-api/internal/core"
	"github.com/laviprog/speech-api/internal/data"
	"github.com/laviprog/speech-api/internal/domain/model"
	apperrors "github.com/laviprog/speech-api/internal/errors"
)

const (
	apiKeyPrefix      = "sk_"
	apiKeyRandomBytes = 24
	apiKeyDisplayLen  = 11
)

// ErrInvalidAPIKey is returned for missing, unknown and revoked keys.
var ErrInvalidAPIKey = apperrors.Unauthorized("Invalid API key")

// APIKeyServiceOptions groups dependencies for APIKeyService.
type APIKeyServiceOptions struct {
	Repo         core.APIKeyRepository // Required: credential storage
	TimeProvider data.TimeProvider     // Optional: defaults to the system clock
	Logger       *slog.Logger          // Optional: structured logger
}

// APIKeyService mints and verifies bearer API keys.
type APIKeyService struct {
	repo   core.APIKeyRepository
	clock  data.TimeProvider
	logger *slog.Logger
}

// NewAPIKeyService constructs a new APIKeyService.
func NewAPIKeyService(opts APIKeyServiceOptions) (*APIKeyService, error) {
	if opts.Repo == nil {
		return nil, errors.New("APIKeyRepository is required")
	}
	clock := opts.TimeProvider
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "api_key_service")
	}
	return &APIKeyService{repo: opts.Repo, clock: clock, logger: logger}, nil
}

// IssuedAPIKey pairs the stored key with its raw value, which is never stored.
type IssuedAPIKey struct {
	Key *model.APIKey
	Raw string
}

// Issue mints a new key. The raw value is only available in the return value.
func (s *APIKeyService) Issue(ctx context.Context, name string) (*IssuedAPIKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.ValidationField("name", "name is required")
	}

	buf := make([]byte, apiKeyRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate api key: %w", err)
	}
	raw := apiKeyPrefix + hex.EncodeToString(buf)

	key, err := s.repo.Create(ctx, &model.CreateAPIKeyRequest{
		Name:      name,
		KeyPrefix: raw[:apiKeyDisplayLen],
		KeyHash:   HashAPIKey(raw),
	})
	if err != nil {
		return nil, fmt.Errorf("store api key: %w", err)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "api key issued", "id", key.ID, "name", key.Name, "prefix", key.KeyPrefix)
	}
	return &IssuedAPIKey{Key: key, Raw: raw}, nil
}

// Authenticate resolves a raw bearer key to its active record and records the use.
func (s *APIKeyService) Authenticate(ctx context.Context, raw string) (*model.APIKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidAPIKey
	}
	key, err := s.repo.FindActiveByHash(ctx, HashAPIKey(raw))
	if err != nil {
		if errors.Is(err, data.ErrAPIKeyNotFound) {
			return nil, ErrInvalidAPIKey
		}
		return nil, fmt.Errorf("find api key: %w", err)
	}
	if err := s.repo.TouchLastUsed(ctx, key.ID, s.clock.Now()); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to record api key use", "id", key.ID, "error", err)
	}
	return key, nil
}

// Revoke deactivates a key.
func (s *APIKeyService) Revoke(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperrors.ValidationField("id", "invalid api key id")
	}
	if err := s.repo.Revoke(ctx, id); err != nil {
		if errors.Is(err, data.ErrAPIKeyNotFound) {
			return apperrors.NotFound("API key not found")
		}
		return fmt.Errorf("revoke api key: %w", err)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "api key revoked", "id", id)
	}
	return nil
}

// HashAPIKey returns the hex SHA-256 of a raw key as stored in api_keys.key_hash.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
