// Package testutil provides database, Redis and fixture helpers for tests.
package testutil

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/laviprog/speech-api/internal/domain/model"
)

// TaskRequestBuilder provides a fluent interface for building CreateTaskRequest values.
type TaskRequestBuilder struct {
	req *model.CreateTaskRequest
}

// NewTaskRequest creates a builder owned by apiKeyID with the default model.
func NewTaskRequest(apiKeyID string) *TaskRequestBuilder {
	return &TaskRequestBuilder{
		req: &model.CreateTaskRequest{
			APIKeyID: apiKeyID,
			Model:    model.DefaultASRModel,
		},
	}
}

// WithModel sets the ASR model.
func (b *TaskRequestBuilder) WithModel(m model.ASRModel) *TaskRequestBuilder {
	b.req.Model = m
	return b
}

// WithLanguage sets the declared language.
func (b *TaskRequestBuilder) WithLanguage(l model.Language) *TaskRequestBuilder {
	b.req.Language = &l
	return b
}

// WithDiarization enables speaker recognition with an optional speaker hint (0 = infer).
func (b *TaskRequestBuilder) WithDiarization(numSpeakers int) *TaskRequestBuilder {
	b.req.RecognitionMode = true
	if numSpeakers > 0 {
		b.req.NumSpeakers = &numSpeakers
	}
	return b
}

// WithAlignment enables the alignment stage.
func (b *TaskRequestBuilder) WithAlignment() *TaskRequestBuilder {
	b.req.AlignMode = true
	return b
}

// WithMedia sets the best-effort media metadata.
func (b *TaskRequestBuilder) WithMedia(duration float64, size int64) *TaskRequestBuilder {
	b.req.DurationSeconds = &duration
	b.req.FileSizeBytes = &size
	return b
}

// Build returns the built request.
func (b *TaskRequestBuilder) Build() *model.CreateTaskRequest {
	return b.req
}

// SeedAPIKey inserts an active API key for raw and returns its id.
func SeedAPIKey(t TestingTB, db *sql.DB, raw string) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sum := sha256.Sum256([]byte(raw))
	id := uuid.NewString()
	prefix := raw
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO api_keys (id, name, key_prefix, key_hash)
		VALUES ($1, $2, $3, $4)`, id, "test-"+prefix, prefix, hex.EncodeToString(sum[:])); err != nil {
		t.Fatalf("Failed to seed api key: %v", err)
	}
	return id
}
