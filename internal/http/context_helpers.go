package httpx

import (
	"context"

	"github.com/laviprog/speech-api/internal/domain/model"
)

// apiKeyCtxKey is an unexported context key type to avoid collisions across packages.
type apiKeyCtxKey struct{}

// SetAPIKeyInContext returns a child context that carries the authenticated key.
// If key is nil, the original ctx is returned unchanged.
func SetAPIKeyInContext(ctx context.Context, key *model.APIKey) context.Context {
	if key == nil {
		return ctx
	}
	return context.WithValue(ctx, apiKeyCtxKey{}, key)
}

// APIKeyFromContext returns the authenticated key and a boolean indicating presence.
func APIKeyFromContext(ctx context.Context) (*model.APIKey, bool) {
	key, ok := ctx.Value(apiKeyCtxKey{}).(*model.APIKey)
	return key, ok && key != nil
}
