package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laviprog/speech-api/internal/domain/model"
)

type funcAuth func(ctx context.Context, raw string) (*model.APIKey, error)

func (f funcAuth) Authenticate(ctx context.Context, raw string) (*model.APIKey, error) {
	return f(ctx, raw)
}

func TestRequireAPIKey(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := APIKeyFromContext(r.Context())
		assert.True(t, ok)
		assert.Equal(t, "key-1", key.ID)
		w.WriteHeader(http.StatusNoContent)
	})

	cases := []struct {
		name       string
		header     string
		wantStatus int
		wantMsg    string
	}{
		{name: "valid", header: "Bearer " + testToken, wantStatus: http.StatusNoContent},
		{name: "missing header", wantStatus: http.StatusUnauthorized, wantMsg: "Invalid authorization"},
		{name: "wrong scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized, wantMsg: "Invalid authorization"},
		{name: "empty token", header: "Bearer   ", wantStatus: http.StatusUnauthorized, wantMsg: "Invalid authorization"},
		{name: "unknown key", header: "Bearer sk_other", wantStatus: http.StatusUnauthorized, wantMsg: "Invalid API key"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()

			RequireAPIKey(stubAuth{}, nil)(okHandler).ServeHTTP(rec, req)

			require.Equal(t, tc.wantStatus, rec.Code)
			if tc.wantMsg != "" {
				assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
				assert.Equal(t, tc.wantMsg, decodeBody(t, rec)["message"])
			}
		})
	}
}

func TestRequireAPIKey_StoreFailureIsServerError(t *testing.T) {
	auth := funcAuth(func(context.Context, string) (*model.APIKey, error) {
		return nil, errors.New("db down")
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer x")
	rec := httptest.NewRecorder()

	RequireAPIKey(auth, nil)(http.NotFoundHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("X-Request-ID")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestRecover(t *testing.T) {
	h := Recover(discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, msgInternal, decodeBody(t, rec)["message"])
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.NotFoundHandler(), mw("outer"), mw("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestErrorStatus(t *testing.T) {
	status, code := ErrorStatus(context.DeadlineExceeded)
	assert.Equal(t, http.StatusGatewayTimeout, status)
	assert.Equal(t, "timeout", code)

	status, _ = ErrorStatus(&http.MaxBytesError{Limit: 1})
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)

	status, code = ErrorStatus(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal", code)
}
