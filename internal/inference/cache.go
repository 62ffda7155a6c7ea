package inference

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/laviprog/speech-api/internal/observability/metrics"
	"github.com/laviprog/speech-api/internal/observability/statsd"
)

var (
	// ErrCacheClosed is returned by every accessor once Cleanup has run.
	ErrCacheClosed = errors.New("model cache closed")
	// ErrUnexpectedHandle is returned when a loader produced a handle lacking the requested capability.
	ErrUnexpectedHandle = errors.New("model handle does not support requested capability")
)

// CacheOptions configures a Cache.
type CacheOptions struct {
	Loader  Loader
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// Cache memoizes loaded models for the lifetime of a worker process.
// Lookups of warm keys take only the read lock; a miss takes the write lock,
// re-checks, and loads while holding it so concurrent first requests for the
// same key load once. A failed load stores nothing.
type Cache struct {
	loader  Loader
	logger  *slog.Logger
	metrics statsd.Sink

	mu      sync.RWMutex
	handles map[Key]Handle
	closed  bool
}

// NewCache creates an empty Cache.
func NewCache(opts CacheOptions) *Cache {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		loader:  opts.Loader,
		logger:  logger.With("component", "model_cache"),
		metrics: opts.Metrics,
		handles: make(map[Key]Handle),
	}
}

// Get returns the handle for key, loading it on first use.
func (c *Cache) Get(ctx context.Context, key Key) (Handle, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, ErrCacheClosed
	}
	h, ok := c.handles[key]
	c.mu.RUnlock()
	if ok {
		return h, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrCacheClosed
	}
	if h, ok := c.handles[key]; ok {
		return h, nil
	}
	if c.loader == nil {
		return nil, fmt.Errorf("load %s: no loader configured", key)
	}

	c.logger.InfoContext(ctx, "loading model", "kind", key.Kind, "model", key.ID)
	start := time.Now()
	h, err := c.loader.Load(ctx, key)
	if err == nil && h == nil {
		err = errors.New("loader returned no handle")
	}
	metrics.EmitModelLoad(c.metrics, metrics.ModelLoadMetric{
		Kind:     string(key.Kind),
		ID:       key.ID,
		Duration: time.Since(start),
		Err:      err,
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "model load failed", "kind", key.Kind, "model", key.ID, "error", err)
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	c.logger.InfoContext(ctx, "model loaded",
		"kind", key.Kind, "model", key.ID, "duration_ms", time.Since(start).Milliseconds())
	c.handles[key] = h
	return h, nil
}

// Recognizer returns the ASR model with the given name.
func (c *Cache) Recognizer(ctx context.Context, model string) (Recognizer, error) {
	return getAs[Recognizer](ctx, c, ASRKey(model))
}

// Aligner returns the alignment model for a language.
func (c *Cache) Aligner(ctx context.Context, language string) (Aligner, error) {
	return getAs[Aligner](ctx, c, AlignmentKey(language))
}

// Diarizer returns the diarization pipeline.
func (c *Cache) Diarizer(ctx context.Context) (Diarizer, error) {
	return getAs[Diarizer](ctx, c, DiarizationKey())
}

func getAs[T Handle](ctx context.Context, c *Cache, key Key) (T, error) {
	var zero T
	h, err := c.Get(ctx, key)
	if err != nil {
		return zero, err
	}
	typed, ok := h.(T)
	if !ok {
		return zero, fmt.Errorf("%s: %w", key, ErrUnexpectedHandle)
	}
	return typed, nil
}

// Preload loads every key, continuing past failures. The returned error joins
// all individual load failures.
func (c *Cache) Preload(ctx context.Context, keys ...Key) error {
	var errs []error
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := c.Get(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Loaded reports whether key is currently cached.
func (c *Cache) Loaded(key Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.handles[key]
	return ok
}

// Len returns the number of cached handles.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handles)
}

// Cleanup releases every cached handle and closes the cache. It is safe to
// call more than once; only the first call releases handles.
func (c *Cache) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	handles := c.handles
	c.handles = make(map[Key]Handle)
	c.mu.Unlock()

	keys := slices.SortedFunc(maps.Keys(handles), func(a, b Key) int {
		if a.Kind != b.Kind {
			return cmp.Compare(a.Kind, b.Kind)
		}
		return cmp.Compare(a.ID, b.ID)
	})

	var errs []error
	for _, key := range keys {
		if err := handles[key].Close(ctx); err != nil {
			c.logger.WarnContext(ctx, "release model failed", "kind", key.Kind, "model", key.ID, "error", err)
			errs = append(errs, fmt.Errorf("release %s: %w", key, err))
		}
	}
	c.logger.InfoContext(ctx, "model cache cleaned up", "released", len(keys))
	return errors.Join(errs...)
}
