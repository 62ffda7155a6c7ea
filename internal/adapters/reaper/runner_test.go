package reaper

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/laviprog/speech-api/config"
	"github.com/laviprog/speech-api/internal/domain/model"
)

type countingRepo struct{ calls atomic.Int32 }

func (c *countingRepo) FailStaleTasks(context.Context, time.Duration, int) ([]*model.TranscriptionTask, error) {
	c.calls.Add(1)
	return nil, nil
}

func TestNewRunner_RequiresStorage(t *testing.T) {
	_, err := NewRunner(RunnerOptions{})
	require.Error(t, err)
}

func TestRunner_RunStopsOnCancel(t *testing.T) {
	repo := &countingRepo{}
	r, err := NewRunner(RunnerOptions{
		Repo:   repo,
		Config: config.ReaperConfig{Interval: 50 * time.Millisecond, StaleMaxAge: time.Hour, BatchSize: 10},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return repo.calls.Load() > 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}
