package bootstrap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laviprog/speech-api/config"
)

func TestErrorChannelCapacity(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{
			name: "no services enabled",
			want: 0,
		},
		{
			name:  "http only",
			modes: []config.ServiceMode{config.ServiceModeHTTP},
			want:  1,
		},
		{
			name:  "worker and reaper",
			modes: []config.ServiceMode{config.ServiceModeWorker, config.ServiceModeReaper},
			want:  2,
		},
		{
			name: "all services enabled",
			modes: []config.ServiceMode{
				config.ServiceModeHTTP,
				config.ServiceModeWorker,
				config.ServiceModeReaper,
			},
			want: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			if got := errorChannelCapacity(enabled); got != tt.want {
				t.Fatalf("errorChannelCapacity(%v) = %d, want %d", tt.modes, got, tt.want)
			}
			if got := errorChannelBufferSize(enabled); got != tt.want+1 {
				t.Fatalf("errorChannelBufferSize(%v) = %d, want %d", tt.modes, got, tt.want+1)
			}
		})
	}
}

func TestGetEnabledServices_StableOrder(t *testing.T) {
	cfg := &config.AppConfig{Services: "reaper, http,worker"}
	assert.Equal(t, []string{"http", "worker", "reaper"}, GetEnabledServices(cfg))

	assert.Empty(t, GetEnabledServices(&config.AppConfig{Services: "bogus"}))
	assert.Empty(t, GetEnabledServices(nil))
}

func TestValidateServiceConfig(t *testing.T) {
	require.NoError(t, ValidateServiceConfig(&config.AppConfig{Services: "worker"}))
	require.Error(t, ValidateServiceConfig(&config.AppConfig{Services: ""}))
	require.Error(t, ValidateServiceConfig(&config.AppConfig{Services: "http,scheduler"}))
	require.Error(t, ValidateServiceConfig(nil))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLaunchBackground_SkipsDisabledMode(t *testing.T) {
	deps := &serviceStartupDeps{
		ctx:             context.Background(),
		logger:          testLogger(),
		enabledServices: map[config.ServiceMode]bool{config.ServiceModeHTTP: true},
		errCh:           make(chan error, 1),
	}
	done := launchBackground(deps.ctx, deps, backgroundService{
		mode:  config.ServiceModeWorker,
		name:  "worker",
		start: func(context.Context) error { t.Fatal("must not start"); return nil },
	})
	assert.Nil(t, done)
}

func TestLaunchBackground_ForwardsError(t *testing.T) {
	deps := &serviceStartupDeps{
		ctx:             context.Background(),
		logger:          testLogger(),
		enabledServices: map[config.ServiceMode]bool{config.ServiceModeReaper: true},
		errCh:           make(chan error, 1),
	}
	boom := errors.New("boom")
	done := launchBackground(deps.ctx, deps, backgroundService{
		mode:  config.ServiceModeReaper,
		name:  "reaper",
		start: func(context.Context) error { return boom },
	})
	require.NotNil(t, done)

	select {
	case err := <-deps.errCh:
		require.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "reaper failed")
	case <-time.After(time.Second):
		t.Fatal("expected error from background service")
	}
	<-done
}

func TestWaitForShutdown_SignalCancelsBackgrounds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
	}()

	sig := make(chan os.Signal, 1)
	sig <- os.Interrupt

	err := waitForShutdown(shutdownConfig{
		ctx:         ctx,
		cancel:      cancel,
		errCh:       make(chan error),
		logger:      testLogger(),
		backgrounds: []backgroundServiceHandle{{mode: config.ServiceModeWorker, name: "worker", done: done}},
		signals:     sig,
	})
	require.NoError(t, err)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestWaitForShutdown_ReturnsServiceError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	boom := errors.New("worker failed: boom")
	errCh <- boom

	err := waitForShutdown(shutdownConfig{
		ctx:     ctx,
		cancel:  cancel,
		errCh:   errCh,
		logger:  testLogger(),
		signals: make(chan os.Signal),
	})
	require.ErrorIs(t, err, boom)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestNewServices_RequiresDependencies(t *testing.T) {
	_, err := NewServices(nil)
	require.ErrorIs(t, err, errMissingAppConfig)

	_, err = NewServices(&ServiceDeps{Config: &config.AppConfig{}})
	require.Error(t, err)
}

func TestBuildObservability_Disabled(t *testing.T) {
	obs := BuildObservability(context.Background(), testLogger(), config.ObservabilityConfig{})
	assert.Nil(t, obs.MetricsSink)
	assert.Nil(t, obs.metrics())
	require.NotNil(t, obs.ShutdownTracing)
	require.NotNil(t, obs.FailureNotifier)
	assert.False(t, obs.FailureNotifier.Enabled())
	require.NoError(t, obs.Close(context.Background()))
}

func TestBuildFailureNotifier(t *testing.T) {
	t.Run("registers configured sinks", func(t *testing.T) {
		svc := buildFailureNotifier(testLogger(), config.ObservabilityNotificationsConfig{
			Enabled:   true,
			Slack:     config.SlackNotificationConfig{Enabled: true, WebhookURL: "https://hooks.slack.com/x"},
			PagerDuty: config.PagerDutyNotificationConfig{Enabled: true, RoutingKey: "rk"},
		})
		assert.True(t, svc.Enabled())
	})

	t.Run("invalid sink is skipped", func(t *testing.T) {
		svc := buildFailureNotifier(testLogger(), config.ObservabilityNotificationsConfig{
			Enabled: true,
			Slack:   config.SlackNotificationConfig{Enabled: true},
		})
		assert.False(t, svc.Enabled())
	})

	t.Run("disabled has no sinks", func(t *testing.T) {
		svc := buildFailureNotifier(testLogger(), config.ObservabilityNotificationsConfig{
			Slack: config.SlackNotificationConfig{Enabled: true, WebhookURL: "https://hooks.slack.com/x"},
		})
		assert.False(t, svc.Enabled())
	})
}

func TestBuildObservability_MetricsEnabled(t *testing.T) {
	obs := BuildObservability(context.Background(), testLogger(), config.ObservabilityConfig{
		Metrics: config.ObservabilityMetricsConfig{Enabled: true, StatsdAddress: "127.0.0.1:8125", Prefix: "speech"},
	})
	require.NotNil(t, obs.MetricsSink)
	assert.NotNil(t, obs.metrics())
	require.NoError(t, obs.Close(context.Background()))
}
