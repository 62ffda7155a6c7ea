package failurenotifier

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laviprog/speech-api/internal/observability/notify"
)

type captureSink struct {
	mu       sync.Mutex
	received []notify.TaskFailurePayload
	err      error
}

func (c *captureSink) SendTaskFailure(_ context.Context, p notify.TaskFailurePayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append(c.received, p)
	return c.err
}

func TestServiceNotifyTaskFailure(t *testing.T) {
	a, b := &captureSink{}, &captureSink{err: errors.New("webhook down")}
	svc := NewService(Options{
		Sinks: []SinkRegistration{{Name: "a", Sink: a}, {Sink: b}, {Name: "nil"}},
	})
	require.True(t, svc.Enabled())

	svc.NotifyTaskFailure(context.Background(), notify.TaskFailurePayload{TaskID: "123"})

	require.Len(t, a.received, 1)
	require.Len(t, b.received, 1)
	assert.Equal(t, notify.SeverityCritical, a.received[0].Severity)
}

func TestServiceSkipsIgnoredClasses(t *testing.T) {
	sink := &captureSink{}
	svc := NewService(Options{
		Sinks:         []SinkRegistration{{Name: "capture", Sink: sink}},
		IgnoreClasses: []string{"pipeline_load_audio"},
	})

	svc.NotifyTaskFailure(context.Background(), notify.TaskFailurePayload{TaskID: "1", ErrorClass: "pipeline_load_audio"})
	svc.NotifyTaskFailure(context.Background(), notify.TaskFailurePayload{TaskID: "2", ErrorClass: "pipeline_asr"})

	require.Len(t, sink.received, 1)
	assert.Equal(t, "2", sink.received[0].TaskID)
}

func TestServiceDisabled(t *testing.T) {
	assert.False(t, NewService(Options{}).Enabled())

	var nilSvc *Service
	assert.False(t, nilSvc.Enabled())
	nilSvc.NotifyTaskFailure(context.Background(), notify.TaskFailurePayload{})
}
