package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/laviprog/speech-api/internal/data"
	"github.com/laviprog/speech-api/internal/domain/model"
	"github.com/laviprog/speech-api/internal/mocks"
	"github.com/laviprog/speech-api/internal/observability/notify"
	"github.com/laviprog/speech-api/internal/testutil"
)

func newTestReporter(t *testing.T) (*StatusReporter, *mocks.MockTaskRepository) {
	t.Helper()
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockTaskRepository(ctrl)
	r, err := NewStatusReporter(StatusReporterOptions{
		Repo:         repo,
		TimeProvider: data.NewFixedTimeProvider(testutil.TestTime()),
	})
	require.NoError(t, err)
	return r, repo
}

func TestNewStatusReporter_RequiresRepo(t *testing.T) {
	_, err := NewStatusReporter(StatusReporterOptions{})
	require.Error(t, err)
}

func TestStatusReporter_BeforeStart(t *testing.T) {
	r, repo := newTestReporter(t)
	repo.EXPECT().MarkInProgress(gomock.Any(), "task-1", testutil.TestTime()).Return(nil)

	r.BeforeStart(context.Background(), "task-1")
}

func TestStatusReporter_BeforeStartSwallowsErrors(t *testing.T) {
	r, repo := newTestReporter(t)
	repo.EXPECT().MarkInProgress(gomock.Any(), "task-1", gomock.Any()).Return(errors.New("connection reset"))

	assert.NotPanics(t, func() { r.BeforeStart(context.Background(), "task-1") })
}

func TestStatusReporter_OnSuccess(t *testing.T) {
	t.Run("stores segments", func(t *testing.T) {
		r, repo := newTestReporter(t)
		segs := []model.Segment{{Number: 1, Content: "hello", Start: 0, End: 1}}
		repo.EXPECT().MarkCompleted(gomock.Any(), "task-1", segs, testutil.TestTime()).Return(nil)

		r.OnSuccess(context.Background(), "task-1", &model.TaskResult{Result: segs})
	})

	t.Run("nil result stores an empty list", func(t *testing.T) {
		r, repo := newTestReporter(t)
		repo.EXPECT().MarkCompleted(gomock.Any(), "task-1", []model.Segment{}, gomock.Any()).Return(nil)

		r.OnSuccess(context.Background(), "task-1", nil)
	})

	t.Run("finalized task is tolerated", func(t *testing.T) {
		r, repo := newTestReporter(t)
		repo.EXPECT().MarkCompleted(gomock.Any(), "task-1", gomock.Any(), gomock.Any()).Return(data.ErrTaskFinalized)

		assert.NotPanics(t, func() { r.OnSuccess(context.Background(), "task-1", &model.TaskResult{}) })
	})
}

func TestStatusReporter_OnFailure(t *testing.T) {
	t.Run("uses the error text", func(t *testing.T) {
		r, repo := newTestReporter(t)
		repo.EXPECT().MarkFailed(gomock.Any(), "task-1", "decode failed", testutil.TestTime()).Return(nil)

		r.OnFailure(context.Background(), "task-1", errors.New("decode failed"))
	})

	t.Run("empty error falls back to generic message", func(t *testing.T) {
		r, repo := newTestReporter(t)
		repo.EXPECT().MarkFailed(gomock.Any(), "task-1", model.MessageFailed, gomock.Any()).Return(nil)

		r.OnFailure(context.Background(), "task-1", errors.New("  "))
	})

	t.Run("persistence errors are swallowed", func(t *testing.T) {
		r, repo := newTestReporter(t)
		repo.EXPECT().MarkFailed(gomock.Any(), "task-1", gomock.Any(), gomock.Any()).Return(errors.New("db down"))

		assert.NotPanics(t, func() { r.OnFailure(context.Background(), "task-1", errors.New("boom")) })
	})
}

type recordingNotifier struct {
	payloads []notify.TaskFailurePayload
}

func (n *recordingNotifier) NotifyTaskFailure(_ context.Context, p notify.TaskFailurePayload) {
	n.payloads = append(n.payloads, p)
}

func newNotifyingReporter(t *testing.T) (*StatusReporter, *mocks.MockTaskRepository, *recordingNotifier) {
	t.Helper()
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockTaskRepository(ctrl)
	notifier := &recordingNotifier{}
	r, err := NewStatusReporter(StatusReporterOptions{
		Repo:         repo,
		TimeProvider: data.NewFixedTimeProvider(testutil.TestTime()),
		Notifier:     notifier,
	})
	require.NoError(t, err)
	return r, repo, notifier
}

func TestStatusReporter_OnFailureNotifies(t *testing.T) {
	t.Run("payload carries task details", func(t *testing.T) {
		r, repo, notifier := newNotifyingReporter(t)
		lang := model.LanguageRussian
		repo.EXPECT().MarkFailed(gomock.Any(), "task-1", "sidecar down", testutil.TestTime()).Return(nil)
		repo.EXPECT().GetByID(gomock.Any(), "task-1").Return(&model.TranscriptionTask{
			ID:       "task-1",
			APIKeyID: "key-1",
			Model:    model.ASRModelMedium,
			Language: &lang,
		}, nil)

		r.OnFailure(context.Background(), "task-1", errors.New("sidecar down"))

		require.Len(t, notifier.payloads, 1)
		got := notifier.payloads[0]
		assert.Equal(t, "task-1", got.TaskID)
		assert.Equal(t, "key-1", got.APIKeyID)
		assert.Equal(t, "medium", got.Model)
		assert.Equal(t, "ru", got.Language)
		assert.Equal(t, "sidecar down", got.Error)
		assert.Equal(t, testutil.TestTime(), got.OccurredAt)
	})

	t.Run("lookup failure still notifies", func(t *testing.T) {
		r, repo, notifier := newNotifyingReporter(t)
		repo.EXPECT().MarkFailed(gomock.Any(), "task-1", gomock.Any(), gomock.Any()).Return(nil)
		repo.EXPECT().GetByID(gomock.Any(), "task-1").Return(nil, data.ErrTaskNotFound)

		r.OnFailure(context.Background(), "task-1", context.DeadlineExceeded)

		require.Len(t, notifier.payloads, 1)
		assert.Equal(t, "timeout", notifier.payloads[0].ErrorClass)
		assert.Empty(t, notifier.payloads[0].Model)
	})

	t.Run("finalized task does not notify", func(t *testing.T) {
		r, repo, notifier := newNotifyingReporter(t)
		repo.EXPECT().MarkFailed(gomock.Any(), "task-1", gomock.Any(), gomock.Any()).Return(data.ErrTaskFinalized)

		r.OnFailure(context.Background(), "task-1", errors.New("boom"))

		assert.Empty(t, notifier.payloads)
	})
}

func TestFailureMessage(t *testing.T) {
	assert.Equal(t, model.MessageFailed, FailureMessage(nil))
	assert.Equal(t, model.MessageFailed, FailureMessage(errors.New("")))
	assert.Equal(t, "decode failed", FailureMessage(errors.New(" decode failed ")))
}
