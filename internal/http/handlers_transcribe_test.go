package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laviprog/speech-api/internal/audio"
	"github.com/laviprog/speech-api/internal/domain/model"
	apperrors "github.com/laviprog/speech-api/internal/errors"
	"github.com/laviprog/speech-api/internal/service"
	"github.com/laviprog/speech-api/internal/testutil"
)

const testToken = "sk_test_token"

type stubAuth struct{}

func (stubAuth) Authenticate(_ context.Context, raw string) (*model.APIKey, error) {
	if raw != testToken {
		return nil, service.ErrInvalidAPIKey
	}
	return &model.APIKey{ID: "key-1", IsActive: true}, nil
}

type stubTasks struct {
	submitted *service.SubmitInput
	body      []byte
	submitErr error

	task   *model.TranscriptionTask
	getErr error
	gotID  string
	gotKey string
}

func (s *stubTasks) Submit(_ context.Context, in service.SubmitInput) (*model.TranscriptionTask, error) {
	s.submitted = &in
	if in.Audio != nil {
		s.body, _ = io.ReadAll(in.Audio)
	}
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	msg := model.MessageQueued
	return &model.TranscriptionTask{
		ID:        "11111111-1111-1111-1111-111111111111",
		Status:    model.TaskStatusPending,
		Message:   &msg,
		CreatedAt: testutil.TestTime(),
	}, nil
}

func (s *stubTasks) Get(_ context.Context, id, apiKeyID string) (*model.TranscriptionTask, error) {
	s.gotID, s.gotKey = id, apiKeyID
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.task, nil
}

func newTestRouter(tasks *stubTasks) http.Handler {
	return NewRouter(RouterServices{
		Tasks:          tasks,
		APIKeys:        stubAuth{},
		RootPath:       "/api/v1",
		MaxUploadBytes: 1 << 20,
	})
}

func multipartRequest(t *testing.T, fields map[string]string, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcribe", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testToken)
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSubmit_Accepted(t *testing.T) {
	tasks := &stubTasks{}
	req := multipartRequest(t, map[string]string{
		"model":            "small",
		"language":         "en",
		"recognition_mode": "true",
		"num_speakers":     "2",
		"align_mode":       "1",
	}, "meeting.wav", []byte("RIFF"))
	rec := httptest.NewRecorder()

	newTestRouter(tasks).ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", body["task_id"])
	assert.Equal(t, "PENDING", body["status"])
	assert.Equal(t, "queued", body["message"])
	assert.Equal(t, "2024-01-01T12:00:00Z", body["created_at"])

	in := tasks.submitted
	require.NotNil(t, in)
	assert.Equal(t, "key-1", in.APIKeyID)
	assert.Equal(t, "meeting.wav", in.Filename)
	assert.Equal(t, model.ASRModelSmall, in.Model)
	require.NotNil(t, in.Language)
	assert.Equal(t, model.LanguageEnglish, *in.Language)
	assert.True(t, in.RecognitionMode)
	assert.True(t, in.AlignMode)
	require.NotNil(t, in.NumSpeakers)
	assert.Equal(t, 2, *in.NumSpeakers)
	assert.Equal(t, []byte("RIFF"), tasks.body)
}

func TestSubmit_DefaultsLeaveModelToService(t *testing.T) {
	tasks := &stubTasks{}
	rec := httptest.NewRecorder()
	newTestRouter(tasks).ServeHTTP(rec, multipartRequest(t, nil, "a.mp3", []byte("ID3")))

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, tasks.submitted.Model)
	assert.Nil(t, tasks.submitted.Language)
	assert.Nil(t, tasks.submitted.NumSpeakers)
	assert.False(t, tasks.submitted.RecognitionMode)
}

func TestSubmit_Errors(t *testing.T) {
	cases := []struct {
		name       string
		fields     map[string]string
		filename   string
		submitErr  error
		wantStatus int
		wantField  string
	}{
		{name: "missing file", wantStatus: http.StatusUnprocessableEntity, wantField: "file"},
		{
			name:       "non integer speakers",
			fields:     map[string]string{"num_speakers": "two"},
			filename:   "a.wav",
			wantStatus: http.StatusUnprocessableEntity,
			wantField:  "num_speakers",
		},
		{
			name:       "bad boolean",
			fields:     map[string]string{"align_mode": "maybe"},
			filename:   "a.wav",
			wantStatus: http.StatusUnprocessableEntity,
			wantField:  "align_mode",
		},
		{
			name:       "service validation",
			filename:   "a.wav",
			submitErr:  apperrors.ValidationField("language", "language must be one of [ru en]"),
			wantStatus: http.StatusUnprocessableEntity,
			wantField:  "language",
		},
		{
			name:       "bad extension",
			filename:   "a.txt",
			submitErr:  audio.ErrInvalidAudioFile,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "broker down",
			filename:   "a.wav",
			submitErr:  assert.AnError,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tasks := &stubTasks{submitErr: tc.submitErr}
			rec := httptest.NewRecorder()
			newTestRouter(tasks).ServeHTTP(rec, multipartRequest(t, tc.fields, tc.filename, []byte("x")))

			require.Equal(t, tc.wantStatus, rec.Code)
			body := decodeBody(t, rec)
			if tc.wantField != "" {
				assert.Equal(t, tc.wantField, body["field"])
			}
			if tc.wantStatus == http.StatusInternalServerError {
				assert.Equal(t, msgInternal, body["message"])
			}
		})
	}
}

func TestSubmit_InvalidAudioMessage(t *testing.T) {
	tasks := &stubTasks{submitErr: audio.ErrInvalidAudioFile}
	rec := httptest.NewRecorder()
	newTestRouter(tasks).ServeHTTP(rec, multipartRequest(t, nil, "a.txt", []byte("x")))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid audio file", decodeBody(t, rec)["message"])
}

func TestSubmit_TooLarge(t *testing.T) {
	tasks := &stubTasks{}
	router := NewRouter(RouterServices{Tasks: tasks, APIKeys: stubAuth{}, RootPath: "/api/v1", MaxUploadBytes: 1})
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, multipartRequest(t, nil, "a.wav", bytes.Repeat([]byte("x"), 2<<20)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Nil(t, tasks.submitted)
}

func TestGetTask(t *testing.T) {
	started := testutil.TestTime().Add(time.Second)
	completed := started.Add(time.Minute)
	msg := model.MessageCompleted
	speaker := 1

	t.Run("completed with result", func(t *testing.T) {
		tasks := &stubTasks{task: &model.TranscriptionTask{
			ID:          "t1",
			Status:      model.TaskStatusCompleted,
			Message:     &msg,
			CreatedAt:   testutil.TestTime(),
			StartedAt:   &started,
			CompletedAt: &completed,
			Result:      []model.Segment{{Number: 1, Content: "hello", Speaker: &speaker, Start: 0, End: 1.5}},
		}}
		req := httptest.NewRequest(http.MethodGet, "/api/v1/transcribe/t1", nil)
		req.Header.Set("Authorization", "Bearer "+testToken)
		rec := httptest.NewRecorder()

		newTestRouter(tasks).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "t1", tasks.gotID)
		assert.Equal(t, "key-1", tasks.gotKey)
		body := decodeBody(t, rec)
		assert.Equal(t, "COMPLETED", body["status"])
		assert.Equal(t, "2024-01-01T12:00:01Z", body["started_at"])
		result, ok := body["result"].([]any)
		require.True(t, ok)
		require.Len(t, result, 1)
		seg := result[0].(map[string]any)
		assert.Equal(t, "hello", seg["content"])
		assert.EqualValues(t, 1, seg["speaker"])
	})

	t.Run("completed with empty result keeps the list", func(t *testing.T) {
		tasks := &stubTasks{task: &model.TranscriptionTask{
			ID: "t1", Status: model.TaskStatusCompleted, Result: []model.Segment{}, CreatedAt: testutil.TestTime(),
		}}
		req := httptest.NewRequest(http.MethodGet, "/api/v1/transcribe/t1", nil)
		req.Header.Set("Authorization", "Bearer "+testToken)
		rec := httptest.NewRecorder()

		newTestRouter(tasks).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, string(mustMarshal(t, decodeBody(t, rec)["result"])))
	})

	t.Run("pending omits nulls", func(t *testing.T) {
		tasks := &stubTasks{task: &model.TranscriptionTask{
			ID: "t1", Status: model.TaskStatusPending, CreatedAt: testutil.TestTime(),
		}}
		req := httptest.NewRequest(http.MethodGet, "/api/v1/transcribe/t1", nil)
		req.Header.Set("Authorization", "Bearer "+testToken)
		rec := httptest.NewRecorder()

		newTestRouter(tasks).ServeHTTP(rec, req)

		body := decodeBody(t, rec)
		assert.NotContains(t, body, "result")
		assert.NotContains(t, body, "started_at")
		assert.NotContains(t, body, "completed_at")
		assert.NotContains(t, body, "message")
	})

	t.Run("not found", func(t *testing.T) {
		tasks := &stubTasks{getErr: apperrors.NotFound("Task not found")}
		req := httptest.NewRequest(http.MethodGet, "/api/v1/transcribe/t1", nil)
		req.Header.Set("Authorization", "Bearer "+testToken)
		rec := httptest.NewRecorder()

		newTestRouter(tasks).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Task not found", decodeBody(t, rec)["message"])
	})

	t.Run("malformed id", func(t *testing.T) {
		tasks := &stubTasks{getErr: apperrors.ValidationField("task_id", "task_id must be a UUID")}
		req := httptest.NewRequest(http.MethodGet, "/api/v1/transcribe/nope", nil)
		req.Header.Set("Authorization", "Bearer "+testToken)
		rec := httptest.NewRecorder()

		newTestRouter(tasks).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestCatalogHandlers(t *testing.T) {
	router := newTestRouter(&stubTasks{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/models", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"models":["small","medium","turbo"]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/languages", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"languages":["ru","en"]}`, rec.Body.String())
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
