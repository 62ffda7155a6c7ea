package httpx

import (
	"context"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/laviprog/speech-api/internal/domain/model"
	apperrors "github.com/laviprog/speech-api/internal/errors"
	"github.com/laviprog/speech-api/internal/service"
)

const (
	// multipartMemory is how much of an upload is held in memory before spilling to disk.
	multipartMemory = 32 << 20
	// multipartOverhead leaves room for form fields and part headers around the file.
	multipartOverhead = 1 << 20
)

// TaskService is the submission and status side used by the handlers.
type TaskService interface {
	Submit(ctx context.Context, in service.SubmitInput) (*model.TranscriptionTask, error)
	Get(ctx context.Context, id, apiKeyID string) (*model.TranscriptionTask, error)
}

// TranscribeHandlers serves task submission and status.
type TranscribeHandlers struct {
	Svc            TaskService
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// TaskResponse is returned by a successful submission.
type TaskResponse struct {
	TaskID    string           `json:"task_id"`
	Status    model.TaskStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	Message   *string          `json:"message,omitempty"`
}

// TaskWithResultResponse is returned by the status endpoint. Result is present
// only for COMPLETED tasks, possibly as an empty list.
type TaskWithResultResponse struct {
	TaskResponse
	Result      *[]model.Segment `json:"result,omitempty"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

func newTaskResponse(t *model.TranscriptionTask) TaskResponse {
	return TaskResponse{TaskID: t.ID, Status: t.Status, CreatedAt: t.CreatedAt, Message: t.Message}
}

func newTaskWithResultResponse(t *model.TranscriptionTask) TaskWithResultResponse {
	resp := TaskWithResultResponse{
		TaskResponse: newTaskResponse(t),
		StartedAt:    t.StartedAt,
		CompletedAt:  t.CompletedAt,
	}
	if t.Result != nil {
		segments := t.Result
		resp.Result = &segments
	}
	return resp
}

// Submit handles POST /transcribe with a multipart body.
func (h *TranscribeHandlers) Submit(w http.ResponseWriter, r *http.Request) {
	key, ok := APIKeyFromContext(r.Context())
	if !ok {
		unauthorized(w, msgInvalidAuthorization)
		return
	}

	if h.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes+multipartOverhead)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteServiceError(w, r, h.Logger, err)
			return
		}
		WriteServiceError(w, r, h.Logger, apperrors.ValidationField("file", "multipart form data is required"))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	in, err := parseSubmitForm(r.MultipartForm)
	if err != nil {
		WriteServiceError(w, r, h.Logger, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteServiceError(w, r, h.Logger, apperrors.ValidationField("file", "file is required"))
		return
	}
	defer file.Close()

	in.APIKeyID = key.ID
	in.Filename = header.Filename
	in.Audio = file

	task, err := h.Svc.Submit(r.Context(), in)
	if err != nil {
		WriteServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, newTaskResponse(task))
}

// Get handles GET /transcribe/{task_id}.
func (h *TranscribeHandlers) Get(w http.ResponseWriter, r *http.Request) {
	key, ok := APIKeyFromContext(r.Context())
	if !ok {
		unauthorized(w, msgInvalidAuthorization)
		return
	}

	task, err := h.Svc.Get(r.Context(), r.PathValue("task_id"), key.ID)
	if err != nil {
		WriteServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, newTaskWithResultResponse(task))
}

// parseSubmitForm reads the option fields. Enumerations are checked by the
// service; this only rejects values that cannot be parsed at all.
func parseSubmitForm(form *multipart.Form) (service.SubmitInput, error) {
	var in service.SubmitInput
	value := func(name string) string {
		if vs := form.Value[name]; len(vs) > 0 {
			return strings.TrimSpace(vs[0])
		}
		return ""
	}

	in.Model = model.ASRModel(value("model"))
	if lang := value("language"); lang != "" {
		l := model.Language(lang)
		in.Language = &l
	}

	var err error
	if in.RecognitionMode, err = parseFormBool("recognition_mode", value("recognition_mode")); err != nil {
		return in, err
	}
	if in.AlignMode, err = parseFormBool("align_mode", value("align_mode")); err != nil {
		return in, err
	}
	if raw := value("num_speakers"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return in, apperrors.ValidationField("num_speakers", "num_speakers must be an integer")
		}
		in.NumSpeakers = &n
	}
	return in, nil
}

func parseFormBool(field, raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "", "false", "0", "no", "off":
		return false, nil
	case "true", "1", "yes", "on":
		return true, nil
	}
	return false, apperrors.ValidationField(field, field+" must be a boolean")
}

type modelsResponse struct {
	Models []model.ASRModel `json:"models"`
}

type languagesResponse struct {
	Languages []model.Language `json:"languages"`
}

func modelsHandler(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, modelsResponse{Models: model.SupportedModels()})
}

func languagesHandler(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, languagesResponse{Languages: model.SupportedLanguages()})
}
