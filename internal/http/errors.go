package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/laviprog/speech-api/internal/audio"
	apperrors "github.com/laviprog/speech-api/internal/errors"
)

const msgInternal = "Internal server error"

// statusForCode maps application error codes to HTTP status codes.
var statusForCode = map[apperrors.ErrorCode]int{
	apperrors.ErrCodeNotFound:     http.StatusNotFound,
	apperrors.ErrCodeConflict:     http.StatusConflict,
	apperrors.ErrCodeForeignKey:   http.StatusConflict,
	apperrors.ErrCodeValidation:   http.StatusUnprocessableEntity,
	apperrors.ErrCodeUnauthorized: http.StatusUnauthorized,
	apperrors.ErrCodeInternal:     http.StatusInternalServerError,
	apperrors.ErrCodeTimeout:      http.StatusGatewayTimeout,
	apperrors.ErrCodeCanceled:     http.StatusGatewayTimeout,
}

// ErrorStatus determines the HTTP status and public error code for err.
func ErrorStatus(err error) (int, string) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, audio.ErrInvalidAudioFile):
		return http.StatusBadRequest, "invalid_audio"
	case errors.Is(err, audio.ErrFileTooLarge), errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, string(apperrors.ErrCodeTimeout)
	}

	code := apperrors.GetCode(err)
	if status, ok := statusForCode[code]; ok {
		return status, string(code)
	}
	return http.StatusInternalServerError, string(apperrors.ErrCodeInternal)
}

// WriteServiceError renders err using its mapped status. Server-side failures
// are logged and replaced by a generic message.
func WriteServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, code := ErrorStatus(err)

	msg := publicMessage(err)
	if status >= http.StatusInternalServerError {
		if logger != nil {
			logger.ErrorContext(r.Context(), "request failed",
				"method", r.Method,
				"path", r.URL.Path,
				"error", err,
			)
		}
		if status == http.StatusInternalServerError {
			msg = msgInternal
		}
	}

	WriteError(w, ErrorParams{Code: status, ErrCode: code, Message: msg, Field: apperrors.GetField(err)})
}

func publicMessage(err error) string {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr.Message
	case errors.Is(err, audio.ErrInvalidAudioFile):
		return audio.ErrInvalidAudioFile.Error()
	case errors.Is(err, audio.ErrFileTooLarge):
		return audio.ErrFileTooLarge.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "Request timed out"
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return audio.ErrFileTooLarge.Error()
	}
	return msgInternal
}
