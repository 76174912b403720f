package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/iudanet/pymirror/internal/checksum"
	"github.com/iudanet/pymirror/internal/models"
	"github.com/iudanet/pymirror/internal/server/mirror"
	"github.com/iudanet/pymirror/internal/server/storage"
	"github.com/iudanet/pymirror/internal/server/upload"
	"github.com/iudanet/pymirror/pkg/api"
)

// sendJSON отправляет JSON ответ
func sendJSON(logger *slog.Logger, w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", slog.Any("error", err))
	}
}

// sendError отправляет JSON ответ с ошибкой
func sendError(logger *slog.Logger, w http.ResponseWriter, message string, statusCode int) {
	resp := api.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	}
	sendJSON(logger, w, resp, statusCode)
}

// statusFor сопоставляет доменные ошибки HTTP статусам
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, storage.ErrRepositoryNotFound),
		errors.Is(err, storage.ErrRemoteNotFound),
		errors.Is(err, storage.ErrTaskNotFound),
		errors.Is(err, storage.ErrContentNotFound),
		errors.Is(err, storage.ErrArtifactNotFound),
		errors.Is(err, storage.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, mirror.ErrMissingURL),
		errors.Is(err, mirror.ErrNoRemote),
		errors.Is(err, mirror.ErrInvalidFilters):
		return http.StatusUnprocessableEntity
	case errors.Is(err, upload.ErrInvalidFilename),
		errors.Is(err, upload.ErrNoPayload),
		errors.Is(err, checksum.ErrMismatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// sendDomainError отправляет ошибку со статусом по ее типу.
// Детали внутренних ошибок клиенту не раскрываются.
func sendDomainError(logger *slog.Logger, w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), msg, slog.Any("error", err))
		sendError(logger, w, "internal server error", status)
		return
	}
	logger.WarnContext(r.Context(), msg, slog.Any("error", err))
	sendError(logger, w, err.Error(), status)
}

func taskResponse(task *models.Task) api.TaskResponse {
	resp := api.TaskResponse{
		ID:           task.ID,
		Kind:         task.Kind,
		State:        task.State,
		RepositoryID: task.RepositoryID,
		CreatedAt:    task.CreatedAt,
		UpdatedAt:    task.UpdatedAt,
	}
	if task.Result != nil {
		resp.Result = &api.TaskResult{
			Error:         task.Result.Error,
			Warnings:      task.Result.Warnings,
			VersionNumber: task.Result.VersionNumber,
			Added:         task.Result.Added,
			Removed:       task.Result.Removed,
			Serial:        task.Result.Serial,
			NewVersion:    task.Result.NewVersion,
		}
	}
	return resp
}
