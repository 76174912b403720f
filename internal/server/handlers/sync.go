package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/iudanet/pymirror/internal/models"
	"github.com/iudanet/pymirror/internal/server/mirror"
	"github.com/iudanet/pymirror/internal/server/tasks"
	"github.com/iudanet/pymirror/internal/validation"
	"github.com/iudanet/pymirror/pkg/api"
)

// TaskRunner запускает фоновые задачи и отдает их состояние
type TaskRunner interface {
	Submit(ctx context.Context, kind, repositoryID string, fn tasks.Func) (*models.Task, error)
	SubmitWithID(ctx context.Context, id, kind, repositoryID string, fn tasks.Func) (*models.Task, error)
	Get(ctx context.Context, id string) (*models.Task, error)
}

// Syncer выполняет синхронизацию репозитория
type Syncer interface {
	Check(ctx context.Context, req mirror.SyncRequest) error
	Sync(ctx context.Context, req mirror.SyncRequest) (*models.TaskResult, error)
}

// SyncHandler обрабатывает запуск синхронизаций и опрос задач
type SyncHandler struct {
	logger *slog.Logger
	syncer Syncer
	runner TaskRunner
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(logger *slog.Logger, syncer Syncer, runner TaskRunner) *SyncHandler {
	return &SyncHandler{
		logger: logger,
		syncer: syncer,
		runner: runner,
	}
}

// StartSync обрабатывает POST /api/v1/tasks/sync
// Ошибки конфигурации возвращаются сразу, сама синхронизация идет в фоне
func (h *SyncHandler) StartSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode sync request", slog.Any("error", err))
		sendError(h.logger, w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.RepositoryID == "" {
		sendError(h.logger, w, "repository_id is required", http.StatusBadRequest)
		return
	}
	for _, name := range req.Projects {
		if err := validation.ValidateProjectName(name); err != nil {
			sendError(h.logger, w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	syncReq := mirror.SyncRequest{
		RemoteID:     req.RemoteID,
		RepositoryID: req.RepositoryID,
		Projects:     req.Projects,
		Mirror:       req.Mirror,
	}

	if err := h.syncer.Check(ctx, syncReq); err != nil {
		sendDomainError(h.logger, w, r, "sync rejected", err)
		return
	}

	task, err := h.runner.Submit(ctx, models.TaskKindSync, req.RepositoryID, func(ctx context.Context) (*models.TaskResult, error) {
		return h.syncer.Sync(ctx, syncReq)
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to submit sync task", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	clientID, _ := GetClientID(ctx)
	h.logger.InfoContext(ctx, "sync task submitted",
		slog.String("task_id", task.ID),
		slog.String("repository", req.RepositoryID),
		slog.String("client_id", clientID),
		slog.Bool("mirror", req.Mirror))

	sendJSON(h.logger, w, taskResponse(task), http.StatusAccepted)
}

// GetTask обрабатывает GET /api/v1/tasks/{id}
func (h *SyncHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		sendError(h.logger, w, "task id is required", http.StatusBadRequest)
		return
	}

	task, err := h.runner.Get(r.Context(), id)
	if err != nil {
		sendDomainError(h.logger, w, r, "failed to get task", err)
		return
	}

	sendJSON(h.logger, w, taskResponse(task), http.StatusOK)
}
