package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/iudanet/pymirror/internal/models"
	"github.com/iudanet/pymirror/internal/server/upload"
	"github.com/iudanet/pymirror/pkg/api"
)

// multipart форма держит в памяти не больше этого, остальное во временных файлах
const multipartMemory = 32 << 20

// Uploader принимает загрузки и коммитит сессии
type Uploader interface {
	Upload(ctx context.Context, req upload.Request) (*upload.Result, error)
	Session(ctx context.Context, token string) (*models.UploadSession, error)
	CommitTask(ctx context.Context, token string) (*models.TaskResult, error)
}

// UploadHandler обрабатывает загрузки пакетов
type UploadHandler struct {
	logger   *slog.Logger
	uploader Uploader
	runner   TaskRunner
	maxSize  int64
}

// NewUploadHandler создает handler загрузок. maxSize - предел тела запроса в байтах.
func NewUploadHandler(logger *slog.Logger, uploader Uploader, runner TaskRunner, maxSize int64) *UploadHandler {
	return &UploadHandler{
		logger:   logger,
		uploader: uploader,
		runner:   runner,
		maxSize:  maxSize,
	}
}

// Upload обрабатывает POST /api/v1/uploads
// Первая загрузка без сессии открывает окно и ставит задачу коммита
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.maxSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxSize)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sendError(h.logger, w, "upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.logger.WarnContext(ctx, "failed to parse upload form", slog.Any("error", err))
		sendError(h.logger, w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	req := upload.Request{
		SessionToken: r.FormValue(api.UploadFieldSession),
		RepositoryID: r.FormValue(api.UploadFieldRepositoryID),
		Checksum:     r.FormValue(api.UploadFieldSha256),
		Filename:     r.FormValue(api.UploadFieldFilename),
	}
	if req.RepositoryID == "" {
		sendError(h.logger, w, "repository_id is required", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile(api.UploadFieldFile)
	switch {
	case err == nil:
		defer func(f multipart.File) {
			_ = f.Close()
		}(file)
		req.Body = file
		req.Filename = header.Filename
	case errors.Is(err, http.ErrMissingFile):
		// загрузка уже сохраненного артефакта по sha256
	default:
		h.logger.WarnContext(ctx, "failed to read upload file", slog.Any("error", err))
		sendError(h.logger, w, "invalid file part", http.StatusBadRequest)
		return
	}

	res, err := h.uploader.Upload(ctx, req)
	if err != nil {
		sendDomainError(h.logger, w, r, "upload rejected", err)
		return
	}

	if res.Created {
		token := res.SessionToken
		_, err := h.runner.SubmitWithID(ctx, res.TaskID, models.TaskKindUploadGroup, req.RepositoryID,
			func(ctx context.Context) (*models.TaskResult, error) {
				return h.uploader.CommitTask(ctx, token)
			})
		if err != nil {
			h.logger.ErrorContext(ctx, "failed to submit upload commit", slog.Any("error", err))
			sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
			return
		}
	}

	h.logger.InfoContext(ctx, "package uploaded",
		slog.String("filename", req.Filename),
		slog.String("session", res.SessionToken),
		slog.Bool("new_session", res.Created))

	sendJSON(h.logger, w, api.UploadResponse{
		Start:   res.Start,
		Session: res.SessionToken,
		TaskID:  res.TaskID,
		Sha256:  res.Sha256,
		Created: res.Created,
	}, http.StatusAccepted)
}

// UploadGroup обрабатывает POST /api/v1/uploads/group
// Ставит задачу коммита сессии, уже закоммиченная сессия дает пустой результат
func (h *UploadHandler) UploadGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.UploadGroupRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode upload group request", slog.Any("error", err))
		sendError(h.logger, w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		sendError(h.logger, w, "session_id is required", http.StatusBadRequest)
		return
	}

	session, err := h.uploader.Session(ctx, req.SessionID)
	if err != nil {
		sendDomainError(h.logger, w, r, "upload group rejected", err)
		return
	}
	if req.RepositoryID != "" && req.RepositoryID != session.RepositoryID {
		sendError(h.logger, w, "session belongs to another repository", http.StatusConflict)
		return
	}

	token := session.Token
	task, err := h.runner.Submit(ctx, models.TaskKindUploadGroup, session.RepositoryID,
		func(ctx context.Context) (*models.TaskResult, error) {
			return h.uploader.CommitTask(ctx, token)
		})
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to submit upload group", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	sendJSON(h.logger, w, taskResponse(task), http.StatusAccepted)
}
