package handlers

import (
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/iudanet/pymirror/internal/models"
)

// Materializer отдает байты content, скачивая отложенные артефакты
type Materializer interface {
	Materialize(ctx context.Context, contentID string) (*models.Content, io.ReadCloser, error)
}

// ContentHandler отдает файлы пакетов
type ContentHandler struct {
	logger       *slog.Logger
	materializer Materializer
}

// NewContentHandler создает handler content
func NewContentHandler(logger *slog.Logger, materializer Materializer) *ContentHandler {
	return &ContentHandler{
		logger:       logger,
		materializer: materializer,
	}
}

// Download обрабатывает GET /api/v1/content/{id}
func (h *ContentHandler) Download(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		sendError(h.logger, w, "content id is required", http.StatusBadRequest)
		return
	}

	content, body, err := h.materializer.Materialize(r.Context(), id)
	if err != nil {
		sendDomainError(h.logger, w, r, "failed to materialize content", err)
		return
	}
	defer func() {
		_ = body.Close()
	}()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": content.Filename}))
	w.Header().Set("X-Checksum-Sha256", content.Sha256)
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "content download interrupted",
			slog.String("content_id", id), slog.Any("error", err))
	}
}
