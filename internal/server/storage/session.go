package storage

import (
	"context"
	"time"

	"github.com/iudanet/pymirror/internal/models"
)

// SessionStorage defines interface for upload coalescing sessions
// Every method is one transaction over the session row
type SessionStorage interface {
	// CreateSession stores a new open session with its first artifact
	CreateSession(ctx context.Context, session *models.UploadSession) error

	// GetSession retrieves a snapshot of the session
	// Returns ErrSessionNotFound if session doesn't exist
	GetSession(ctx context.Context, token string) (*models.UploadSession, error)

	// AppendArtifact adds an artifact while now is before the session start
	// Returns ErrSessionClosed if the window elapsed, the session is committing
	// or it belongs to another repository
	AppendArtifact(ctx context.Context, token, repositoryID string, now time.Time, upload models.PendingUpload) error

	// ClaimSession moves the session from open to committing
	// Returns *SessionOpenError while now is before start
	// Returns ErrSessionCommitted if the session is already claimed
	ClaimSession(ctx context.Context, token string, now time.Time) (*models.UploadSession, error)

	// ReleaseSession returns a claimed session to open state
	ReleaseSession(ctx context.Context, token string) error

	// DeleteSession removes session and its artifacts
	DeleteSession(ctx context.Context, token string) error

	// ListSessions returns all sessions, used to resume commits on startup
	ListSessions(ctx context.Context) ([]*models.UploadSession, error)
}
