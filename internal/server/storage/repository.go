package storage

import (
	"context"

	"github.com/iudanet/pymirror/internal/models"
)

// RemoteStorage defines interface for remote configuration persistence
type RemoteStorage interface {
	// UpsertRemote creates or updates a remote
	// UpdatedAt is bumped only when the stored configuration differs
	// Returns the stored remote
	UpsertRemote(ctx context.Context, remote *models.Remote) (*models.Remote, error)

	// GetRemote retrieves remote by ID
	// Returns ErrRemoteNotFound if remote doesn't exist
	GetRemote(ctx context.Context, id string) (*models.Remote, error)
}

// RepositoryStorage defines interface for repositories and their remote linkage
type RepositoryStorage interface {
	// CreateRepository creates a repository together with empty version 0
	// Returns ErrRepositoryAlreadyExists if repository exists
	CreateRepository(ctx context.Context, repo *models.Repository) error

	// GetRepository retrieves repository by ID
	// Returns ErrRepositoryNotFound if repository doesn't exist
	GetRepository(ctx context.Context, id string) (*models.Repository, error)

	// LinkRemote sets the repository's remote
	LinkRemote(ctx context.Context, repositoryID, remoteID string) error

	// GetSyncProgress returns the serial watermark for the pair
	// A missing row or a different remote URL yields LastSerial = 0
	GetSyncProgress(ctx context.Context, repositoryID, remoteID, remoteURL string) (*models.SyncProgress, error)
}
