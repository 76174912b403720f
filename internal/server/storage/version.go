package storage

import (
	"context"

	"github.com/iudanet/pymirror/internal/models"
)

// AnyBase disables the base version check in CreateVersion
const AnyBase = -1

// CreateVersionParams describes one atomic membership change
type CreateVersionParams struct {
	Progress     *models.SyncProgress // saved in the same transaction when not nil
	RepositoryID string
	Add          []string // content IDs
	Remove       []string // content IDs
	BaseNumber   int
}

// VersionStorage defines interface for immutable repository versions
type VersionStorage interface {
	// LatestVersion retrieves the newest version of repository
	// Returns ErrRepositoryNotFound if repository doesn't exist
	LatestVersion(ctx context.Context, repositoryID string) (*models.RepositoryVersion, error)

	// CreateVersion applies additions and removals as one new version
	// Returns ErrConcurrentModification if BaseNumber is not the latest version
	// Returns the latest version and false if the change is empty
	CreateVersion(ctx context.Context, params CreateVersionParams) (*models.RepositoryVersion, bool, error)

	// ListVersionContent returns content that belongs to the version
	ListVersionContent(ctx context.Context, repositoryID string, number int) ([]*models.Content, error)
}
