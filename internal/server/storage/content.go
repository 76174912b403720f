package storage

import (
	"context"

	"github.com/iudanet/pymirror/internal/models"
)

// ContentStorage defines interface for globally deduplicated content
type ContentStorage interface {
	// CreateContent inserts content keyed by sha256
	// If content with the same sha256 exists, the existing row is returned
	CreateContent(ctx context.Context, content *models.Content) (*models.Content, error)

	// GetContent retrieves content by ID
	// Returns ErrContentNotFound if content doesn't exist
	GetContent(ctx context.Context, id string) (*models.Content, error)

	// GetContentBySha256 retrieves content by checksum
	// Returns ErrContentNotFound if content doesn't exist
	GetContentBySha256(ctx context.Context, sha256 string) (*models.Content, error)
}

// ArtifactStorage defines interface for artifact rows
type ArtifactStorage interface {
	// CreateArtifact inserts artifact keyed by sha256
	// If artifact with the same sha256 exists, the existing row is returned
	CreateArtifact(ctx context.Context, artifact *models.Artifact) (*models.Artifact, error)

	// GetArtifact retrieves artifact by ID
	// Returns ErrArtifactNotFound if artifact doesn't exist
	GetArtifact(ctx context.Context, id string) (*models.Artifact, error)

	// GetArtifactBySha256 retrieves artifact by checksum
	// Returns ErrArtifactNotFound if artifact doesn't exist
	GetArtifactBySha256(ctx context.Context, sha256 string) (*models.Artifact, error)

	// MarkArtifactStored records that artifact bytes are in the blob store
	MarkArtifactStored(ctx context.Context, id string, size int64) error
}
