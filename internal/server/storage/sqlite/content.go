package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/pymirror/internal/models"
	"github.com/iudanet/pymirror/internal/server/storage"
)

const contentColumns = `c.id, c.sha256, c.filename, c.name, c.version, c.package_type,
		       c.requires_python, c.platform, c.artifact_id, c.created_at`

// CreateContent inserts content keyed by sha256
// Гонка двух вставок одного sha256 разрешается повторным чтением существующей строки
func (s *Storage) CreateContent(ctx context.Context, content *models.Content) (*models.Content, error) {
	if content.ID == "" {
		content.ID = uuid.New().String()
	}
	if content.CreatedAt.IsZero() {
		content.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO content (
			id, sha256, filename, name, version, package_type,
			requires_python, platform, artifact_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sha256) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query,
		content.ID,
		content.Sha256,
		content.Filename,
		content.Name,
		content.Version,
		content.PackageType,
		content.RequiresPython,
		content.Platform,
		content.ArtifactID,
		content.CreatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert content: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return s.GetContentBySha256(ctx, content.Sha256)
	}

	created := *content
	return &created, nil
}

// GetContent retrieves content by ID
func (s *Storage) GetContent(ctx context.Context, id string) (*models.Content, error) {
	return s.getContent(ctx, `SELECT `+contentColumns+` FROM content c WHERE c.id = ?`, id)
}

// GetContentBySha256 retrieves content by checksum
func (s *Storage) GetContentBySha256(ctx context.Context, sha256 string) (*models.Content, error) {
	return s.getContent(ctx, `SELECT `+contentColumns+` FROM content c WHERE c.sha256 = ?`, sha256)
}

func (s *Storage) getContent(ctx context.Context, query string, arg string) (*models.Content, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query content: %w", err)
	}
	defer rows.Close()

	contents, err := scanContents(rows)
	if err != nil {
		return nil, err
	}
	if len(contents) == 0 {
		return nil, storage.ErrContentNotFound
	}
	return contents[0], nil
}

func scanContents(rows *sql.Rows) ([]*models.Content, error) {
	var contents []*models.Content

	for rows.Next() {
		c := &models.Content{}
		var createdAt int64

		err := rows.Scan(
			&c.ID,
			&c.Sha256,
			&c.Filename,
			&c.Name,
			&c.Version,
			&c.PackageType,
			&c.RequiresPython,
			&c.Platform,
			&c.ArtifactID,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content: %w", err)
		}

		c.CreatedAt = unixToTime(createdAt)
		contents = append(contents, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return contents, nil
}

// CreateArtifact inserts artifact keyed by sha256
func (s *Storage) CreateArtifact(ctx context.Context, artifact *models.Artifact) (*models.Artifact, error) {
	if artifact.ID == "" {
		artifact.ID = uuid.New().String()
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now()
	}

	digests, err := json.Marshal(artifact.Digests)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal digests: %w", err)
	}

	query := `
		INSERT INTO artifacts (id, sha256, digests, url, size, stored, streamed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sha256) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query,
		artifact.ID,
		artifact.Sha256,
		string(digests),
		artifact.URL,
		artifact.Size,
		boolToInt(artifact.Stored),
		boolToInt(artifact.Streamed),
		artifact.CreatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert artifact: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		existing, err := s.GetArtifactBySha256(ctx, artifact.Sha256)
		if err != nil {
			return nil, err
		}
		// байты могли появиться позже, чем ссылка на них
		if artifact.Stored && !existing.Stored {
			if err := s.MarkArtifactStored(ctx, existing.ID, artifact.Size); err != nil {
				return nil, err
			}
			existing.Stored = true
			existing.Size = artifact.Size
		}
		// ссылка с кешированием отменяет режим streamed
		if !artifact.Streamed && existing.Streamed {
			if _, err := s.db.ExecContext(ctx, `UPDATE artifacts SET streamed = 0 WHERE id = ?`, existing.ID); err != nil {
				return nil, fmt.Errorf("failed to update artifact: %w", err)
			}
			existing.Streamed = false
		}
		return existing, nil
	}

	created := *artifact
	return &created, nil
}

// GetArtifact retrieves artifact by ID
func (s *Storage) GetArtifact(ctx context.Context, id string) (*models.Artifact, error) {
	return s.getArtifact(ctx, `WHERE id = ?`, id)
}

// GetArtifactBySha256 retrieves artifact by checksum
func (s *Storage) GetArtifactBySha256(ctx context.Context, sha256 string) (*models.Artifact, error) {
	return s.getArtifact(ctx, `WHERE sha256 = ?`, sha256)
}

func (s *Storage) getArtifact(ctx context.Context, where, arg string) (*models.Artifact, error) {
	query := `SELECT id, sha256, digests, url, size, stored, streamed, created_at FROM artifacts ` + where

	a := &models.Artifact{}
	var digests string
	var stored, streamed int
	var createdAt int64

	err := s.db.QueryRowContext(ctx, query, arg).Scan(&a.ID, &a.Sha256, &digests, &a.URL, &a.Size, &stored, &streamed, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrArtifactNotFound
		}
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}

	if err := json.Unmarshal([]byte(digests), &a.Digests); err != nil {
		return nil, fmt.Errorf("failed to unmarshal digests: %w", err)
	}
	a.Stored = intToBool(stored)
	a.Streamed = intToBool(streamed)
	a.CreatedAt = unixToTime(createdAt)
	return a, nil
}

// MarkArtifactStored records that artifact bytes are in the blob store
func (s *Storage) MarkArtifactStored(ctx context.Context, id string, size int64) error {
	result, err := s.db.ExecContext(ctx, `UPDATE artifacts SET stored = 1, size = ? WHERE id = ?`, size, id)
	if err != nil {
		return fmt.Errorf("failed to mark artifact stored: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return storage.ErrArtifactNotFound
	}
	return nil
}
