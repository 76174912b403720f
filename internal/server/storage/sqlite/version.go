package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/pymirror/internal/models"
	"github.com/iudanet/pymirror/internal/server/storage"
)

// LatestVersion retrieves the newest version of repository
func (s *Storage) LatestVersion(ctx context.Context, repositoryID string) (*models.RepositoryVersion, error) {
	return latestVersion(ctx, s.db, repositoryID)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func latestVersion(ctx context.Context, q querier, repositoryID string) (*models.RepositoryVersion, error) {
	query := `
		SELECT id, repository_id, number, created_at
		FROM repository_versions
		WHERE repository_id = ?
		ORDER BY number DESC
		LIMIT 1
	`

	v := &models.RepositoryVersion{}
	var createdAt int64
	err := q.QueryRowContext(ctx, query, repositoryID).Scan(&v.ID, &v.RepositoryID, &v.Number, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrRepositoryNotFound
		}
		return nil, fmt.Errorf("failed to get latest version: %w", err)
	}
	v.CreatedAt = unixToTime(createdAt)
	return v, nil
}

// CreateVersion applies additions and removals as one new version
// Все изменения членства и serial применяются в одной транзакции
func (s *Storage) CreateVersion(ctx context.Context, params storage.CreateVersionParams) (*models.RepositoryVersion, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	latest, err := latestVersion(ctx, tx, params.RepositoryID)
	if err != nil {
		return nil, false, err
	}
	if params.BaseNumber != storage.AnyBase && params.BaseNumber != latest.Number {
		return nil, false, fmt.Errorf("%w: base %d, latest %d",
			storage.ErrConcurrentModification, params.BaseNumber, latest.Number)
	}

	// текущее членство: content_id -> filename
	current, err := openMembership(ctx, tx, params.RepositoryID)
	if err != nil {
		return nil, false, err
	}

	remove := make(map[string]struct{}, len(params.Remove))
	for _, id := range params.Remove {
		if _, ok := current[id]; ok {
			remove[id] = struct{}{}
		}
	}

	add := make(map[string]string, len(params.Add))
	for _, id := range params.Add {
		if _, ok := remove[id]; ok {
			// удалить и добавить один и тот же content - ничего не менять
			delete(remove, id)
			continue
		}
		if _, ok := current[id]; ok {
			continue
		}
		filename, err := contentFilename(ctx, tx, id)
		if err != nil {
			return nil, false, err
		}
		add[id] = filename
	}

	if len(add) == 0 && len(remove) == 0 {
		if params.Progress != nil {
			if err := saveSyncProgress(ctx, tx, params.Progress); err != nil {
				return nil, false, err
			}
			if err := tx.Commit(); err != nil {
				return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
			}
		}
		return latest, false, nil
	}

	filenames := make(map[string]struct{}, len(current)+len(add))
	for id, filename := range current {
		if _, ok := remove[id]; !ok {
			filenames[filename] = struct{}{}
		}
	}
	for _, filename := range add {
		if _, ok := filenames[filename]; ok {
			return nil, false, fmt.Errorf("%w: %s", storage.ErrDuplicateFilename, filename)
		}
		filenames[filename] = struct{}{}
	}

	version := &models.RepositoryVersion{
		ID:           uuid.New().String(),
		RepositoryID: params.RepositoryID,
		Number:       latest.Number + 1,
		CreatedAt:    time.Now(),
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO repository_versions (id, repository_id, number, created_at) VALUES (?, ?, ?, ?)`,
		version.ID, version.RepositoryID, version.Number, version.CreatedAt.Unix())
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert version: %w", err)
	}

	for id := range add {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO repository_content (repository_id, content_id, version_added) VALUES (?, ?, ?)`,
			params.RepositoryID, id, version.Number)
		if err != nil {
			return nil, false, fmt.Errorf("failed to add content %s: %w", id, err)
		}
	}

	for id := range remove {
		_, err := tx.ExecContext(ctx,
			`UPDATE repository_content SET version_removed = ?
			 WHERE repository_id = ? AND content_id = ? AND version_removed IS NULL`,
			version.Number, params.RepositoryID, id)
		if err != nil {
			return nil, false, fmt.Errorf("failed to remove content %s: %w", id, err)
		}
	}

	if params.Progress != nil {
		if err := saveSyncProgress(ctx, tx, params.Progress); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return version, true, nil
}

// ListVersionContent returns content that belongs to the version
func (s *Storage) ListVersionContent(ctx context.Context, repositoryID string, number int) ([]*models.Content, error) {
	query := `
		SELECT ` + contentColumns + `
		FROM content c
		JOIN repository_content rc ON rc.content_id = c.id
		WHERE rc.repository_id = ?
		  AND rc.version_added <= ?
		  AND (rc.version_removed IS NULL OR rc.version_removed > ?)
		ORDER BY c.filename
	`

	rows, err := s.db.QueryContext(ctx, query, repositoryID, number, number)
	if err != nil {
		return nil, fmt.Errorf("failed to query version content: %w", err)
	}
	defer rows.Close()

	return scanContents(rows)
}

func openMembership(ctx context.Context, tx *sql.Tx, repositoryID string) (map[string]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT c.id, c.filename
		FROM repository_content rc
		JOIN content c ON c.id = rc.content_id
		WHERE rc.repository_id = ? AND rc.version_removed IS NULL
	`, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query membership: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, filename string
		if err := rows.Scan(&id, &filename); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		out[id] = filename
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

func contentFilename(ctx context.Context, tx *sql.Tx, id string) (string, error) {
	var filename string
	err := tx.QueryRowContext(ctx, `SELECT filename FROM content WHERE id = ?`, id).Scan(&filename)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("content %s: %w", id, storage.ErrContentNotFound)
		}
		return "", fmt.Errorf("failed to get content: %w", err)
	}
	return filename, nil
}
