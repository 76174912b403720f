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

// CreateRepository creates a repository together with empty version 0
func (s *Storage) CreateRepository(ctx context.Context, repo *models.Repository) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM repositories WHERE id = ?`, repo.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check repository: %w", err)
	}
	if exists > 0 {
		return storage.ErrRepositoryAlreadyExists
	}

	if repo.CreatedAt.IsZero() {
		repo.CreatedAt = time.Now()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO repositories (id, remote_id, created_at) VALUES (?, ?, ?)`,
		repo.ID, nullString(repo.RemoteID), repo.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert repository: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO repository_versions (id, repository_id, number, created_at) VALUES (?, ?, 0, ?)`,
		uuid.New().String(), repo.ID, repo.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert version 0: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetRepository retrieves repository by ID
func (s *Storage) GetRepository(ctx context.Context, id string) (*models.Repository, error) {
	repo := &models.Repository{}
	var remoteID sql.NullString
	var createdAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT id, remote_id, created_at FROM repositories WHERE id = ?`, id,
	).Scan(&repo.ID, &remoteID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrRepositoryNotFound
		}
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}

	repo.RemoteID = remoteID.String
	repo.CreatedAt = unixToTime(createdAt)
	return repo, nil
}

// LinkRemote sets the repository's remote
func (s *Storage) LinkRemote(ctx context.Context, repositoryID, remoteID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE repositories SET remote_id = ? WHERE id = ?`, nullString(remoteID), repositoryID)
	if err != nil {
		return fmt.Errorf("failed to link remote: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return storage.ErrRepositoryNotFound
	}
	return nil
}

// GetSyncProgress returns the serial watermark for the pair
// Смена URL remote сбрасывает serial в 0, смена фильтров - нет
func (s *Storage) GetSyncProgress(ctx context.Context, repositoryID, remoteID, remoteURL string) (*models.SyncProgress, error) {
	progress := &models.SyncProgress{
		RepositoryID: repositoryID,
		RemoteID:     remoteID,
		RemoteURL:    remoteURL,
	}

	var storedURL string
	var serial, updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT remote_url, last_serial, updated_at FROM sync_progress WHERE repository_id = ? AND remote_id = ?`,
		repositoryID, remoteID,
	).Scan(&storedURL, &serial, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return progress, nil
		}
		return nil, fmt.Errorf("failed to get sync progress: %w", err)
	}

	if storedURL == remoteURL {
		progress.LastSerial = serial
		progress.UpdatedAt = unixToTime(updatedAt)
	}
	return progress, nil
}

func saveSyncProgress(ctx context.Context, tx *sql.Tx, p *models.SyncProgress) error {
	query := `
		INSERT INTO sync_progress (repository_id, remote_id, remote_url, last_serial, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(repository_id, remote_id) DO UPDATE SET
			remote_url = excluded.remote_url,
			last_serial = excluded.last_serial,
			updated_at = excluded.updated_at
	`
	_, err := tx.ExecContext(ctx, query, p.RepositoryID, p.RemoteID, p.RemoteURL, p.LastSerial, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save sync progress: %w", err)
	}
	return nil
}
