package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/pymirror/internal/models"
	"github.com/iudanet/pymirror/internal/server/storage"
)

// remoteConfig - сериализуемая часть remote, по которой определяется изменение
type remoteConfig struct {
	Filters       models.FilterSpec `json:"filters"`
	IncludeYanked bool              `json:"include_yanked"`
}

// UpsertRemote creates or updates a remote
// UpdatedAt is bumped only when url, policy or filters changed
func (s *Storage) UpsertRemote(ctx context.Context, remote *models.Remote) (*models.Remote, error) {
	config, err := json.Marshal(remoteConfig{Filters: remote.Filters, IncludeYanked: remote.IncludeYanked})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal remote config: %w", err)
	}

	existing, err := s.GetRemote(ctx, remote.ID)
	if err != nil && !errors.Is(err, storage.ErrRemoteNotFound) {
		return nil, fmt.Errorf("failed to check existing remote: %w", err)
	}

	if existing != nil {
		existingConfig, err := json.Marshal(remoteConfig{Filters: existing.Filters, IncludeYanked: existing.IncludeYanked})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal remote config: %w", err)
		}
		if existing.URL == remote.URL && existing.Policy == remote.Policy && string(existingConfig) == string(config) {
			return existing, nil
		}
	}

	now := time.Now()
	query := `
		INSERT INTO remotes (id, url, policy, config, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			policy = excluded.policy,
			config = excluded.config,
			updated_at = excluded.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, remote.ID, remote.URL, string(remote.Policy), string(config), now.UnixNano()); err != nil {
		return nil, fmt.Errorf("failed to upsert remote: %w", err)
	}

	stored := *remote
	stored.UpdatedAt = time.Unix(0, now.UnixNano())
	return &stored, nil
}

// GetRemote retrieves remote by ID
func (s *Storage) GetRemote(ctx context.Context, id string) (*models.Remote, error) {
	query := `SELECT id, url, policy, config, updated_at FROM remotes WHERE id = ?`

	remote := &models.Remote{}
	var policy, config string
	var updatedAt int64

	err := s.db.QueryRowContext(ctx, query, id).Scan(&remote.ID, &remote.URL, &policy, &config, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrRemoteNotFound
		}
		return nil, fmt.Errorf("failed to get remote: %w", err)
	}

	var rc remoteConfig
	if err := json.Unmarshal([]byte(config), &rc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal remote config: %w", err)
	}

	remote.Policy = models.DownloadPolicy(policy)
	remote.Filters = rc.Filters
	remote.IncludeYanked = rc.IncludeYanked
	remote.UpdatedAt = time.Unix(0, updatedAt)

	return remote, nil
}
