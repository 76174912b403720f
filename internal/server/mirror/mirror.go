// Package mirror синхронизирует репозиторий с remote индексом.
//
// Один вызов Sync: получить каталог, отфильтровать, сравнить с
// инвентарем базовой версии, подготовить content и атомарно создать
// одну новую версию. Частичные ошибки попадают в предупреждения.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/iudanet/pymirror/internal/models"
	"github.com/iudanet/pymirror/internal/server/blobstore"
	"github.com/iudanet/pymirror/internal/server/delta"
	"github.com/iudanet/pymirror/internal/server/filter"
	"github.com/iudanet/pymirror/internal/server/remote"
	"github.com/iudanet/pymirror/internal/server/staging"
	"github.com/iudanet/pymirror/internal/server/storage"
)

var (
	// ErrMissingURL - у remote не задан URL
	ErrMissingURL = errors.New("remote has no url")
	// ErrNoRemote - у репозитория нет remote и он не передан явно
	ErrNoRemote = errors.New("repository has no remote")
	// ErrInvalidFilters - фильтры remote не компилируются
	ErrInvalidFilters = errors.New("invalid filters")
)

const defaultSyncTimeout = 6 * time.Hour

//go:generate moq -out fetcher_mock.go . Fetcher

// Fetcher получает каталог и байты артефактов
type Fetcher interface {
	Fetch(ctx context.Context, req remote.FetchRequest) (*remote.FetchResult, error)
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// ContentStager готовит content для записей каталога
type ContentStager interface {
	Stage(ctx context.Context, entries []models.CatalogEntry, policy models.DownloadPolicy) (*staging.Result, error)
}

// Store - хранилища, которые нужны синхронизации
type Store interface {
	storage.RemoteStorage
	storage.RepositoryStorage
	storage.VersionStorage
	storage.ContentStorage
	storage.ArtifactStorage
}

// BlobStore - хранилище байтов для Materialize
type BlobStore interface {
	Put(ctx context.Context, filename string, r io.Reader, expected map[string]string) (*blobstore.Blob, error)
	Open(sha256 string) (io.ReadCloser, error)
}

// SyncRequest - параметры одной синхронизации
type SyncRequest struct {
	RemoteID     string
	RepositoryID string
	Projects     []string
	Mirror       bool
}

// Options настраивает сервис
type Options struct {
	SyncTimeout time.Duration
}

// Service выполняет синхронизацию и материализацию отложенных артефактов
type Service struct {
	store       Store
	fetcher     Fetcher
	stager      ContentStager
	blobs       BlobStore
	filters     *filter.Cache
	logger      *slog.Logger
	locks       sync.Map // repository ID -> chan struct{}
	downloads   singleflight.Group
	syncTimeout time.Duration
}

// NewService создает сервис синхронизации
func NewService(store Store, fetcher Fetcher, stager ContentStager, blobs BlobStore, filters *filter.Cache, logger *slog.Logger, opts Options) *Service {
	if filters == nil {
		filters = filter.NewCache()
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = defaultSyncTimeout
	}
	return &Service{
		store:       store,
		fetcher:     fetcher,
		stager:      stager,
		blobs:       blobs,
		filters:     filters,
		logger:      logger,
		syncTimeout: opts.SyncTimeout,
	}
}

// Check проверяет конфигурацию синхронизации без обращения к remote
func (s *Service) Check(ctx context.Context, req SyncRequest) error {
	_, _, _, err := s.resolve(ctx, req)
	return err
}

// resolve находит репозиторий, remote и фильтры. Ошибки конфигурации
// возвращаются до любого сетевого запроса.
func (s *Service) resolve(ctx context.Context, req SyncRequest) (*models.Repository, *models.Remote, *filter.Pipeline, error) {
	repo, err := s.store.GetRepository(ctx, req.RepositoryID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to get repository: %w", err)
	}

	remoteID := req.RemoteID
	if remoteID == "" {
		remoteID = repo.RemoteID
	}
	if remoteID == "" {
		return nil, nil, nil, ErrNoRemote
	}

	rem, err := s.store.GetRemote(ctx, remoteID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to get remote: %w", err)
	}
	if rem.URL == "" {
		return nil, nil, nil, fmt.Errorf("remote %s: %w", rem.ID, ErrMissingURL)
	}

	pipeline, err := s.filters.Get(rem)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("remote %s: %w: %w", rem.ID, ErrInvalidFilters, err)
	}

	return repo, rem, pipeline, nil
}

// Sync синхронизирует репозиторий с remote и создает не более одной новой версии
func (s *Service) Sync(ctx context.Context, req SyncRequest) (*models.TaskResult, error) {
	repo, rem, pipeline, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	unlock, err := s.reserve(ctx, repo.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	logger := s.logger.With("repository", repo.ID, "remote", rem.ID, "mirror", req.Mirror)

	base, err := s.store.LatestVersion(ctx, repo.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest version: %w", err)
	}

	progress, err := s.store.GetSyncProgress(ctx, repo.ID, rem.ID, rem.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync progress: %w", err)
	}

	fetched, err := s.fetcher.Fetch(ctx, remote.FetchRequest{
		URL:           rem.URL,
		Projects:      req.Projects,
		Serial:        progress.LastSerial,
		IncludeYanked: rem.IncludeYanked,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch catalog: %w", err)
	}

	filtered := pipeline.Apply(fetched.Entries)

	inventory, err := s.store.ListVersionContent(ctx, repo.ID, base.Number)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}

	local := delta.Scope(inventoryProjects(inventory), scopeFor(fetched))
	d := delta.Reconcile(local, delta.Keys(filtered), req.Mirror)

	logger.Info("delta computed",
		"base_version", base.Number,
		"mode", fetched.Mode,
		"catalog", len(fetched.Entries),
		"filtered", len(filtered),
		"additions", len(d.Additions),
		"removals", len(d.Removals))

	staged, err := s.stager.Stage(ctx, additions(filtered, d.Additions), rem.Policy)
	if err != nil {
		return nil, fmt.Errorf("failed to stage content: %w", err)
	}
	removals := staging.Removals(inventory, d.Removals)
	serial := nextSerial(progress.LastSerial, fetched, staged)

	// отмена или таймаут до коммита - версия не создается
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("sync aborted before commit: %w", err)
	}

	version, created, err := s.store.CreateVersion(ctx, storage.CreateVersionParams{
		RepositoryID: repo.ID,
		BaseNumber:   base.Number,
		Add:          staged.ContentIDs,
		Remove:       removals,
		Progress: &models.SyncProgress{
			RepositoryID: repo.ID,
			RemoteID:     rem.ID,
			RemoteURL:    rem.URL,
			LastSerial:   serial,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to commit version: %w", err)
	}

	result := &models.TaskResult{
		VersionNumber: version.Number,
		NewVersion:    created,
		Serial:        serial,
		Warnings:      append(failedWarnings(fetched.Failed), staged.Warnings...),
	}
	if created {
		result.Added = len(staged.ContentIDs)
		result.Removed = len(removals)
	}

	logger.Info("sync finished",
		"version", version.Number,
		"new_version", created,
		"added", result.Added,
		"removed", result.Removed,
		"warnings", len(result.Warnings))

	return result, nil
}

// reserve сериализует синхронизации одного репозитория
func (s *Service) reserve(ctx context.Context, repositoryID string) (func(), error) {
	v, _ := s.locks.LoadOrStore(repositoryID, make(chan struct{}, 1))
	sem := v.(chan struct{})

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for repository %s: %w", repositoryID, ctx.Err())
	}
}

// scopeFor определяет, какие проекты инвентаря сравниваются с каталогом.
// Недоступные проекты никогда не попадают в removals.
func scopeFor(fetched *remote.FetchResult) func(string) bool {
	failed := make([]string, 0, len(fetched.Failed))
	for name := range fetched.Failed {
		failed = append(failed, name)
	}

	switch fetched.Mode {
	case remote.ModeExplicit, remote.ModeIncremental:
		return delta.OnlyProjects(fetched.Projects)
	default:
		return delta.ExceptProjects(failed)
	}
}

// nextSerial не продвигает watermark, если часть проектов не получена
// или часть файлов не скачана: иначе инкрементальный запуск их не повторит.
func nextSerial(current int64, fetched *remote.FetchResult, staged *staging.Result) int64 {
	switch {
	case fetched.Mode == remote.ModeExplicit:
		return current
	case len(fetched.Failed) > 0, len(staged.Skipped) > 0:
		return current
	default:
		return fetched.Serial
	}
}

func inventoryProjects(inventory []*models.Content) map[string]string {
	out := make(map[string]string, len(inventory))
	for _, c := range inventory {
		out[c.Filename] = c.Name
	}
	return out
}

// additions возвращает записи для добавления, по одной на имя файла
func additions(entries []models.CatalogEntry, names map[string]struct{}) []models.CatalogEntry {
	out := make([]models.CatalogEntry, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, e := range entries {
		if _, ok := names[e.Filename]; !ok {
			continue
		}
		if _, ok := seen[e.Filename]; ok {
			continue
		}
		seen[e.Filename] = struct{}{}
		out = append(out, e)
	}
	return out
}

func failedWarnings(failed map[string]string) []string {
	names := make([]string, 0, len(failed))
	for name := range failed {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, fmt.Sprintf("project %s skipped: %s", name, failed[name]))
	}
	return out
}
