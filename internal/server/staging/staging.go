// Package staging превращает записи каталога и загрузки в content и artifact.
//
// Content дедуплицируется глобально по sha256: найденная строка
// переиспользуется, новой становится только связь с репозиторием.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/iudanet/pymirror/internal/models"
	"github.com/iudanet/pymirror/internal/server/blobstore"
	"github.com/iudanet/pymirror/internal/server/storage"
)

// Store - хранилище content и artifact
type Store interface {
	storage.ContentStorage
	storage.ArtifactStorage
}

// BlobStore - хранилище байтов артефактов
type BlobStore interface {
	Put(ctx context.Context, filename string, r io.Reader, expected map[string]string) (*blobstore.Blob, error)
	Exists(sha256 string) bool
}

//go:generate moq -out downloader_mock.go . Downloader

// Downloader скачивает артефакт по URL
type Downloader interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// Result - итог стадии.
// Skipped - файлы, для которых content не создан. Warnings включает их
// и записи, получившие уже существующий content под другим именем.
type Result struct {
	ContentIDs []string
	Skipped    []string
	Warnings   []string
}

// unitError - ошибка одной единицы, батч продолжается
type unitError struct {
	err error
}

func (e *unitError) Error() string { return e.err.Error() }
func (e *unitError) Unwrap() error { return e.err }

func skip(format string, args ...any) error {
	return &unitError{err: fmt.Errorf(format, args...)}
}

// Stager создает content для записей каталога и загрузок
type Stager struct {
	store       Store
	blobs       BlobStore
	downloader  Downloader
	logger      *slog.Logger
	group       singleflight.Group
	concurrency int
}

// New создает Stager
func New(store Store, blobs BlobStore, downloader Downloader, logger *slog.Logger, concurrency int) *Stager {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Stager{
		store:       store,
		blobs:       blobs,
		downloader:  downloader,
		logger:      logger,
		concurrency: concurrency,
	}
}

// Build строит content и pending artifact из записи каталога
func Build(entry models.CatalogEntry, policy models.DownloadPolicy) models.DeclarativeContent {
	return models.DeclarativeContent{
		Content: models.Content{
			Sha256:         entry.Sha256(),
			Filename:       entry.Filename,
			Name:           entry.Project,
			Version:        entry.Version,
			PackageType:    entry.PackageType,
			RequiresPython: entry.RequiresPython,
			Platform:       entry.Platform,
		},
		Artifact: models.PendingArtifact{
			Digests:  entry.Digests,
			URL:      entry.URL,
			Deferred: policy.Deferred(),
			Streamed: policy == models.PolicyStreamed,
		},
	}
}

// Stage создает или переиспользует content для каждой записи.
// Ошибка одной записи (checksum, сеть) становится предупреждением.
// Любая другая ошибка или отмена контекста прерывает весь батч.
func (s *Stager) Stage(ctx context.Context, entries []models.CatalogEntry, policy models.DownloadPolicy) (*Result, error) {
	units := make([]models.DeclarativeContent, len(entries))
	for i, e := range entries {
		units[i] = Build(e, policy)
	}

	return s.run(ctx, len(units), func(ctx context.Context, i int) (*models.Content, error) {
		return s.stageUnit(ctx, units[i])
	}, func(i int) string {
		return units[i].Content.Filename
	})
}

func (s *Stager) run(
	ctx context.Context,
	n int,
	fn func(ctx context.Context, i int) (*models.Content, error),
	name func(i int) string,
) (*Result, error) {
	ids := make([]string, n)
	skipped := make([]bool, n)
	warnings := make([]string, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			content, err := fn(gctx, i)
			var ue *unitError
			switch {
			case errors.As(err, &ue):
				s.logger.Warn("content unit skipped", "filename", name(i), "error", ue.err)
				skipped[i] = true
				warnings[i] = fmt.Sprintf("%s: %v", name(i), ue.err)
				return nil
			case err != nil:
				return fmt.Errorf("%s: %w", name(i), err)
			}
			// тот же sha256 уже сохранен под другим именем
			if content.Filename != name(i) {
				s.logger.Warn("content reused under another filename",
					"filename", name(i), "stored_as", content.Filename, "sha256", content.Sha256)
				warnings[i] = fmt.Sprintf("%s: same sha256 already stored as %s", name(i), content.Filename)
			}
			ids[i] = content.ID
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("staging canceled: %w", err)
	}

	res := &Result{}
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		if skipped[i] {
			res.Skipped = append(res.Skipped, name(i))
		}
		if warnings[i] != "" {
			res.Warnings = append(res.Warnings, warnings[i])
		}
		if ids[i] == "" {
			continue
		}
		if _, ok := seen[ids[i]]; ok {
			continue
		}
		seen[ids[i]] = struct{}{}
		res.ContentIDs = append(res.ContentIDs, ids[i])
	}
	return res, nil
}

// shared выполняет fn один раз на ключ для всех параллельных вызовов.
// Общий вызов не наследует отмену ctx: отмена одного батча не должна
// ронять другие, ждущие тот же sha256. Каждый вызывающий ждет под своим ctx.
func (s *Stager) shared(ctx context.Context, key string, fn func(ctx context.Context) (*models.Content, error)) (*models.Content, error) {
	ch := s.group.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.Content), nil
	}
}

// stageUnit возвращает ID content для единицы
// Параллельная обработка одного sha256 схлопывается в один вызов
func (s *Stager) stageUnit(ctx context.Context, dc models.DeclarativeContent) (*models.Content, error) {
	key := dc.Content.Sha256
	if key == "" {
		if dc.Artifact.Deferred {
			return nil, skip("no sha256 digest declared, cannot defer download")
		}
		key = "url:" + dc.Artifact.URL
	}

	return s.shared(ctx, key, func(ctx context.Context) (*models.Content, error) {
		return s.createContent(ctx, dc)
	})
}

func (s *Stager) createContent(ctx context.Context, dc models.DeclarativeContent) (*models.Content, error) {
	if dc.Content.Sha256 != "" {
		existing, err := s.store.GetContentBySha256(ctx, dc.Content.Sha256)
		switch {
		case err == nil:
			if !dc.Artifact.Deferred {
				if err := s.ensureStored(ctx, existing, dc); err != nil {
					return nil, err
				}
			}
			return existing, nil
		case !errors.Is(err, storage.ErrContentNotFound):
			return nil, fmt.Errorf("failed to look up content: %w", err)
		}
	}

	var artifact *models.Artifact
	var err error
	if dc.Artifact.Deferred {
		artifact, err = s.store.CreateArtifact(ctx, &models.Artifact{
			Sha256:   dc.Content.Sha256,
			Digests:  dc.Artifact.Digests,
			URL:      dc.Artifact.URL,
			Streamed: dc.Artifact.Streamed,
		})
	} else {
		artifact, err = s.download(ctx, dc)
	}
	if err != nil {
		return nil, err
	}

	content := dc.Content
	content.Sha256 = artifact.Sha256
	content.ArtifactID = artifact.ID

	created, err := s.store.CreateContent(ctx, &content)
	if err != nil {
		return nil, fmt.Errorf("failed to create content: %w", err)
	}
	return created, nil
}

// download скачивает байты, сверяет дайджесты и создает stored артефакт
func (s *Stager) download(ctx context.Context, dc models.DeclarativeContent) (*models.Artifact, error) {
	rc, err := s.downloader.Download(ctx, dc.Artifact.URL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, skip("download failed: %w", err)
	}
	defer func() {
		_ = rc.Close()
	}()

	blob, err := s.blobs.Put(ctx, dc.Content.Filename, rc, dc.Artifact.Digests)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, skip("%w", err)
	}

	artifact, err := s.store.CreateArtifact(ctx, &models.Artifact{
		Sha256:  blob.Sha256,
		Digests: blob.Digests,
		URL:     dc.Artifact.URL,
		Size:    blob.Size,
		Stored:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact: %w", err)
	}
	return artifact, nil
}

// ensureStored докачивает байты для content, ранее созданного как deferred
func (s *Stager) ensureStored(ctx context.Context, content *models.Content, dc models.DeclarativeContent) error {
	artifact, err := s.store.GetArtifact(ctx, content.ArtifactID)
	if err != nil {
		return fmt.Errorf("failed to get artifact: %w", err)
	}
	if artifact.Stored && s.blobs.Exists(artifact.Sha256) {
		return nil
	}

	_, err = s.download(ctx, dc)
	return err
}

// StageUploads создает content для загруженных артефактов сессии.
// Байты уже лежат в хранилище, метаданные берутся из имени файла.
func (s *Stager) StageUploads(ctx context.Context, uploads []models.PendingUpload) (*Result, error) {
	return s.run(ctx, len(uploads), func(ctx context.Context, i int) (*models.Content, error) {
		return s.stageUpload(ctx, uploads[i])
	}, func(i int) string {
		return uploads[i].Filename
	})
}

func (s *Stager) stageUpload(ctx context.Context, upload models.PendingUpload) (*models.Content, error) {
	return s.shared(ctx, upload.Sha256, func(ctx context.Context) (*models.Content, error) {
		existing, err := s.store.GetContentBySha256(ctx, upload.Sha256)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, storage.ErrContentNotFound) {
			return nil, fmt.Errorf("failed to look up content: %w", err)
		}

		artifact, err := s.store.GetArtifactBySha256(ctx, upload.Sha256)
		if errors.Is(err, storage.ErrArtifactNotFound) {
			return nil, skip("artifact %s not found", upload.Sha256)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get artifact: %w", err)
		}

		content, err := ContentFromFilename(upload.Filename)
		if err != nil {
			return nil, skip("%w", err)
		}
		content.Sha256 = artifact.Sha256
		content.ArtifactID = artifact.ID

		created, err := s.store.CreateContent(ctx, content)
		if err != nil {
			return nil, fmt.Errorf("failed to create content: %w", err)
		}
		return created, nil
	})
}

// Removals сопоставляет имена файлов из removals с content инвентаря
func Removals(inventory []*models.Content, removals map[string]struct{}) []string {
	ids := make([]string, 0, len(removals))
	for _, c := range inventory {
		if _, ok := removals[c.Filename]; ok {
			ids = append(ids, c.ID)
		}
	}
	sort.Strings(ids)
	return ids
}
