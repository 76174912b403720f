// Package upload объединяет одиночные загрузки, пришедшие в одном окне,
// в одну новую версию репозитория.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/iudanet/pymirror/internal/clock"
	"github.com/iudanet/pymirror/internal/models"
	"github.com/iudanet/pymirror/internal/server/blobstore"
	"github.com/iudanet/pymirror/internal/server/staging"
	"github.com/iudanet/pymirror/internal/server/storage"
	"github.com/iudanet/pymirror/internal/validation"
)

var (
	// ErrSessionCommitted - сессию уже закоммитил другой обработчик, вызывающий считает задачу выполненной
	ErrSessionCommitted = storage.ErrSessionCommitted
	// ErrNoPayload - в запросе нет ни тела файла, ни контрольной суммы
	ErrNoPayload = errors.New("upload has neither body nor checksum")
	// ErrInvalidFilename - имя файла не похоже на дистрибутив
	ErrInvalidFilename = errors.New("invalid distribution filename")
)

const (
	defaultWindow        = 5 * time.Second
	defaultCommitRetries = 3
)

// Store - хранилища, которые использует коалесинг
type Store interface {
	storage.RepositoryStorage
	storage.VersionStorage
	storage.ContentStorage
	storage.ArtifactStorage
	storage.SessionStorage
}

// Stager создает content для загруженных артефактов
type Stager interface {
	StageUploads(ctx context.Context, uploads []models.PendingUpload) (*staging.Result, error)
}

// BlobStore сохраняет байты загрузки
type BlobStore interface {
	Put(ctx context.Context, filename string, r io.Reader, expected map[string]string) (*blobstore.Blob, error)
}

// Request - одна загрузка. Body или Checksum уже сохраненного артефакта.
type Request struct {
	Body         io.Reader
	SessionToken string
	RepositoryID string
	Filename     string
	Checksum     string
}

// Result - сессия, в которую попала загрузка
type Result struct {
	Start        time.Time
	SessionToken string
	TaskID       string
	Sha256       string
	Created      bool // true, если загрузка открыла новую сессию
}

// Options настраивает Coalescer
type Options struct {
	Clock  clock.Clock
	Window time.Duration
}

// Coalescer ведет сессии загрузок и коммитит их по истечении окна
type Coalescer struct {
	store  Store
	stager Stager
	blobs  BlobStore
	clock  clock.Clock
	logger *slog.Logger
	window time.Duration
}

// New создает Coalescer
func New(store Store, stager Stager, blobs BlobStore, logger *slog.Logger, opts Options) *Coalescer {
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Coalescer{
		store:  store,
		stager: stager,
		blobs:  blobs,
		clock:  opts.Clock,
		logger: logger,
		window: opts.Window,
	}
}

// Window возвращает длительность окна коалесинга
func (c *Coalescer) Window() time.Duration {
	return c.window
}

// Upload сохраняет артефакт и добавляет его в открытую сессию.
// Если окно сессии истекло или ее нет, открывается новая сессия.
func (c *Coalescer) Upload(ctx context.Context, req Request) (*Result, error) {
	if _, err := validation.ParseDistFilename(req.Filename); err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidFilename, req.Filename, err)
	}
	if _, err := c.store.GetRepository(ctx, req.RepositoryID); err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}

	artifact, err := c.storeArtifact(ctx, req)
	if err != nil {
		return nil, err
	}

	pending := models.PendingUpload{Sha256: artifact.Sha256, Filename: req.Filename}

	if req.SessionToken != "" {
		err := c.store.AppendArtifact(ctx, req.SessionToken, req.RepositoryID, c.clock.Now(), pending)
		switch {
		case err == nil:
			session, err := c.store.GetSession(ctx, req.SessionToken)
			if err != nil {
				return nil, fmt.Errorf("failed to get session: %w", err)
			}
			c.logger.Debug("upload joined session", "session", session.Token, "filename", req.Filename)
			return &Result{
				SessionToken: session.Token,
				TaskID:       session.TaskID,
				Start:        session.Start,
				Sha256:       artifact.Sha256,
			}, nil
		case errors.Is(err, storage.ErrSessionClosed), errors.Is(err, storage.ErrSessionNotFound):
			// окно закрыто - открываем новую сессию
		default:
			return nil, fmt.Errorf("failed to append to session: %w", err)
		}
	}

	session := &models.UploadSession{
		Token:        uuid.New().String(),
		RepositoryID: req.RepositoryID,
		TaskID:       uuid.New().String(),
		Start:        c.clock.Now().Add(c.window),
		State:        models.SessionOpen,
		Artifacts:    []models.PendingUpload{pending},
	}
	if err := c.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	c.logger.Info("upload session opened",
		"session", session.Token,
		"repository", session.RepositoryID,
		"start", session.Start)

	return &Result{
		SessionToken: session.Token,
		TaskID:       session.TaskID,
		Start:        session.Start,
		Sha256:       artifact.Sha256,
		Created:      true,
	}, nil
}

func (c *Coalescer) storeArtifact(ctx context.Context, req Request) (*models.Artifact, error) {
	if req.Body == nil {
		if req.Checksum == "" {
			return nil, ErrNoPayload
		}
		artifact, err := c.store.GetArtifactBySha256(ctx, req.Checksum)
		if err != nil {
			return nil, fmt.Errorf("failed to get artifact %s: %w", req.Checksum, err)
		}
		return artifact, nil
	}

	var expected map[string]string
	if req.Checksum != "" {
		expected = map[string]string{models.DigestSHA256: req.Checksum}
	}

	blob, err := c.blobs.Put(ctx, req.Filename, req.Body, expected)
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	artifact, err := c.store.CreateArtifact(ctx, &models.Artifact{
		Sha256:  blob.Sha256,
		Digests: blob.Digests,
		Size:    blob.Size,
		Stored:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact: %w", err)
	}
	return artifact, nil
}

// Session возвращает снимок сессии
func (c *Coalescer) Session(ctx context.Context, token string) (*models.UploadSession, error) {
	return c.store.GetSession(ctx, token)
}

// CommitSession ждет окончания окна и коммитит все артефакты сессии одной версией.
// Возвращает ErrSessionCommitted, если сессию уже забрал другой обработчик.
func (c *Coalescer) CommitSession(ctx context.Context, token string) (*models.TaskResult, error) {
	session, err := c.claim(ctx, token)
	if err != nil {
		return nil, err
	}

	logger := c.logger.With("session", token, "repository", session.RepositoryID)

	result, err := c.commit(ctx, session)
	if err != nil {
		// сессия возвращается в open, чтобы ее можно было закоммитить повторно
		if relErr := c.store.ReleaseSession(context.WithoutCancel(ctx), token); relErr != nil {
			logger.Error("failed to release session", "error", relErr)
		}
		return nil, err
	}

	if err := c.store.DeleteSession(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to delete session: %w", err)
	}

	logger.Info("upload session committed",
		"artifacts", len(session.Artifacts),
		"version", result.VersionNumber,
		"new_version", result.NewVersion)

	return result, nil
}

// claim захватывает сессию, засыпая до start, пока окно открыто
func (c *Coalescer) claim(ctx context.Context, token string) (*models.UploadSession, error) {
	for {
		now := c.clock.Now()
		session, err := c.store.ClaimSession(ctx, token, now)

		var open *storage.SessionOpenError
		switch {
		case err == nil:
			return session, nil
		case errors.As(err, &open):
			select {
			case <-c.clock.After(open.Start.Sub(now)):
			case <-ctx.Done():
				return nil, fmt.Errorf("waiting for session window: %w", ctx.Err())
			}
		default:
			return nil, err
		}
	}
}

func (c *Coalescer) commit(ctx context.Context, session *models.UploadSession) (*models.TaskResult, error) {
	staged, err := c.stager.StageUploads(ctx, session.Artifacts)
	if err != nil {
		return nil, fmt.Errorf("failed to stage uploads: %w", err)
	}

	var (
		version *models.RepositoryVersion
		created bool
		removed []string
	)

	// конкурентная синхронизация может опередить коммит, тогда пересчитываем замены
	backoff := retry.WithMaxRetries(defaultCommitRetries-1, retry.NewExponential(50*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		base, err := c.store.LatestVersion(ctx, session.RepositoryID)
		if err != nil {
			return fmt.Errorf("failed to get latest version: %w", err)
		}

		removed, err = c.replaced(ctx, session.RepositoryID, base.Number, staged.ContentIDs)
		if err != nil {
			return err
		}

		version, created, err = c.store.CreateVersion(ctx, storage.CreateVersionParams{
			RepositoryID: session.RepositoryID,
			BaseNumber:   base.Number,
			Add:          staged.ContentIDs,
			Remove:       removed,
		})
		if errors.Is(err, storage.ErrConcurrentModification) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to commit version: %w", err)
	}

	result := &models.TaskResult{
		VersionNumber: version.Number,
		NewVersion:    created,
		Warnings:      staged.Warnings,
	}
	if created {
		result.Added = len(staged.ContentIDs)
		result.Removed = len(removed)
	}
	return result, nil
}

// replaced возвращает content базовой версии, имена файлов которого совпадают с добавляемыми.
// Загрузка файла с уже существующим именем заменяет старый content.
func (c *Coalescer) replaced(ctx context.Context, repositoryID string, number int, add []string) ([]string, error) {
	if len(add) == 0 {
		return nil, nil
	}

	inventory, err := c.store.ListVersionContent(ctx, repositoryID, number)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}

	byFilename := make(map[string]string, len(inventory))
	for _, content := range inventory {
		byFilename[content.Filename] = content.ID
	}

	var out []string
	for _, id := range add {
		content, err := c.store.GetContent(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to get content %s: %w", id, err)
		}
		if existing, ok := byFilename[content.Filename]; ok && existing != id {
			out = append(out, existing)
		}
	}
	return out, nil
}

// CommitTask - CommitSession для запуска задачей.
// Сессия, которую уже закоммитил и удалил другой обработчик, не ошибка.
func (c *Coalescer) CommitTask(ctx context.Context, token string) (*models.TaskResult, error) {
	result, err := c.CommitSession(ctx, token)
	if errors.Is(err, ErrSessionCommitted) || errors.Is(err, storage.ErrSessionNotFound) {
		return &models.TaskResult{Warnings: []string{"upload session already committed"}}, nil
	}
	return result, err
}

// Pending возвращает сессии, коммит которых нужно возобновить после рестарта
func (c *Coalescer) Pending(ctx context.Context) ([]*models.UploadSession, error) {
	sessions, err := c.store.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	for _, session := range sessions {
		if session.State != models.SessionCommitting {
			continue
		}
		// захват прерванного коммита снимается
		if err := c.store.ReleaseSession(ctx, session.Token); err != nil {
			return nil, fmt.Errorf("failed to release session %s: %w", session.Token, err)
		}
		session.State = models.SessionOpen
	}
	return sessions, nil
}
