// Package app собирает сервер: хранилища, сервисы синхронизации и
// загрузок, раннер задач и HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/iudanet/pymirror/internal/config"
	"github.com/iudanet/pymirror/internal/models"
	"github.com/iudanet/pymirror/internal/server/blobstore"
	"github.com/iudanet/pymirror/internal/server/filter"
	"github.com/iudanet/pymirror/internal/server/handlers"
	"github.com/iudanet/pymirror/internal/server/middleware"
	"github.com/iudanet/pymirror/internal/server/mirror"
	"github.com/iudanet/pymirror/internal/server/remote"
	"github.com/iudanet/pymirror/internal/server/staging"
	"github.com/iudanet/pymirror/internal/server/storage"
	"github.com/iudanet/pymirror/internal/server/storage/sqlite"
	"github.com/iudanet/pymirror/internal/server/tasks"
	"github.com/iudanet/pymirror/internal/server/upload"
)

const (
	healthPath      = "/api/v1/health"
	shutdownTimeout = 30 * time.Second
	interruptReason = "server restarted while task was running"
)

// App - собранный сервер
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *sqlite.Storage
	blobs   *blobstore.Store
	filters *filter.Cache
	mirror  *mirror.Service
	uploads *upload.Coalescer
	runner  *tasks.Runner
	limiter *middleware.RateLimiter
	version string
}

// New открывает хранилища и создает сервисы
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, version string) (*App, error) {
	store, err := sqlite.New(ctx, cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	blobs, err := blobstore.New(logger, cfg.Storage.BlobDir)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	client := remote.NewClient(logger.With("component", "remote"), remote.Options{
		Concurrency:  cfg.Sync.DownloadConcurrency,
		Attempts:     cfg.Sync.Retries,
		FetchTimeout: cfg.Sync.FetchTimeout.Duration(),
		Backoff:      cfg.Sync.Backoff.Duration(),
	})

	stager := staging.New(store, blobs, client, logger.With("component", "staging"), client.Concurrency())
	filters := filter.NewCache()

	a := &App{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		blobs:   blobs,
		filters: filters,
		mirror: mirror.NewService(store, client, stager, blobs, filters, logger.With("component", "mirror"),
			mirror.Options{SyncTimeout: cfg.Sync.SyncTimeout.Duration()}),
		uploads: upload.New(store, stager, blobs, logger.With("component", "upload"),
			upload.Options{Window: cfg.Upload.Window.Duration()}),
		runner:  tasks.NewRunner(store, logger.With("component", "tasks"), cfg.Server.Workers),
		limiter: middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateWindow.Duration(), logger),
		version: version,
	}

	return a, nil
}

// Bootstrap приводит remotes и репозитории в базе к конфигурации.
// Существующие репозитории не пересоздаются, только перепривязываются.
func (a *App) Bootstrap(ctx context.Context) error {
	for _, rc := range a.cfg.Remotes {
		model, err := rc.Model()
		if err != nil {
			return fmt.Errorf("remote %s: %w", rc.ID, err)
		}
		stored, err := a.store.UpsertRemote(ctx, model)
		if err != nil {
			return fmt.Errorf("remote %s: %w", rc.ID, err)
		}
		a.filters.Invalidate(stored.ID)
		a.logger.Debug("Remote configured", "remote_id", stored.ID, "url", stored.URL, "policy", stored.Policy)
	}

	for _, rc := range a.cfg.Repositories {
		err := a.store.CreateRepository(ctx, &models.Repository{ID: rc.ID, RemoteID: rc.Remote})
		switch {
		case err == nil:
			a.logger.Info("Repository created", "repository_id", rc.ID)
		case errors.Is(err, storage.ErrRepositoryAlreadyExists):
			if err := a.store.LinkRemote(ctx, rc.ID, rc.Remote); err != nil {
				return fmt.Errorf("repository %s: %w", rc.ID, err)
			}
		default:
			return fmt.Errorf("repository %s: %w", rc.ID, err)
		}
	}

	return nil
}

// Recover помечает прерванные задачи как failed и заново ставит коммиты
// незавершенных сессий загрузки под их прежними task ID
func (a *App) Recover(ctx context.Context) error {
	n, err := a.store.FailInterruptedTasks(ctx, interruptReason)
	if err != nil {
		return err
	}
	if n > 0 {
		a.logger.Warn("Interrupted tasks marked as failed", "count", n)
	}

	sessions, err := a.uploads.Pending(ctx)
	if err != nil {
		return err
	}
	for _, session := range sessions {
		token := session.Token
		_, err := a.runner.SubmitWithID(ctx, session.TaskID, models.TaskKindUploadGroup, session.RepositoryID,
			func(ctx context.Context) (*models.TaskResult, error) {
				return a.uploads.CommitTask(ctx, token)
			})
		if err != nil {
			return fmt.Errorf("failed to resume upload session: %w", err)
		}
		a.logger.Info("Upload session resumed", "task_id", session.TaskID, "repository_id", session.RepositoryID)
	}

	return nil
}

// Handler возвращает HTTP API. Health check доступен без токена.
func (a *App) Handler() http.Handler {
	jwtConfig := a.JWTConfig()

	syncHandler := handlers.NewSyncHandler(a.logger, a.mirror, a.runner)
	uploadHandler := handlers.NewUploadHandler(a.logger, a.uploads, a.runner, a.cfg.Upload.MaxSizeMB<<20)
	contentHandler := handlers.NewContentHandler(a.logger, a.mirror)
	healthHandler := handlers.NewHealthHandler(a.logger, a.store.DB(), a.version)

	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/tasks/sync", syncHandler.StartSync)
	api.HandleFunc("GET /api/v1/tasks/{id}", syncHandler.GetTask)
	api.HandleFunc("POST /api/v1/uploads", uploadHandler.Upload)
	api.HandleFunc("POST /api/v1/uploads/group", uploadHandler.UploadGroup)
	api.HandleFunc("GET /api/v1/content/{id}", contentHandler.Download)

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+healthPath, healthHandler.Health)
	mux.Handle("/api/", middleware.Chain(api,
		middleware.AuthMiddleware(a.logger, jwtConfig),
		middleware.RateLimitMiddleware(a.limiter, a.logger),
	))

	return middleware.Chain(mux,
		middleware.LoggingWithSkip(a.logger, []string{healthPath}),
		middleware.RecoveryMiddleware(a.logger),
	)
}

// JWTConfig - настройки токенов клиентов
func (a *App) JWTConfig() handlers.JWTConfig {
	return handlers.JWTConfig{
		Secret:         []byte(a.cfg.Server.JWTSecret),
		AccessTokenTTL: a.cfg.Server.TokenTTL.Duration(),
	}
}

// Run запускает HTTP сервер и блокируется до отмены ctx.
// При остановке дожидается запущенных задач не дольше shutdownTimeout.
func (a *App) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Server starting", "addr", a.cfg.Server.ListenAddr, "version", a.version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	a.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := server.Shutdown(shutdownCtx)
	if taskErr := a.runner.Shutdown(shutdownCtx); taskErr != nil {
		a.logger.Warn("Tasks did not finish before shutdown", "error", taskErr)
	}

	return errors.Join(serveErr, err)
}

// Close освобождает ресурсы
func (a *App) Close() error {
	a.limiter.Stop()
	return a.store.Close()
}
