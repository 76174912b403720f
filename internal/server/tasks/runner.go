// Package tasks выполняет синхронизации и коммиты загрузок в фоне
// и хранит их состояние, чтобы клиент мог опрашивать результат.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/iudanet/pymirror/internal/models"
	"github.com/iudanet/pymirror/internal/server/storage"
)

// ErrShutdown - раннер остановлен и не принимает задачи
var ErrShutdown = errors.New("task runner is shut down")

const defaultWorkers = 4

// Func - тело задачи
type Func func(ctx context.Context) (*models.TaskResult, error)

// Runner запускает задачи с ограничением параллельности
type Runner struct {
	store  storage.TaskStorage
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	slots  chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewRunner создает раннер. workers <= 0 - значение по умолчанию.
func NewRunner(store storage.TaskStorage, logger *slog.Logger, workers int) *Runner {
	if workers <= 0 {
		workers = defaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		store:  store,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		slots:  make(chan struct{}, workers),
	}
}

// Submit регистрирует задачу с новым ID и запускает ее
func (r *Runner) Submit(ctx context.Context, kind, repositoryID string, fn Func) (*models.Task, error) {
	return r.SubmitWithID(ctx, uuid.New().String(), kind, repositoryID, fn)
}

// SubmitWithID регистрирует задачу с заданным ID.
// Существующая запись с тем же ID сбрасывается в waiting.
func (r *Runner) SubmitWithID(ctx context.Context, id, kind, repositoryID string, fn Func) (*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrShutdown
	}

	task := &models.Task{
		ID:           id,
		Kind:         kind,
		State:        models.TaskWaiting,
		RepositoryID: repositoryID,
	}
	if err := r.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	snapshot := *task
	r.wg.Add(1)
	go r.run(task, fn)

	return &snapshot, nil
}

func (r *Runner) run(task *models.Task, fn Func) {
	defer r.wg.Done()

	logger := r.logger.With("task", task.ID, "kind", task.Kind, "repository", task.RepositoryID)

	select {
	case r.slots <- struct{}{}:
		defer func() { <-r.slots }()
	case <-r.ctx.Done():
		r.finish(logger, task, nil, r.ctx.Err())
		return
	}

	task.State = models.TaskRunning
	if err := r.store.UpdateTask(r.ctx, task); err != nil {
		logger.Error("failed to mark task running", "error", err)
	}

	logger.Info("task started")
	result, err := r.call(fn)
	r.finish(logger, task, result, err)
}

// call выполняет тело задачи, паника превращается в ошибку задачи
func (r *Runner) call(fn Func) (result *models.TaskResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panicked: %v", rec)
		}
	}()
	return fn(r.ctx)
}

func (r *Runner) finish(logger *slog.Logger, task *models.Task, result *models.TaskResult, err error) {
	if result == nil {
		result = &models.TaskResult{}
	}

	task.State = models.TaskCompleted
	if err != nil {
		task.State = models.TaskFailed
		result.Error = err.Error()
	}
	task.Result = result

	// итог сохраняется и после остановки раннера
	if uerr := r.store.UpdateTask(context.WithoutCancel(r.ctx), task); uerr != nil {
		logger.Error("failed to save task result", "error", uerr)
	}

	if err != nil {
		logger.Error("task failed", "error", err)
		return
	}
	logger.Info("task completed",
		"version", result.VersionNumber,
		"new_version", result.NewVersion,
		"warnings", len(result.Warnings))
}

// Get возвращает состояние задачи
func (r *Runner) Get(ctx context.Context, id string) (*models.Task, error) {
	return r.store.GetTask(ctx, id)
}

// Wait ждет завершения всех запущенных задач
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Shutdown отменяет задачи и ждет их завершения или истечения ctx
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for tasks: %w", ctx.Err())
	}
}
