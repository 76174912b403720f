package storage

import (
	"context"

	"github.com/iudanet/pymirror/internal/models"
)

// TaskStorage defines interface for task records
type TaskStorage interface {
	// CreateTask stores a new task, an existing task with the same ID is reset
	CreateTask(ctx context.Context, task *models.Task) error

	// UpdateTask updates state and result of task
	// Returns ErrTaskNotFound if task doesn't exist
	UpdateTask(ctx context.Context, task *models.Task) error

	// GetTask retrieves task by ID
	// Returns ErrTaskNotFound if task doesn't exist
	GetTask(ctx context.Context, id string) (*models.Task, error)

	// FailInterruptedTasks marks waiting and running tasks as failed
	// Returns number of updated tasks
	FailInterruptedTasks(ctx context.Context, reason string) (int, error)
}
