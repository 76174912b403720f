package storage

import (
	"context"
	"time"
)

// MaxRecentTasks - сколько последних задач хранит клиент
const MaxRecentTasks = 20

// TaskStorage хранит последние запущенные клиентом задачи
type TaskStorage interface {
	// SaveTask stores or updates a task record and trims the history to MaxRecentTasks
	SaveTask(ctx context.Context, task *TaskRecord) error

	// ListTasks returns remembered tasks, newest first
	ListTasks(ctx context.Context) ([]*TaskRecord, error)
}

// TaskRecord - задача, запущенная клиентом
type TaskRecord struct {
	SubmittedAt  time.Time `json:"submitted_at"`
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	RepositoryID string    `json:"repository_id"`
	State        string    `json:"state"`
}
