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

// CreateTask stores a new task or resets an existing one
func (s *Storage) CreateTask(ctx context.Context, task *models.Task) error {
	now := time.Now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	result, err := marshalResult(task.Result)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tasks (id, kind, state, repository_id, result, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			result = excluded.result,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		task.ID, task.Kind, task.State, task.RepositoryID, result,
		task.CreatedAt.Unix(), task.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// UpdateTask updates state and result of task
func (s *Storage) UpdateTask(ctx context.Context, task *models.Task) error {
	task.UpdatedAt = time.Now()

	result, err := marshalResult(task.Result)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET state = ?, result = ?, updated_at = ? WHERE id = ?`,
		task.State, result, task.UpdatedAt.Unix(), task.ID)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return storage.ErrTaskNotFound
	}
	return nil
}

// GetTask retrieves task by ID
func (s *Storage) GetTask(ctx context.Context, id string) (*models.Task, error) {
	task := &models.Task{}
	var result sql.NullString
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, state, repository_id, result, created_at, updated_at
		FROM tasks WHERE id = ?
	`, id).Scan(&task.ID, &task.Kind, &task.State, &task.RepositoryID, &result, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	if result.Valid && result.String != "" {
		task.Result = &models.TaskResult{}
		if err := json.Unmarshal([]byte(result.String), task.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task result: %w", err)
		}
	}
	task.CreatedAt = unixToTime(createdAt)
	task.UpdatedAt = unixToTime(updatedAt)

	return task, nil
}

// FailInterruptedTasks marks waiting and running tasks as failed
func (s *Storage) FailInterruptedTasks(ctx context.Context, reason string) (int, error) {
	result, err := marshalResult(&models.TaskResult{Error: reason})
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET state = ?, result = ?, updated_at = ? WHERE state IN (?, ?)`,
		models.TaskFailed, result, time.Now().Unix(), models.TaskWaiting, models.TaskRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to fail interrupted tasks: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return int(rows), nil
}

func marshalResult(r *models.TaskResult) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal task result: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
