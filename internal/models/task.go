package models

import "time"

// Task kinds exposed at the task boundary.
const (
	TaskKindSync        = "sync"
	TaskKindUploadGroup = "upload_group"
)

// Task states.
const (
	TaskWaiting   = "waiting"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// TaskResult - итог выполнения задачи. Частичные ошибки (битый checksum,
// недоступный проект) попадают в Warnings, а не валят задачу.
type TaskResult struct {
	Error         string   `json:"error,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
	VersionNumber int      `json:"version_number"`
	Added         int      `json:"added"`
	Removed       int      `json:"removed"`
	Serial        int64    `json:"serial,omitempty"`
	NewVersion    bool     `json:"new_version"`
}

// Task is a unit of background work with a pollable state.
type Task struct {
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	Result       *TaskResult `json:"result,omitempty"`
	ID           string      `json:"id"`
	Kind         string      `json:"kind"`
	State        string      `json:"state"`
	RepositoryID string      `json:"repository_id"`
}
