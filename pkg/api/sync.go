package api

import "time"

// SyncRequest представляет запрос на синхронизацию репозитория с remote
type SyncRequest struct {
	RemoteID     string   `json:"remote_id,omitempty"` // пусто - remote репозитория
	RepositoryID string   `json:"repository_id"`
	Projects     []string `json:"projects,omitempty"` // только указанные проекты
	Mirror       bool     `json:"mirror"`             // удалять файлы, которых нет в remote
}

// TaskResult - итог задачи
type TaskResult struct {
	Error         string   `json:"error,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
	VersionNumber int      `json:"version_number"`
	Added         int      `json:"added"`
	Removed       int      `json:"removed"`
	Serial        int64    `json:"serial,omitempty"`
	NewVersion    bool     `json:"new_version"`
}

// TaskResponse представляет состояние фоновой задачи
type TaskResponse struct {
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	Result       *TaskResult `json:"result,omitempty"`
	ID           string      `json:"id"`
	Kind         string      `json:"kind"`
	State        string      `json:"state"` // waiting, running, completed, failed
	RepositoryID string      `json:"repository_id"`
}

// Done сообщает, завершена ли задача
func (t *TaskResponse) Done() bool {
	return t.State == "completed" || t.State == "failed"
}
