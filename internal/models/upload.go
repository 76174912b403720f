package models

import "time"

// Upload session states.
const (
	SessionOpen       = "open"
	SessionCommitting = "committing"
)

// PendingUpload - загруженный артефакт, ожидающий коммита в сессии.
type PendingUpload struct {
	Sha256   string `json:"sha256"`
	Filename string `json:"filename"`
}

// UploadSession accumulates uploads for one client session until Start
// elapses. The window is fixed at creation and never extended.
type UploadSession struct {
	Start        time.Time       `json:"start"`
	CreatedAt    time.Time       `json:"created_at"`
	Token        string          `json:"token"`
	RepositoryID string          `json:"repository_id"`
	TaskID       string          `json:"task_id"`
	State        string          `json:"state"`
	Artifacts    []PendingUpload `json:"artifacts"`
}
