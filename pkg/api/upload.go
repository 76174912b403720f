package api

import "time"

// Поля multipart формы POST /api/v1/uploads
const (
	UploadFieldFile         = "file"
	UploadFieldSession      = "session"
	UploadFieldRepositoryID = "repository_id"
	UploadFieldSha256       = "sha256_digest"
	UploadFieldFilename     = "filename" // для загрузки по sha256 без файла
)

// UploadResponse представляет сессию, в которую попала загрузка
type UploadResponse struct {
	Start   time.Time `json:"start"`   // момент закрытия окна сессии
	Session string    `json:"session"` // токен для следующих загрузок
	TaskID  string    `json:"task_id"` // задача коммита сессии
	Sha256  string    `json:"sha256"`
	Created bool      `json:"created"` // загрузка открыла новую сессию
}

// UploadGroupRequest представляет запрос на коммит сессии загрузок
type UploadGroupRequest struct {
	SessionID    string `json:"session_id"`
	RepositoryID string `json:"repository_id,omitempty"`
}
