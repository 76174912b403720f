package storage

import (
	"context"
	"time"
)

// SessionStorage запоминает открытую сессию загрузок по репозиторию,
// чтобы следующие upload попадали в тот же коммит
type SessionStorage interface {
	// SaveSession stores the session for its repository
	SaveSession(ctx context.Context, session *UploadSession) error

	// GetSession returns the session for repository
	// Returns ErrSessionNotFound if none is remembered
	GetSession(ctx context.Context, repositoryID string) (*UploadSession, error)

	// DeleteSession forgets the session of repository
	DeleteSession(ctx context.Context, repositoryID string) error
}

// UploadSession - сессия загрузок, выданная сервером
type UploadSession struct {
	Start        time.Time `json:"start"`
	RepositoryID string    `json:"repository_id"`
	Token        string    `json:"token"`
	TaskID       string    `json:"task_id"`
}

// Open сообщает, принимает ли сессия загрузки в момент now
func (s *UploadSession) Open(now time.Time) bool {
	return now.Before(s.Start)
}
