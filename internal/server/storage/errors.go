package storage

import (
	"errors"
	"fmt"
	"time"
)

// Common storage errors
var (
	// ErrRemoteNotFound indicates that remote was not found in storage
	ErrRemoteNotFound = errors.New("remote not found")

	// ErrRepositoryNotFound indicates that repository was not found in storage
	ErrRepositoryNotFound = errors.New("repository not found")

	// ErrRepositoryAlreadyExists indicates that repository with this id already exists
	ErrRepositoryAlreadyExists = errors.New("repository already exists")

	// ErrContentNotFound indicates that content row was not found
	ErrContentNotFound = errors.New("content not found")

	// ErrArtifactNotFound indicates that artifact row was not found
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrConcurrentModification indicates that a newer version appeared after the base was read
	ErrConcurrentModification = errors.New("repository was modified concurrently")

	// ErrDuplicateFilename indicates that two content rows in one version share a filename
	ErrDuplicateFilename = errors.New("duplicate filename in repository version")

	// ErrSessionNotFound indicates that upload session does not exist
	ErrSessionNotFound = errors.New("upload session not found")

	// ErrSessionClosed indicates that the session window has elapsed or it is being committed
	ErrSessionClosed = errors.New("upload session is closed")

	// ErrSessionCommitted indicates that another worker already claimed the session
	ErrSessionCommitted = errors.New("upload session already committed")

	// ErrTaskNotFound indicates that task was not found
	ErrTaskNotFound = errors.New("task not found")
)

// SessionOpenError возвращается ClaimSession, пока окно сессии не истекло
type SessionOpenError struct {
	Start time.Time
}

func (e *SessionOpenError) Error() string {
	return fmt.Sprintf("upload session window open until %s", e.Start.Format(time.RFC3339Nano))
}
