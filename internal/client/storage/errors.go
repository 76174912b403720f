package storage

import "errors"

// Common client storage errors
var (
	// ErrAuthNotFound indicates that no authentication data exists
	ErrAuthNotFound = errors.New("authentication data not found")

	// ErrSessionNotFound indicates that no upload session is remembered for repository
	ErrSessionNotFound = errors.New("upload session not found")
)
