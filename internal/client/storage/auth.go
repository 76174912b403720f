package storage

import (
	"context"
	"time"
)

// AuthStorage хранит токены клиента, по одному на URL сервера
type AuthStorage interface {
	// SaveAuth stores the token for auth.ServerURL and makes that server current
	SaveAuth(ctx context.Context, auth *AuthData) error

	// GetAuth retrieves the token for serverURL
	// Returns ErrAuthNotFound if the client never logged in there
	GetAuth(ctx context.Context, serverURL string) (*AuthData, error)

	// CurrentAuth retrieves the token of the most recent login
	CurrentAuth(ctx context.Context) (*AuthData, error)

	// ListAuth returns all saved logins
	ListAuth(ctx context.Context) ([]*AuthData, error)

	// DeleteAuth removes the token for serverURL (logout)
	DeleteAuth(ctx context.Context, serverURL string) error
}

// AuthData represents the token issued by the server administrator
type AuthData struct {
	ServerURL   string `json:"server_url"`
	ClientID    string `json:"client_id"`
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"` // unix seconds, 0 - без срока
}

// Expired сообщает, истек ли токен к моменту now
func (a *AuthData) Expired(now time.Time) bool {
	return a.ExpiresAt > 0 && now.Unix() >= a.ExpiresAt
}
