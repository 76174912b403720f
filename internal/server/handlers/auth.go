package handlers

import (
	"context"

	"github.com/iudanet/pymirror/pkg/api"
)

// contextKey тип для ключей контекста
type contextKey string

// ClientIDKey ключ для хранения client_id в контексте
const ClientIDKey contextKey = "client_id"

// GetClientID извлекает client_id из контекста запроса
func GetClientID(ctx context.Context) (string, bool) {
	clientID, ok := ctx.Value(ClientIDKey).(string)
	return clientID, ok && clientID != ""
}

// IssueToken выпускает токен для клиента, используется командой сервера --issue-token
func IssueToken(cfg JWTConfig, clientID string) (*api.TokenResponse, error) {
	token, expiresIn, err := GenerateAccessToken(cfg, clientID)
	if err != nil {
		return nil, err
	}
	return &api.TokenResponse{
		AccessToken: token,
		ClientID:    clientID,
		ExpiresIn:   expiresIn,
	}, nil
}
