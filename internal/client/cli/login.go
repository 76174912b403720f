package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iudanet/pymirror/internal/client/storage"
)

// TokenEnv - переменная окружения с токеном доступа
const TokenEnv = "PYMIRROR_TOKEN"

// tokenClaims - поля токена, которые клиент показывает пользователю.
// Подпись проверяет сервер, клиент ее не знает.
type tokenClaims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// LoginOptions - источники токена
type LoginOptions struct {
	TokenFile string
}

// readToken получает токен с приоритетом:
// 1. Переменная окружения PYMIRROR_TOKEN
// 2. Файл из --token-file
// 3. Интерактивный ввод
func (c *Cli) readToken(opts LoginOptions) (string, error) {
	if token := strings.TrimSpace(os.Getenv(TokenEnv)); token != "" {
		return token, nil
	}

	if opts.TokenFile != "" {
		content, err := os.ReadFile(opts.TokenFile)
		if err != nil {
			return "", fmt.Errorf("failed to read token file: %w", err)
		}
		token := strings.TrimSpace(string(content))
		if token == "" {
			return "", fmt.Errorf("token file is empty")
		}
		return token, nil
	}

	token, err := c.io.ReadPassword("Access token: ")
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	if token == "" {
		return "", fmt.Errorf("token cannot be empty")
	}
	return token, nil
}

func (c *Cli) runLogin(ctx context.Context, opts LoginOptions) error {
	token, err := c.readToken(opts)
	if err != nil {
		return err
	}

	var claims tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}

	auth := &storage.AuthData{
		ServerURL:   c.serverURL,
		ClientID:    claims.ClientID,
		AccessToken: token,
	}
	if claims.ExpiresAt != nil {
		auth.ExpiresAt = claims.ExpiresAt.Unix()
	}
	if auth.Expired(c.now()) {
		return fmt.Errorf("token has already expired")
	}

	if err := c.store.SaveAuth(ctx, auth); err != nil {
		return fmt.Errorf("failed to save auth data: %w", err)
	}

	c.io.Printf("Logged in to %s as %s\n", auth.ServerURL, auth.ClientID)
	return nil
}
