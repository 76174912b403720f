package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/pymirror/internal/client/storage"
	"github.com/iudanet/pymirror/pkg/api"
)

// statusView - вывод команды status
type statusView struct {
	ExpiresAt     time.Time             `json:"expires_at,omitzero"`
	Health        *api.HealthResponse   `json:"health,omitempty"`
	ServerURL     string                `json:"server_url"`
	ClientID      string                `json:"client_id,omitempty"`
	HealthError   string                `json:"health_error,omitempty"`
	Tasks         []*storage.TaskRecord `json:"tasks"`
	Authenticated bool                  `json:"authenticated"`
}

func (c *Cli) runStatus(ctx context.Context) error {
	view := statusView{ServerURL: c.serverURL}

	auth, err := c.store.GetAuth(ctx, c.serverURL)
	switch {
	case err == nil:
		view.ClientID = auth.ClientID
		view.Authenticated = !auth.Expired(c.now())
		if auth.ExpiresAt > 0 {
			view.ExpiresAt = time.Unix(auth.ExpiresAt, 0)
		}
	case errors.Is(err, storage.ErrAuthNotFound):
	default:
		return fmt.Errorf("failed to get auth data: %w", err)
	}

	// недоступный сервер не ошибка команды status
	health, err := c.api.Health(ctx)
	if err != nil {
		view.HealthError = err.Error()
	} else {
		view.Health = health
	}

	view.Tasks, err = c.store.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}

	return c.render("status", view)
}
