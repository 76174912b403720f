package cli

import (
	"context"
	"fmt"

	"github.com/iudanet/pymirror/pkg/api"
)

// SyncOptions - параметры команды sync
type SyncOptions struct {
	RemoteID string
	Projects []string
	Mirror   bool
	Wait     bool
}

func (c *Cli) runSync(ctx context.Context, repositoryID string, opts SyncOptions) error {
	if err := c.authenticate(ctx); err != nil {
		return err
	}

	task, err := c.api.StartSync(ctx, api.SyncRequest{
		RemoteID:     opts.RemoteID,
		RepositoryID: repositoryID,
		Projects:     opts.Projects,
		Mirror:       opts.Mirror,
	})
	if err != nil {
		return fmt.Errorf("synchronization failed: %w", err)
	}

	return c.finishTask(ctx, task, opts.Wait)
}
