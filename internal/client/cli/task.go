package cli

import (
	"context"
	"fmt"
)

func (c *Cli) runTask(ctx context.Context, id string, wait bool) error {
	if err := c.authenticate(ctx); err != nil {
		return err
	}

	task, err := c.api.GetTask(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get task: %w", err)
	}

	return c.finishTask(ctx, task, wait)
}
