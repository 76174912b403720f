package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/iudanet/pymirror/internal/client/storage"
)

func (c *Cli) runLogout(ctx context.Context) error {
	if err := c.store.DeleteAuth(ctx, c.serverURL); err != nil {
		if errors.Is(err, storage.ErrAuthNotFound) {
			c.io.Printf("Not logged in to %s.\n", c.serverURL)
			return nil
		}
		return fmt.Errorf("logout failed: %w", err)
	}

	c.io.Printf("Logged out of %s, local token deleted.\n", c.serverURL)
	return nil
}
