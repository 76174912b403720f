package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	clientapi "github.com/iudanet/pymirror/internal/client/api"
	"github.com/iudanet/pymirror/internal/client/storage"
	"github.com/iudanet/pymirror/pkg/api"
)

// UploadOptions - параметры команды upload
type UploadOptions struct {
	// Existing - уже сохраненные на сервере артефакты в виде filename=sha256
	Existing   []string
	NewSession bool
	Wait       bool
}

// uploadView - вывод одной загрузки
type uploadView struct {
	Filename string `json:"filename"`
	api.UploadResponse
}

// uploadItem - файл с диска или ссылка на сохраненный артефакт
type uploadItem struct {
	path     string
	filename string
	sha256   string
}

func parseUploads(paths, existing []string) ([]uploadItem, error) {
	items := make([]uploadItem, 0, len(paths)+len(existing))
	for _, p := range paths {
		items = append(items, uploadItem{path: p, filename: filepath.Base(p)})
	}
	for _, e := range existing {
		filename, digest, ok := strings.Cut(e, "=")
		if !ok || filename == "" || digest == "" {
			return nil, fmt.Errorf("invalid --existing value %q, expected filename=sha256", e)
		}
		items = append(items, uploadItem{filename: filename, sha256: digest})
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("nothing to upload")
	}
	return items, nil
}

// currentSession возвращает сохраненную сессию, пока ее окно открыто
func (c *Cli) currentSession(ctx context.Context, repositoryID string) (string, error) {
	session, err := c.store.GetSession(ctx, repositoryID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get upload session: %w", err)
	}
	if !session.Open(c.now()) {
		return "", nil
	}
	return session.Token, nil
}

func (c *Cli) runUpload(ctx context.Context, repositoryID string, paths []string, opts UploadOptions) error {
	items, err := parseUploads(paths, opts.Existing)
	if err != nil {
		return err
	}
	if err := c.authenticate(ctx); err != nil {
		return err
	}

	token := ""
	if !opts.NewSession {
		if token, err = c.currentSession(ctx, repositoryID); err != nil {
			return err
		}
	}

	var last *api.UploadResponse
	for _, item := range items {
		resp, err := c.uploadOne(ctx, repositoryID, token, item)
		if err != nil {
			return err
		}

		// сервер открывает новую сессию, если окно старой закрылось
		if resp.Session != token {
			token = resp.Session
			err := c.store.SaveSession(ctx, &storage.UploadSession{
				RepositoryID: repositoryID,
				Token:        resp.Session,
				TaskID:       resp.TaskID,
				Start:        resp.Start,
			})
			if err != nil {
				return fmt.Errorf("failed to save upload session: %w", err)
			}
		}
		if resp.Created {
			c.rememberTask(ctx, &api.TaskResponse{
				ID:           resp.TaskID,
				Kind:         "upload_group",
				RepositoryID: repositoryID,
				State:        "waiting",
			})
		}

		if err := c.render("upload", uploadView{Filename: item.filename, UploadResponse: *resp}); err != nil {
			return err
		}
		last = resp
	}

	if !opts.Wait {
		return nil
	}

	task, err := c.api.WaitTask(ctx, last.TaskID, c.pollInterval)
	if err != nil {
		return fmt.Errorf("failed to wait for upload commit: %w", err)
	}
	return c.finishTask(ctx, task, false)
}

func (c *Cli) uploadOne(ctx context.Context, repositoryID, session string, item uploadItem) (*api.UploadResponse, error) {
	params := clientapi.UploadParams{
		RepositoryID: repositoryID,
		Session:      session,
		Filename:     item.filename,
		Sha256:       item.sha256,
	}

	if item.path != "" {
		f, err := os.Open(item.path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", item.path, err)
		}
		defer func() {
			_ = f.Close()
		}()
		params.Body = f
	}

	resp, err := c.api.Upload(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", item.filename, err)
	}
	return resp, nil
}

func (c *Cli) runUploadGroup(ctx context.Context, repositoryID string, wait bool) error {
	if err := c.authenticate(ctx); err != nil {
		return err
	}

	session, err := c.store.GetSession(ctx, repositoryID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return fmt.Errorf("no upload session for repository %s", repositoryID)
		}
		return fmt.Errorf("failed to get upload session: %w", err)
	}

	task, err := c.api.UploadGroup(ctx, api.UploadGroupRequest{
		SessionID:    session.Token,
		RepositoryID: repositoryID,
	})
	if err != nil {
		return fmt.Errorf("upload group failed: %w", err)
	}

	// сессия закоммичена или коммитится, новые загрузки откроют новую
	if err := c.store.DeleteSession(ctx, repositoryID); err != nil {
		return fmt.Errorf("failed to forget upload session: %w", err)
	}

	return c.finishTask(ctx, task, wait)
}
