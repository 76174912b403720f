// Package cli реализует команды клиента pymirror.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/template"
	"time"

	clientapi "github.com/iudanet/pymirror/internal/client/api"
	"github.com/iudanet/pymirror/internal/client/iocli"
	"github.com/iudanet/pymirror/internal/client/storage"
	"github.com/iudanet/pymirror/pkg/api"
)

// Форматы вывода
const (
	OutputAuto = "auto"
	OutputText = "text"
	OutputJSON = "json"
)

const defaultPollInterval = time.Second

// ErrNotLoggedIn - токен не сохранен или истек
var ErrNotLoggedIn = errors.New("not logged in, run 'pymirror login' first")

// APIClient - операции task API, которые использует CLI
type APIClient interface {
	SetToken(token string)
	Health(ctx context.Context) (*api.HealthResponse, error)
	StartSync(ctx context.Context, req api.SyncRequest) (*api.TaskResponse, error)
	GetTask(ctx context.Context, id string) (*api.TaskResponse, error)
	WaitTask(ctx context.Context, id string, interval time.Duration) (*api.TaskResponse, error)
	Upload(ctx context.Context, params clientapi.UploadParams) (*api.UploadResponse, error)
	UploadGroup(ctx context.Context, req api.UploadGroupRequest) (*api.TaskResponse, error)
}

// Store - локальное состояние клиента
type Store interface {
	storage.AuthStorage
	storage.SessionStorage
	storage.TaskStorage
}

// Cli выполняет команды клиента
type Cli struct {
	io           iocli.IO
	api          APIClient
	store        Store
	now          func() time.Time
	templates    *template.Template
	serverURL    string
	output       string
	pollInterval time.Duration
}

// New создает Cli. output - auto, text или json.
func New(io iocli.IO, apiClient APIClient, store Store, serverURL, output string) *Cli {
	return &Cli{
		io:           io,
		api:          apiClient,
		store:        store,
		now:          time.Now,
		templates:    template.Must(template.New("cli").Funcs(templateFuncs).Parse(templates)),
		serverURL:    serverURL,
		output:       output,
		pollInterval: defaultPollInterval,
	}
}

// authenticate загружает сохраненный токен в API клиент
func (c *Cli) authenticate(ctx context.Context) error {
	auth, err := c.store.GetAuth(ctx, c.serverURL)
	if err != nil {
		if errors.Is(err, storage.ErrAuthNotFound) {
			return ErrNotLoggedIn
		}
		return fmt.Errorf("failed to get auth data: %w", err)
	}
	if auth.Expired(c.now()) {
		return fmt.Errorf("access token has expired: %w", ErrNotLoggedIn)
	}

	c.api.SetToken(auth.AccessToken)
	return nil
}

func (c *Cli) jsonOutput() bool {
	switch c.output {
	case OutputJSON:
		return true
	case OutputText:
		return false
	default:
		return !c.io.IsTerminal()
	}
}

// render выводит v как JSON или по шаблону name
func (c *Cli) render(name string, v any) error {
	if c.jsonOutput() {
		enc := json.NewEncoder(c.io)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return c.templates.ExecuteTemplate(c.io, name, v)
}

// rememberTask сохраняет задачу в локальной истории.
// Ошибка истории не должна ломать команду, поэтому только печатается.
func (c *Cli) rememberTask(ctx context.Context, task *api.TaskResponse) {
	record := &storage.TaskRecord{
		ID:           task.ID,
		Kind:         task.Kind,
		RepositoryID: task.RepositoryID,
		State:        task.State,
		SubmittedAt:  c.now(),
	}
	if err := c.store.SaveTask(ctx, record); err != nil {
		c.io.Printf("Warning: failed to remember task %s: %v\n", task.ID, err)
	}
}

// finishTask ждет задачу при wait и печатает ее состояние.
// Проваленная задача возвращает ошибку, чтобы код выхода был ненулевым.
func (c *Cli) finishTask(ctx context.Context, task *api.TaskResponse, wait bool) error {
	if wait && !task.Done() {
		done, err := c.api.WaitTask(ctx, task.ID, c.pollInterval)
		if err != nil {
			return fmt.Errorf("failed to wait for task %s: %w", task.ID, err)
		}
		task = done
	}

	c.rememberTask(ctx, task)

	if err := c.render("task", task); err != nil {
		return err
	}
	if task.State == "failed" {
		msg := "task failed"
		if task.Result != nil && task.Result.Error != "" {
			msg = task.Result.Error
		}
		return fmt.Errorf("task %s: %s", task.ID, msg)
	}
	return nil
}
