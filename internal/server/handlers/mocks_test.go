package handlers

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/iudanet/pymirror/internal/models"
	"github.com/iudanet/pymirror/internal/server/mirror"
	"github.com/iudanet/pymirror/internal/server/storage"
	"github.com/iudanet/pymirror/internal/server/tasks"
	"github.com/iudanet/pymirror/internal/server/upload"
)

// setupTestLogger creates a logger for testing
func setupTestLogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors in tests
	}
	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler)
}

type submittedTask struct {
	fn           tasks.Func
	id           string
	kind         string
	repositoryID string
}

// mockRunner запоминает задачи, не запуская их
type mockRunner struct {
	tasks     map[string]*models.Task
	submitted []submittedTask
	submitErr error
	mu        sync.Mutex
}

func newMockRunner() *mockRunner {
	return &mockRunner{tasks: make(map[string]*models.Task)}
}

func (m *mockRunner) Submit(ctx context.Context, kind, repositoryID string, fn tasks.Func) (*models.Task, error) {
	return m.SubmitWithID(ctx, "generated-id", kind, repositoryID, fn)
}

func (m *mockRunner) SubmitWithID(ctx context.Context, id, kind, repositoryID string, fn tasks.Func) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.submitErr != nil {
		return nil, m.submitErr
	}
	m.submitted = append(m.submitted, submittedTask{fn: fn, id: id, kind: kind, repositoryID: repositoryID})
	task := &models.Task{ID: id, Kind: kind, State: models.TaskWaiting, RepositoryID: repositoryID}
	m.tasks[id] = task
	return task, nil
}

func (m *mockRunner) Get(ctx context.Context, id string) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok {
		return nil, storage.ErrTaskNotFound
	}
	return task, nil
}

type mockSyncer struct {
	checkErr error
	result   *models.TaskResult
	requests []mirror.SyncRequest
}

func (m *mockSyncer) Check(ctx context.Context, req mirror.SyncRequest) error {
	return m.checkErr
}

func (m *mockSyncer) Sync(ctx context.Context, req mirror.SyncRequest) (*models.TaskResult, error) {
	m.requests = append(m.requests, req)
	return m.result, nil
}

type mockUploader struct {
	uploadErr error
	result    *upload.Result
	sessions  map[string]*models.UploadSession
	requests  []upload.Request
	bodies    []string
	committed []string
}

func (m *mockUploader) Upload(ctx context.Context, req upload.Request) (*upload.Result, error) {
	if req.Body != nil {
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		m.bodies = append(m.bodies, string(data))
		req.Body = nil
	}
	m.requests = append(m.requests, req)
	if m.uploadErr != nil {
		return nil, m.uploadErr
	}
	return m.result, nil
}

func (m *mockUploader) Session(ctx context.Context, token string) (*models.UploadSession, error) {
	session, ok := m.sessions[token]
	if !ok {
		return nil, storage.ErrSessionNotFound
	}
	return session, nil
}

func (m *mockUploader) CommitTask(ctx context.Context, token string) (*models.TaskResult, error) {
	m.committed = append(m.committed, token)
	return &models.TaskResult{VersionNumber: 1, NewVersion: true}, nil
}

type mockMaterializer struct {
	contents map[string]*models.Content
	data     map[string]string
}

func (m *mockMaterializer) Materialize(ctx context.Context, contentID string) (*models.Content, io.ReadCloser, error) {
	content, ok := m.contents[contentID]
	if !ok {
		return nil, nil, storage.ErrContentNotFound
	}
	return content, io.NopCloser(strings.NewReader(m.data[contentID])), nil
}

type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error {
	return m.err
}
