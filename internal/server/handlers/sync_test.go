package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/pymirror/internal/models"
	"github.com/iudanet/pymirror/internal/server/mirror"
	"github.com/iudanet/pymirror/internal/server/storage"
	"github.com/iudanet/pymirror/pkg/api"
)

func TestSyncHandler_StartSync(t *testing.T) {
	tests := []struct {
		checkErr error
		name     string
		body     string
		wantCode int
	}{
		{
			name:     "accepted",
			body:     `{"repository_id":"main","remote_id":"pypi","mirror":true,"projects":["Django"]}`,
			wantCode: http.StatusAccepted,
		},
		{name: "invalid json", body: `{`, wantCode: http.StatusBadRequest},
		{name: "missing repository", body: `{"remote_id":"pypi"}`, wantCode: http.StatusBadRequest},
		{name: "invalid project", body: `{"repository_id":"main","projects":["-bad-"]}`, wantCode: http.StatusBadRequest},
		{
			name:     "missing url",
			body:     `{"repository_id":"main"}`,
			checkErr: fmt.Errorf("remote pypi: %w", mirror.ErrMissingURL),
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name:     "unknown repository",
			body:     `{"repository_id":"nope"}`,
			checkErr: fmt.Errorf("failed to get repository: %w", storage.ErrRepositoryNotFound),
			wantCode: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newMockRunner()
			syncer := &mockSyncer{checkErr: tt.checkErr, result: &models.TaskResult{VersionNumber: 2}}
			handler := NewSyncHandler(setupTestLogger(), syncer, runner)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/sync", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			handler.StartSync(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode != http.StatusAccepted {
				assert.Empty(t, runner.submitted)
				return
			}

			var resp api.TaskResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, "generated-id", resp.ID)
			assert.Equal(t, models.TaskKindSync, resp.Kind)
			assert.Equal(t, models.TaskWaiting, resp.State)

			require.Len(t, runner.submitted, 1)
			result, err := runner.submitted[0].fn(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 2, result.VersionNumber)
			assert.Equal(t, []mirror.SyncRequest{{
				RemoteID:     "pypi",
				RepositoryID: "main",
				Projects:     []string{"Django"},
				Mirror:       true,
			}}, syncer.requests)
		})
	}
}

func TestSyncHandler_StartSync_SubmitError(t *testing.T) {
	runner := newMockRunner()
	runner.submitErr = fmt.Errorf("shut down")
	handler := NewSyncHandler(setupTestLogger(), &mockSyncer{}, runner)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/sync", bytes.NewBufferString(`{"repository_id":"main"}`))
	w := httptest.NewRecorder()
	handler.StartSync(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSyncHandler_GetTask(t *testing.T) {
	runner := newMockRunner()
	runner.tasks["t1"] = &models.Task{
		ID:    "t1",
		Kind:  models.TaskKindSync,
		State: models.TaskCompleted,
		Result: &models.TaskResult{
			VersionNumber: 4,
			Added:         2,
			Warnings:      []string{"project foo skipped: 503"},
			NewVersion:    true,
		},
	}
	handler := NewSyncHandler(setupTestLogger(), &mockSyncer{}, runner)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/tasks/{id}", handler.GetTask)

	t.Run("found", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/t1", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var resp api.TaskResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.True(t, resp.Done())
		require.NotNil(t, resp.Result)
		assert.Equal(t, 4, resp.Result.VersionNumber)
		assert.Equal(t, []string{"project foo skipped: 503"}, resp.Result.Warnings)
	})

	t.Run("not found", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/missing", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
