package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/pymirror/internal/clock"
	"github.com/iudanet/pymirror/internal/models"
	"github.com/iudanet/pymirror/internal/server/blobstore"
	"github.com/iudanet/pymirror/internal/server/staging"
	"github.com/iudanet/pymirror/internal/server/storage"
	"github.com/iudanet/pymirror/internal/server/storage/sqlite"
)

const testWindow = 5 * time.Second

type testEnv struct {
	store     *sqlite.Storage
	clock     *clock.FakeClock
	coalescer *Coalescer
}

func setupTestCoalescer(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := sqlite.New(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	blobs, err := blobstore.New(logger, t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.CreateRepository(ctx, &models.Repository{ID: "main"}))

	clk := clock.Fake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	stager := staging.New(store, blobs, nil, logger, 4)

	return &testEnv{
		store:     store,
		clock:     clk,
		coalescer: New(store, stager, blobs, logger, Options{Window: testWindow, Clock: clk}),
	}
}

func (env *testEnv) upload(t *testing.T, token, filename, body string) *Result {
	t.Helper()
	res, err := env.coalescer.Upload(context.Background(), Request{
		SessionToken: token,
		RepositoryID: "main",
		Filename:     filename,
		Body:         strings.NewReader(body),
	})
	require.NoError(t, err)
	return res
}

// commitAsync запускает коммит и продвигает часы до конца окна
func (env *testEnv) commitAsync(t *testing.T, token string) *models.TaskResult {
	t.Helper()

	type outcome struct {
		res *models.TaskResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := env.coalescer.CommitSession(context.Background(), token)
		done <- outcome{res, err}
	}()

	env.clock.WaitForTimers(1)
	env.clock.Advance(testWindow)

	select {
	case out := <-done:
		require.NoError(t, out.err)
		return out.res
	case <-time.After(5 * time.Second):
		t.Fatal("commit did not finish")
		return nil
	}
}

func (env *testEnv) filenames(t *testing.T, number int) []string {
	t.Helper()
	contents, err := env.store.ListVersionContent(context.Background(), "main", number)
	require.NoError(t, err)
	var out []string
	for _, c := range contents {
		out = append(out, c.Filename)
	}
	sort.Strings(out)
	return out
}

func TestCoalescer_UploadsInWindowProduceOneVersion(t *testing.T) {
	env := setupTestCoalescer(t)

	first := env.upload(t, "", "foo-1.0.tar.gz", "foo 1.0")
	assert.True(t, first.Created)
	assert.Equal(t, env.clock.Now().Add(testWindow), first.Start)

	for _, name := range []string{"foo-1.1.tar.gz", "bar-2.0.tar.gz"} {
		res := env.upload(t, first.SessionToken, name, name)
		assert.False(t, res.Created)
		assert.Equal(t, first.SessionToken, res.SessionToken)
		assert.Equal(t, first.TaskID, res.TaskID)
	}

	result := env.commitAsync(t, first.SessionToken)
	assert.True(t, result.NewVersion)
	assert.Equal(t, 1, result.VersionNumber)
	assert.Equal(t, 3, result.Added)
	assert.Equal(t, []string{"bar-2.0.tar.gz", "foo-1.0.tar.gz", "foo-1.1.tar.gz"}, env.filenames(t, 1))

	_, err := env.store.GetSession(context.Background(), first.SessionToken)
	assert.ErrorIs(t, err, storage.ErrSessionNotFound)
}

func TestCoalescer_LateUploadProducesSecondVersion(t *testing.T) {
	ctx := context.Background()
	env := setupTestCoalescer(t)

	first := env.upload(t, "", "foo-1.0.tar.gz", "foo 1.0")
	env.clock.Advance(testWindow)

	late := env.upload(t, first.SessionToken, "foo-1.1.tar.gz", "foo 1.1")
	assert.True(t, late.Created)
	assert.NotEqual(t, first.SessionToken, late.SessionToken)
	assert.NotEqual(t, first.TaskID, late.TaskID)

	res, err := env.coalescer.CommitSession(ctx, first.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, 1, res.VersionNumber)
	assert.Equal(t, []string{"foo-1.0.tar.gz"}, env.filenames(t, 1))

	res = env.commitAsync(t, late.SessionToken)
	assert.Equal(t, 2, res.VersionNumber)
	assert.Equal(t, []string{"foo-1.0.tar.gz", "foo-1.1.tar.gz"}, env.filenames(t, 2))
}

func TestCoalescer_Dedup(t *testing.T) {
	ctx := context.Background()
	env := setupTestCoalescer(t)

	first := env.upload(t, "", "foo-1.0.tar.gz", "same bytes")
	env.upload(t, first.SessionToken, "foo-1.0.tar.gz", "same bytes")

	session, err := env.store.GetSession(ctx, first.SessionToken)
	require.NoError(t, err)
	assert.Len(t, session.Artifacts, 1)

	res := env.commitAsync(t, first.SessionToken)
	assert.Equal(t, 1, res.Added)

	// повторная загрузка тех же байтов не создает версию
	again := env.upload(t, "", "foo-1.0.tar.gz", "same bytes")
	res = env.commitAsync(t, again.SessionToken)
	assert.False(t, res.NewVersion)
	assert.Equal(t, 1, res.VersionNumber)

	sum := sha256.Sum256([]byte("same bytes"))
	content, err := env.store.GetContentBySha256(ctx, hex.EncodeToString(sum[:]))
	require.NoError(t, err)
	assert.Equal(t, "foo-1.0.tar.gz", content.Filename)
}

func TestCoalescer_SameFilenameReplacesContent(t *testing.T) {
	env := setupTestCoalescer(t)

	first := env.upload(t, "", "foo-1.0.tar.gz", "old build")
	env.commitAsync(t, first.SessionToken)

	second := env.upload(t, "", "foo-1.0.tar.gz", "new build")
	res := env.commitAsync(t, second.SessionToken)
	assert.Equal(t, 2, res.VersionNumber)
	assert.Equal(t, 1, res.Removed)

	contents, err := env.store.ListVersionContent(context.Background(), "main", 2)
	require.NoError(t, err)
	require.Len(t, contents, 1)

	sum := sha256.Sum256([]byte("new build"))
	assert.Equal(t, hex.EncodeToString(sum[:]), contents[0].Sha256)
}

func TestCoalescer_UploadByChecksum(t *testing.T) {
	ctx := context.Background()
	env := setupTestCoalescer(t)

	first := env.upload(t, "", "foo-1.0.tar.gz", "payload")

	res, err := env.coalescer.Upload(ctx, Request{
		SessionToken: first.SessionToken,
		RepositoryID: "main",
		Filename:     "foo-1.0-py3-none-any.whl",
		Checksum:     first.Sha256,
	})
	require.NoError(t, err)
	assert.Equal(t, first.Sha256, res.Sha256)
	assert.False(t, res.Created)
}

func TestCoalescer_UploadErrors(t *testing.T) {
	ctx := context.Background()
	env := setupTestCoalescer(t)

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{
			name:    "no payload",
			req:     Request{RepositoryID: "main", Filename: "foo-1.0.tar.gz"},
			wantErr: ErrNoPayload,
		},
		{
			name:    "unknown checksum",
			req:     Request{RepositoryID: "main", Filename: "foo-1.0.tar.gz", Checksum: strings.Repeat("a", 64)},
			wantErr: storage.ErrArtifactNotFound,
		},
		{
			name:    "unknown repository",
			req:     Request{RepositoryID: "missing", Filename: "foo-1.0.tar.gz", Body: strings.NewReader("x")},
			wantErr: storage.ErrRepositoryNotFound,
		},
		{
			name: "invalid filename",
			req:  Request{RepositoryID: "main", Filename: "../etc/passwd", Body: strings.NewReader("x")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.coalescer.Upload(ctx, tt.req)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}

	sessions, err := env.store.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestCoalescer_AlreadyCommitted(t *testing.T) {
	ctx := context.Background()
	env := setupTestCoalescer(t)

	first := env.upload(t, "", "foo-1.0.tar.gz", "payload")
	env.clock.Advance(testWindow)

	_, err := env.store.ClaimSession(ctx, first.SessionToken, env.clock.Now())
	require.NoError(t, err)

	_, err = env.coalescer.CommitSession(ctx, first.SessionToken)
	assert.ErrorIs(t, err, ErrSessionCommitted)

	res, err := env.coalescer.CommitTask(ctx, first.SessionToken)
	require.NoError(t, err)
	assert.False(t, res.NewVersion)
	assert.NotEmpty(t, res.Warnings)
}

func TestCoalescer_GroupCommitWaitsForWindow(t *testing.T) {
	env := setupTestCoalescer(t)
	first := env.upload(t, "", "foo-1.0.tar.gz", "payload")

	// задача окна и задача upload-group для одной сессии
	results := make(chan *models.TaskResult, 2)
	for i := 0; i < 2; i++ {
		go func() {
			res, err := env.coalescer.CommitTask(context.Background(), first.SessionToken)
			assert.NoError(t, err)
			results <- res
		}()
	}

	// обе ждут начала сессии, до него коммита нет
	env.clock.WaitForTimers(2)
	session, err := env.store.GetSession(context.Background(), first.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, models.SessionOpen, session.State)

	env.clock.Advance(testWindow)

	var created, skipped int
	for i := 0; i < 2; i++ {
		select {
		case res := <-results:
			require.NotNil(t, res)
			if res.NewVersion {
				created++
			} else {
				skipped++
				assert.NotEmpty(t, res.Warnings)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("commit did not finish")
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, []string{"foo-1.0.tar.gz"}, env.filenames(t, 1))
}

func TestCoalescer_CanceledWhileWaiting(t *testing.T) {
	env := setupTestCoalescer(t)
	first := env.upload(t, "", "foo-1.0.tar.gz", "payload")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := env.coalescer.CommitSession(ctx, first.SessionToken)
		done <- err
	}()

	env.clock.WaitForTimers(1)
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)

	session, err := env.store.GetSession(context.Background(), first.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, models.SessionOpen, session.State)
}

func TestCoalescer_PendingReleasesClaims(t *testing.T) {
	ctx := context.Background()
	env := setupTestCoalescer(t)

	first := env.upload(t, "", "foo-1.0.tar.gz", "payload")
	env.clock.Advance(testWindow)
	_, err := env.store.ClaimSession(ctx, first.SessionToken, env.clock.Now())
	require.NoError(t, err)

	pending, err := env.coalescer.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.SessionOpen, pending[0].State)

	res, err := env.coalescer.CommitSession(ctx, first.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, 1, res.VersionNumber)
}
