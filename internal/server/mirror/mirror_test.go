package mirror

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/pymirror/internal/checksum"
	"github.com/iudanet/pymirror/internal/models"
	"github.com/iudanet/pymirror/internal/server/blobstore"
	"github.com/iudanet/pymirror/internal/server/filter"
	"github.com/iudanet/pymirror/internal/server/remote"
	"github.com/iudanet/pymirror/internal/server/staging"
	"github.com/iudanet/pymirror/internal/server/storage/sqlite"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeIndex - remote индекс в памяти
type fakeIndex struct {
	mu       sync.Mutex
	projects map[string][]models.CatalogEntry
	files    map[string]string
	failing  map[string]bool
	changed  []string
	serial   int64
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		projects: make(map[string][]models.CatalogEntry),
		files:    make(map[string]string),
		failing:  make(map[string]bool),
	}
}

// publish добавляет файл в индекс и отмечает проект измененным
func (f *fakeIndex) publish(project, version, filename string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data := project + "/" + filename
	sum := sha256.Sum256([]byte(data))
	url := "https://files/" + filename
	f.files[url] = data
	f.projects[project] = append(f.projects[project], models.CatalogEntry{
		Project:     project,
		Version:     version,
		Filename:    filename,
		URL:         url,
		PackageType: models.PackageTypeSdist,
		Digests:     map[string]string{models.DigestSHA256: hex.EncodeToString(sum[:])},
	})
	f.serial++
	f.changed = append(f.changed, project)
}

// unpublish удаляет файл из индекса
func (f *fakeIndex) unpublish(project, filename string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.projects[project][:0]
	for _, e := range f.projects[project] {
		if e.Filename != filename {
			kept = append(kept, e)
		}
	}
	f.projects[project] = kept
	f.serial++
	f.changed = append(f.changed, project)
}

// withhold делает байты файла недоступными до вызова возвращенной функции
func (f *fakeIndex) withhold(filename string) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	url := "https://files/" + filename
	data := f.files[url]
	delete(f.files, url)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.files[url] = data
	}
}

// tamper подменяет байты файла, заявленный sha256 остается прежним
func (f *fakeIndex) tamper(filename, data string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files["https://files/"+filename] = data
}

func (f *fakeIndex) fetcher() *FetcherMock {
	return &FetcherMock{
		FetchFunc: func(ctx context.Context, req remote.FetchRequest) (*remote.FetchResult, error) {
			f.mu.Lock()
			defer f.mu.Unlock()

			res := &remote.FetchResult{Serial: f.serial, Failed: map[string]string{}}
			var names []string
			switch {
			case len(req.Projects) > 0:
				res.Mode, res.Serial, names = remote.ModeExplicit, req.Serial, req.Projects
			case req.Serial > 0:
				res.Mode, names = remote.ModeIncremental, f.changed
			default:
				res.Mode = remote.ModeFull
				for name := range f.projects {
					names = append(names, name)
				}
			}
			f.changed = nil

			sort.Strings(names)
			seen := map[string]bool{}
			for _, name := range names {
				if seen[name] {
					continue
				}
				seen[name] = true
				if f.failing[name] {
					res.Failed[name] = "503 service unavailable"
					continue
				}
				res.Projects = append(res.Projects, name)
				res.Entries = append(res.Entries, f.projects[name]...)
			}
			return res, nil
		},
		DownloadFunc: func(ctx context.Context, url string) (io.ReadCloser, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			data, ok := f.files[url]
			if !ok {
				return nil, errors.New("not found")
			}
			return io.NopCloser(strings.NewReader(data)), nil
		},
	}
}

type testEnv struct {
	store   *sqlite.Storage
	blobs   *blobstore.Store
	index   *fakeIndex
	fetcher *FetcherMock
	service *Service
}

func setupTestService(t *testing.T, policy models.DownloadPolicy, filters models.FilterSpec) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.New(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	blobs, err := blobstore.New(testLogger(), t.TempDir())
	require.NoError(t, err)

	_, err = store.UpsertRemote(ctx, &models.Remote{ID: "pypi", URL: "https://pypi.example", Policy: policy, Filters: filters})
	require.NoError(t, err)
	require.NoError(t, store.CreateRepository(ctx, &models.Repository{ID: "main"}))
	require.NoError(t, store.LinkRemote(ctx, "main", "pypi"))

	env := &testEnv{store: store, blobs: blobs, index: newFakeIndex()}
	env.fetcher = env.index.fetcher()
	stager := staging.New(store, blobs, env.fetcher, testLogger(), 4)
	env.service = NewService(store, env.fetcher, stager, blobs, filter.NewCache(), testLogger(), Options{})
	return env
}

func (env *testEnv) contentOf(t *testing.T, number int) []string {
	t.Helper()
	contents, err := env.store.ListVersionContent(context.Background(), "main", number)
	require.NoError(t, err)
	out := make([]string, 0, len(contents))
	for _, c := range contents {
		out = append(out, c.Filename)
	}
	return out
}

func (env *testEnv) sync(t *testing.T, mirror bool) *models.TaskResult {
	t.Helper()
	res, err := env.service.Sync(context.Background(), SyncRequest{RepositoryID: "main", Mirror: mirror})
	require.NoError(t, err)
	return res
}

func TestSync_Idempotent(t *testing.T) {
	env := setupTestService(t, models.PolicyImmediate, models.FilterSpec{})
	env.index.publish("foo", "1.0", "foo-1.0.tar.gz")
	env.index.publish("bar", "2.0", "bar-2.0.tar.gz")

	first := env.sync(t, true)
	assert.True(t, first.NewVersion)
	assert.Equal(t, 1, first.VersionNumber)
	assert.Equal(t, 2, first.Added)
	assert.Equal(t, int64(2), first.Serial)
	assert.Equal(t, []string{"bar-2.0.tar.gz", "foo-1.0.tar.gz"}, env.contentOf(t, 1))

	second := env.sync(t, true)
	assert.False(t, second.NewVersion)
	assert.Equal(t, 1, second.VersionNumber)

	latest, err := env.store.LatestVersion(context.Background(), "main")
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Number)
}

func TestSync_MirrorVsAdditive(t *testing.T) {
	tests := []struct {
		name   string
		want   []string
		mirror bool
	}{
		{name: "mirror equals remote", mirror: true, want: []string{"b-1.0.tar.gz", "c-1.0.tar.gz"}},
		{name: "additive keeps local", mirror: false, want: []string{"a-1.0.tar.gz", "b-1.0.tar.gz", "c-1.0.tar.gz"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestService(t, models.PolicyOnDemand, models.FilterSpec{})
			env.index.publish("a", "1.0", "a-1.0.tar.gz")
			env.index.publish("b", "1.0", "b-1.0.tar.gz")
			env.sync(t, tt.mirror)

			env.index.unpublish("a", "a-1.0.tar.gz")
			env.index.publish("c", "1.0", "c-1.0.tar.gz")

			res := env.sync(t, tt.mirror)
			require.True(t, res.NewVersion)
			assert.Equal(t, tt.want, env.contentOf(t, res.VersionNumber))
		})
	}
}

func TestSync_IncrementalUsesSerial(t *testing.T) {
	env := setupTestService(t, models.PolicyOnDemand, models.FilterSpec{})
	env.index.publish("foo", "1.0", "foo-1.0.tar.gz")
	env.index.publish("bar", "1.0", "bar-1.0.tar.gz")
	env.sync(t, true)

	env.index.publish("foo", "1.1", "foo-1.1.tar.gz")
	res := env.sync(t, true)

	calls := env.fetcher.FetchCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, int64(0), calls[0].Req.Serial)
	assert.Equal(t, int64(2), calls[1].Req.Serial)

	// bar не было в ленте изменений, но в mirror режиме он не удаляется
	assert.Equal(t, []string{"bar-1.0.tar.gz", "foo-1.0.tar.gz", "foo-1.1.tar.gz"}, env.contentOf(t, res.VersionNumber))
	assert.Equal(t, int64(3), res.Serial)
}

func TestSync_FailedProjectNotRemoved(t *testing.T) {
	env := setupTestService(t, models.PolicyOnDemand, models.FilterSpec{})
	env.index.publish("foo", "1.0", "foo-1.0.tar.gz")
	env.index.publish("bar", "1.0", "bar-1.0.tar.gz")
	env.sync(t, true)

	env.index.failing["foo"] = true
	env.index.unpublish("bar", "bar-1.0.tar.gz")
	env.index.publish("bar", "2.0", "bar-2.0.tar.gz")

	ctx := context.Background()
	res, err := env.service.Sync(ctx, SyncRequest{RepositoryID: "main", Mirror: true, Projects: []string{"foo", "bar"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"bar-2.0.tar.gz", "foo-1.0.tar.gz"}, env.contentOf(t, res.VersionNumber))
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "foo")
}

func TestSync_FailedProjectKeepsSerial(t *testing.T) {
	env := setupTestService(t, models.PolicyOnDemand, models.FilterSpec{})
	env.index.publish("foo", "1.0", "foo-1.0.tar.gz")
	env.index.failing["foo"] = true

	res := env.sync(t, true)
	assert.Equal(t, int64(0), res.Serial)

	progress, err := env.store.GetSyncProgress(context.Background(), "main", "pypi", "https://pypi.example")
	require.NoError(t, err)
	assert.Equal(t, int64(0), progress.LastSerial)
}

func TestSync_SkippedFileKeepsSerial(t *testing.T) {
	env := setupTestService(t, models.PolicyImmediate, models.FilterSpec{})
	env.index.publish("foo", "1.0", "foo-1.0.tar.gz")
	env.index.publish("bar", "1.0", "bar-1.0.tar.gz")
	restore := env.index.withhold("foo-1.0.tar.gz")

	first := env.sync(t, true)
	assert.Equal(t, int64(0), first.Serial)
	require.Len(t, first.Warnings, 1)
	assert.Contains(t, first.Warnings[0], "foo-1.0.tar.gz")
	assert.Equal(t, []string{"bar-1.0.tar.gz"}, env.contentOf(t, first.VersionNumber))

	progress, err := env.store.GetSyncProgress(context.Background(), "main", "pypi", "https://pypi.example")
	require.NoError(t, err)
	assert.Equal(t, int64(0), progress.LastSerial)

	// файл снова доступен: следующий запуск его докачивает
	restore()
	second := env.sync(t, true)
	require.True(t, second.NewVersion)
	assert.Equal(t, int64(2), second.Serial)
	assert.Empty(t, second.Warnings)
	assert.Equal(t, []string{"bar-1.0.tar.gz", "foo-1.0.tar.gz"}, env.contentOf(t, second.VersionNumber))
}

func TestSync_Filters(t *testing.T) {
	env := setupTestService(t, models.PolicyOnDemand, models.FilterSpec{
		Includes: []models.ProjectSpecifier{{Name: "foo", Specifier: ">=1.0,<2.0"}},
	})
	env.index.publish("foo", "1.0", "foo-1.0.tar.gz")
	env.index.publish("foo", "1.5", "foo-1.5.tar.gz")
	env.index.publish("foo", "2.0b0", "foo-2.0b0.tar.gz")
	env.index.publish("foo", "2.0", "foo-2.0.tar.gz")
	env.index.publish("bar", "1.0", "bar-1.0.tar.gz")

	res := env.sync(t, true)
	assert.Equal(t, []string{"foo-1.0.tar.gz", "foo-1.5.tar.gz"}, env.contentOf(t, res.VersionNumber))
}

func TestSync_SerialResetOnURLChange(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t, models.PolicyOnDemand, models.FilterSpec{})
	env.index.publish("foo", "1.0", "foo-1.0.tar.gz")
	env.sync(t, true)

	// смена фильтров сохраняет serial
	_, err := env.store.UpsertRemote(ctx, &models.Remote{ID: "pypi", URL: "https://pypi.example", Policy: models.PolicyOnDemand, Filters: models.FilterSpec{Prereleases: true}})
	require.NoError(t, err)
	env.sync(t, true)

	_, err = env.store.UpsertRemote(ctx, &models.Remote{ID: "pypi", URL: "https://mirror.example", Policy: models.PolicyOnDemand})
	require.NoError(t, err)
	env.sync(t, true)

	calls := env.fetcher.FetchCalls()
	require.Len(t, calls, 3)
	assert.Equal(t, int64(1), calls[1].Req.Serial)
	assert.Equal(t, int64(0), calls[2].Req.Serial)
	assert.Equal(t, "https://mirror.example", calls[2].Req.URL)
}

// failingStore ломает создание content после первого успешного вызова
type failingStore struct {
	*sqlite.Storage
	calls atomic.Int32
}

func (s *failingStore) CreateContent(ctx context.Context, c *models.Content) (*models.Content, error) {
	if s.calls.Add(1) > 1 {
		return nil, fmt.Errorf("disk full")
	}
	return s.Storage.CreateContent(ctx, c)
}

func TestSync_AtomicOnStagingError(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t, models.PolicyOnDemand, models.FilterSpec{})
	env.index.publish("foo", "1.0", "foo-1.0.tar.gz")
	env.sync(t, true)

	env.index.publish("bar", "1.0", "bar-1.0.tar.gz")
	env.index.publish("baz", "1.0", "baz-1.0.tar.gz")
	env.index.unpublish("foo", "foo-1.0.tar.gz")

	broken := staging.New(&failingStore{Storage: env.store}, env.blobs, env.fetcher, testLogger(), 1)
	service := NewService(env.store, env.fetcher, broken, env.blobs, nil, testLogger(), Options{})

	_, err := service.Sync(ctx, SyncRequest{RepositoryID: "main", Mirror: true})
	require.Error(t, err)

	latest, err := env.store.LatestVersion(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Number)
	assert.Equal(t, []string{"foo-1.0.tar.gz"}, env.contentOf(t, 1))

	progress, err := env.store.GetSyncProgress(ctx, "main", "pypi", "https://pypi.example")
	require.NoError(t, err)
	assert.Equal(t, int64(1), progress.LastSerial)
}

func TestSync_CanceledBeforeCommit(t *testing.T) {
	env := setupTestService(t, models.PolicyOnDemand, models.FilterSpec{})
	env.index.publish("foo", "1.0", "foo-1.0.tar.gz")

	ctx, cancel := context.WithCancel(context.Background())
	inner := env.fetcher.FetchFunc
	env.fetcher.FetchFunc = func(c context.Context, req remote.FetchRequest) (*remote.FetchResult, error) {
		res, err := inner(c, req)
		cancel()
		return res, err
	}

	_, err := env.service.Sync(ctx, SyncRequest{RepositoryID: "main", Mirror: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	latest, err := env.store.LatestVersion(context.Background(), "main")
	require.NoError(t, err)
	assert.Equal(t, 0, latest.Number)
}

func TestSync_ConfigErrors(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t, models.PolicyOnDemand, models.FilterSpec{})

	_, err := env.store.UpsertRemote(ctx, &models.Remote{ID: "empty", Policy: models.PolicyOnDemand})
	require.NoError(t, err)

	_, err = env.service.Sync(ctx, SyncRequest{RemoteID: "empty", RepositoryID: "main"})
	assert.ErrorIs(t, err, ErrMissingURL)
	assert.Empty(t, env.fetcher.FetchCalls())

	require.NoError(t, env.store.CreateRepository(ctx, &models.Repository{ID: "orphan"}))
	_, err = env.service.Sync(ctx, SyncRequest{RepositoryID: "orphan"})
	assert.ErrorIs(t, err, ErrNoRemote)
}

func TestSync_ConcurrentRunsSerialized(t *testing.T) {
	env := setupTestService(t, models.PolicyOnDemand, models.FilterSpec{})
	env.index.publish("foo", "1.0", "foo-1.0.tar.gz")

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.service.Sync(context.Background(), SyncRequest{RepositoryID: "main", Mirror: true})
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}

	latest, err := env.store.LatestVersion(context.Background(), "main")
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Number)
}

func TestMaterialize(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t, models.PolicyOnDemand, models.FilterSpec{})
	env.index.publish("foo", "1.0", "foo-1.0.tar.gz")
	res := env.sync(t, true)
	assert.Empty(t, env.fetcher.DownloadCalls())

	contents, err := env.store.ListVersionContent(ctx, "main", res.VersionNumber)
	require.NoError(t, err)
	require.Len(t, contents, 1)

	for i := 0; i < 2; i++ {
		content, rc, err := env.service.Materialize(ctx, contents[0].ID)
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()

		assert.Equal(t, "foo-1.0.tar.gz", content.Filename)
		assert.Equal(t, "foo/foo-1.0.tar.gz", string(data))
	}

	// второй запрос отдается из хранилища
	assert.Len(t, env.fetcher.DownloadCalls(), 1)
}

func TestMaterialize_Streamed(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t, models.PolicyStreamed, models.FilterSpec{})
	env.index.publish("foo", "1.0", "foo-1.0.tar.gz")
	res := env.sync(t, true)
	assert.Empty(t, env.fetcher.DownloadCalls())

	contents, err := env.store.ListVersionContent(ctx, "main", res.VersionNumber)
	require.NoError(t, err)
	require.Len(t, contents, 1)

	for i := 0; i < 2; i++ {
		content, rc, err := env.service.Materialize(ctx, contents[0].ID)
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()

		assert.Equal(t, "foo-1.0.tar.gz", content.Filename)
		assert.Equal(t, "foo/foo-1.0.tar.gz", string(data))
	}

	// каждый запрос идет в источник, байты не сохраняются
	assert.Len(t, env.fetcher.DownloadCalls(), 2)

	artifact, err := env.store.GetArtifact(ctx, contents[0].ArtifactID)
	require.NoError(t, err)
	assert.True(t, artifact.Streamed)
	assert.False(t, artifact.Stored)
	assert.False(t, env.blobs.Exists(artifact.Sha256))
}

func TestMaterialize_StreamedChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t, models.PolicyStreamed, models.FilterSpec{})
	env.index.publish("foo", "1.0", "foo-1.0.tar.gz")
	res := env.sync(t, true)
	env.index.tamper("foo-1.0.tar.gz", "tampered bytes")

	contents, err := env.store.ListVersionContent(ctx, "main", res.VersionNumber)
	require.NoError(t, err)
	require.Len(t, contents, 1)

	_, rc, err := env.service.Materialize(ctx, contents[0].ID)
	require.NoError(t, err)
	defer func() {
		_ = rc.Close()
	}()

	_, err = io.ReadAll(rc)
	assert.ErrorIs(t, err, checksum.ErrMismatch)
}

func TestMaterialize_CanceledRequestDoesNotFailOthers(t *testing.T) {
	ctx := context.Background()
	env := setupTestService(t, models.PolicyOnDemand, models.FilterSpec{})
	env.index.publish("foo", "1.0", "foo-1.0.tar.gz")
	res := env.sync(t, true)

	contents, err := env.store.ListVersionContent(ctx, "main", res.VersionNumber)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	id := contents[0].ID

	download := env.fetcher.DownloadFunc
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	env.fetcher.DownloadFunc = func(ctx context.Context, url string) (io.ReadCloser, error) {
		once.Do(func() { close(started) })
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-release:
		}
		return download(ctx, url)
	}

	firstCtx, cancelFirst := context.WithCancel(ctx)
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := env.service.Materialize(firstCtx, id)
		firstErr <- err
	}()
	<-started

	type materialized struct {
		err  error
		data string
	}
	second := make(chan materialized, 1)
	go func() {
		_, rc, err := env.service.Materialize(ctx, id)
		if err != nil {
			second <- materialized{err: err}
			return
		}
		defer func() {
			_ = rc.Close()
		}()
		data, err := io.ReadAll(rc)
		second <- materialized{err: err, data: string(data)}
	}()
	// второй запрос ждет уже идущее скачивание
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, "foo/foo-1.0.tar.gz", got.data)
	assert.Len(t, env.fetcher.DownloadCalls(), 1)

	artifact, err := env.store.GetArtifact(ctx, contents[0].ArtifactID)
	require.NoError(t, err)
	assert.True(t, artifact.Stored)
}
