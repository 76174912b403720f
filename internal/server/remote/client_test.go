package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/pymirror/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testClient() *Client {
	return NewClient(testLogger(), Options{
		Concurrency:  2,
		Attempts:     3,
		FetchTimeout: 5 * time.Second,
		Backoff:      time.Millisecond,
	})
}

type fakeIndex struct {
	manifests       map[string]string
	catalogHits     atomic.Int32
	changedSince    atomic.Int64
	catalogDisabled bool
	simpleBody      string
}

func (f *fakeIndex) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/all-packages", func(w http.ResponseWriter, r *http.Request) {
		f.catalogHits.Add(1)
		if f.catalogDisabled {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"projects": map[string]int64{"foo": 10, "bar": 42}})
	})
	mux.HandleFunc("/changed-packages", func(w http.ResponseWriter, r *http.Request) {
		f.catalogHits.Add(1)
		var since int64
		_, _ = fmt.Sscan(r.URL.Query().Get("since"), &since)
		f.changedSince.Store(since)
		_ = json.NewEncoder(w).Encode(map[string]any{"projects": map[string]int64{"foo": 50}})
	})
	mux.HandleFunc("/simple/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, f.simpleBody)
	})
	mux.HandleFunc("/project/{name}/manifest", func(w http.ResponseWriter, r *http.Request) {
		body, ok := f.manifests[r.PathValue("name")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if body == "error" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, body)
	})
	return mux
}

const fooManifest = `{
  "info": {"name": "Foo"},
  "releases": {
    "1.0": [
      {"filename": "foo-1.0.tar.gz", "url": "https://files/foo-1.0.tar.gz", "packagetype": "sdist",
       "digests": {"sha256": "aaa"}, "requires_python": ">=3.8", "yanked": false},
      {"filename": "foo-1.0-cp312-cp312-win_amd64.whl", "url": "https://files/foo-1.0-win.whl",
       "packagetype": "bdist_wheel", "digests": {"sha256": "bbb"}, "requires_python": null}
    ],
    "0.9": [
      {"filename": "foo-0.9.tar.gz", "url": "https://files/foo-0.9.tar.gz", "packagetype": "sdist",
       "digests": {"sha256": "ccc"}, "yanked": true}
    ]
  }
}`

const barManifest = `{"info": {"name": "bar"}, "releases": {"2.0": [
  {"filename": "bar-2.0.tar.gz", "url": "https://files/bar-2.0.tar.gz", "packagetype": "sdist",
   "digests": {"sha256": "ddd"}}
]}}`

func filenames(entries []models.CatalogEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Filename)
	}
	return out
}

func TestFetch_Full(t *testing.T) {
	idx := &fakeIndex{manifests: map[string]string{"foo": fooManifest, "bar": barManifest}}
	srv := httptest.NewServer(idx.handler())
	defer srv.Close()

	res, err := testClient().Fetch(context.Background(), FetchRequest{URL: srv.URL})
	require.NoError(t, err)

	assert.Equal(t, ModeFull, res.Mode)
	assert.Equal(t, int64(42), res.Serial)
	assert.Equal(t, []string{"bar", "foo"}, res.Projects)
	assert.Empty(t, res.Failed)
	assert.Equal(t, []string{"bar-2.0.tar.gz", "foo-1.0.tar.gz", "foo-1.0-cp312-cp312-win_amd64.whl"}, filenames(res.Entries))

	win := res.Entries[2]
	assert.Equal(t, "Foo", win.Project)
	assert.Equal(t, "1.0", win.Version)
	assert.Equal(t, models.PlatformWindows, win.Platform)
	assert.Equal(t, "bbb", win.Sha256())
	assert.Equal(t, ">=3.8", res.Entries[1].RequiresPython)
}

func TestFetch_IncludeYanked(t *testing.T) {
	idx := &fakeIndex{manifests: map[string]string{"foo": fooManifest}}
	srv := httptest.NewServer(idx.handler())
	defer srv.Close()

	res, err := testClient().Fetch(context.Background(), FetchRequest{
		URL:           srv.URL,
		Projects:      []string{"foo"},
		IncludeYanked: true,
	})
	require.NoError(t, err)

	assert.Contains(t, filenames(res.Entries), "foo-0.9.tar.gz")
}

func TestFetch_Incremental(t *testing.T) {
	idx := &fakeIndex{manifests: map[string]string{"foo": fooManifest, "bar": barManifest}}
	srv := httptest.NewServer(idx.handler())
	defer srv.Close()

	res, err := testClient().Fetch(context.Background(), FetchRequest{URL: srv.URL, Serial: 42})
	require.NoError(t, err)

	assert.Equal(t, ModeIncremental, res.Mode)
	assert.Equal(t, int64(42), idx.changedSince.Load())
	assert.Equal(t, int64(50), res.Serial)
	assert.Equal(t, []string{"foo"}, res.Projects)
}

func TestFetch_Explicit(t *testing.T) {
	idx := &fakeIndex{manifests: map[string]string{"bar": barManifest}}
	srv := httptest.NewServer(idx.handler())
	defer srv.Close()

	res, err := testClient().Fetch(context.Background(), FetchRequest{URL: srv.URL, Projects: []string{"bar"}, Serial: 7})
	require.NoError(t, err)

	assert.Equal(t, ModeExplicit, res.Mode)
	assert.Equal(t, int64(7), res.Serial)
	assert.Equal(t, int32(0), idx.catalogHits.Load())
	assert.Equal(t, []string{"bar-2.0.tar.gz"}, filenames(res.Entries))
}

func TestFetch_FallbackAfterRetries(t *testing.T) {
	idx := &fakeIndex{
		manifests:       map[string]string{"foo": fooManifest, "bar": barManifest},
		catalogDisabled: true,
		simpleBody: `<!DOCTYPE html><html><body>
<a href="/simple/foo/">foo</a>
<a href="/simple/bar/"> bar </a>
<a href="/simple/foo/">foo</a>
</body></html>`,
	}
	srv := httptest.NewServer(idx.handler())
	defer srv.Close()

	res, err := testClient().Fetch(context.Background(), FetchRequest{URL: srv.URL})
	require.NoError(t, err)

	assert.Equal(t, int32(3), idx.catalogHits.Load())
	assert.Equal(t, ModeFallback, res.Mode)
	assert.Equal(t, int64(0), res.Serial)
	assert.Equal(t, []string{"bar", "foo"}, res.Projects)
}

func TestFetch_ProjectFailureIsSkipped(t *testing.T) {
	idx := &fakeIndex{manifests: map[string]string{"foo": "error", "bar": barManifest}}
	srv := httptest.NewServer(idx.handler())
	defer srv.Close()

	res, err := testClient().Fetch(context.Background(), FetchRequest{URL: srv.URL})
	require.NoError(t, err)

	assert.Equal(t, []string{"bar"}, res.Projects)
	require.Contains(t, res.Failed, "foo")
	assert.Equal(t, []string{"bar-2.0.tar.gz"}, filenames(res.Entries))
}

func TestFetch_DeletedProject(t *testing.T) {
	idx := &fakeIndex{manifests: map[string]string{"bar": barManifest}}
	srv := httptest.NewServer(idx.handler())
	defer srv.Close()

	res, err := testClient().Fetch(context.Background(), FetchRequest{URL: srv.URL, Projects: []string{"gone", "bar"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"bar", "gone"}, res.Projects)
	assert.Empty(t, res.Failed)
	assert.Len(t, res.Entries, 1)
}

func TestFetch_Canceled(t *testing.T) {
	idx := &fakeIndex{manifests: map[string]string{"foo": fooManifest, "bar": barManifest}}
	srv := httptest.NewServer(idx.handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testClient().Fetch(ctx, FetchRequest{URL: srv.URL, Projects: []string{"foo", "bar"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetch_MissingURL(t *testing.T) {
	_, err := testClient().Fetch(context.Background(), FetchRequest{})
	assert.Error(t, err)
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, "payload")
	}))
	defer srv.Close()

	c := testClient()

	rc, err := c.Download(context.Background(), srv.URL+"/file")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "payload", string(data))

	_, err = c.Download(context.Background(), srv.URL+"/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParseSimpleIndex(t *testing.T) {
	names, err := parseSimpleIndex([]byte(`<html><body><a href="x">Zeta</a><a href="y">alpha</a><a></a></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, []string{"Zeta", "alpha"}, names)
}
