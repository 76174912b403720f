package sqlite

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/pymirror/internal/models"
	"github.com/iudanet/pymirror/internal/server/storage"
)

func TestContentStorage_CreateContentIdempotent(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	first := createTestContent(t, ctx, s, "foo-1.0.tar.gz", "sha-foo")

	again, err := s.CreateContent(ctx, &models.Content{
		Sha256:      "sha-foo",
		Filename:    "foo-1.0.tar.gz",
		Name:        "foo",
		Version:     "1.0",
		PackageType: models.PackageTypeSdist,
		ArtifactID:  first.ArtifactID,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	var count int
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM content`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestContentStorage_ConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	artifact, err := s.CreateArtifact(ctx, &models.Artifact{Sha256: "sha-x", Digests: map[string]string{}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	ids := make([]string, 10)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := s.CreateContent(ctx, &models.Content{
				Sha256:     "sha-x",
				Filename:   "x-1.0.tar.gz",
				Name:       "x",
				Version:    "1.0",
				ArtifactID: artifact.ID,
			})
			if assert.NoError(t, err) {
				ids[i] = c.ID
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestContentStorage_Get(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	c := createTestContent(t, ctx, s, "foo-1.0.tar.gz", "sha-foo")

	byID, err := s.GetContent(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "foo-1.0.tar.gz", byID.Filename)

	bySha, err := s.GetContentBySha256(ctx, "sha-foo")
	require.NoError(t, err)
	assert.Equal(t, c.ID, bySha.ID)

	_, err = s.GetContent(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrContentNotFound)
	_, err = s.GetContentBySha256(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrContentNotFound)
}

func TestArtifactStorage(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	deferred, err := s.CreateArtifact(ctx, &models.Artifact{
		Sha256:  "sha-a",
		Digests: map[string]string{models.DigestSHA256: "sha-a", models.DigestMD5: "m"},
		URL:     "https://files/a.whl",
	})
	require.NoError(t, err)
	assert.False(t, deferred.Stored)

	got, err := s.GetArtifact(ctx, deferred.ID)
	require.NoError(t, err)
	assert.Equal(t, "m", got.Digests[models.DigestMD5])
	assert.Equal(t, "https://files/a.whl", got.URL)

	// вставка того же sha256 с байтами помечает существующий артефакт
	stored, err := s.CreateArtifact(ctx, &models.Artifact{Sha256: "sha-a", Size: 42, Stored: true})
	require.NoError(t, err)
	assert.Equal(t, deferred.ID, stored.ID)
	assert.True(t, stored.Stored)

	got, err = s.GetArtifactBySha256(ctx, "sha-a")
	require.NoError(t, err)
	assert.True(t, got.Stored)
	assert.Equal(t, int64(42), got.Size)

	_, err = s.GetArtifact(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrArtifactNotFound)
	assert.ErrorIs(t, s.MarkArtifactStored(ctx, "missing", 1), storage.ErrArtifactNotFound)
}

func TestArtifactStorage_Streamed(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	streamed, err := s.CreateArtifact(ctx, &models.Artifact{Sha256: "sha-s", URL: "https://files/s.whl", Streamed: true})
	require.NoError(t, err)

	got, err := s.GetArtifact(ctx, streamed.ID)
	require.NoError(t, err)
	assert.True(t, got.Streamed)

	// повторная streamed ссылка режим не меняет
	again, err := s.CreateArtifact(ctx, &models.Artifact{Sha256: "sha-s", Streamed: true})
	require.NoError(t, err)
	assert.True(t, again.Streamed)

	// on_demand ссылка на те же байты включает кеширование
	cached, err := s.CreateArtifact(ctx, &models.Artifact{Sha256: "sha-s"})
	require.NoError(t, err)
	assert.Equal(t, streamed.ID, cached.ID)
	assert.False(t, cached.Streamed)

	got, err = s.GetArtifactBySha256(ctx, "sha-s")
	require.NoError(t, err)
	assert.False(t, got.Streamed)
}
