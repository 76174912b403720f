package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/iudanet/pymirror/internal/checksum"
	"github.com/iudanet/pymirror/internal/models"
)

// Materialize возвращает байты content.
// Отложенный артефакт скачивается при первом запросе, проверяется и сохраняется.
// Streamed артефакт отдается из источника без сохранения, checksum
// проверяется по концу потока.
func (s *Service) Materialize(ctx context.Context, contentID string) (*models.Content, io.ReadCloser, error) {
	content, err := s.store.GetContent(ctx, contentID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get content: %w", err)
	}

	artifact, err := s.store.GetArtifact(ctx, content.ArtifactID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get artifact: %w", err)
	}

	if !artifact.Stored && artifact.Streamed {
		rc, err := s.streamArtifact(ctx, artifact)
		if err != nil {
			return nil, nil, err
		}
		return content, rc, nil
	}

	if !artifact.Stored {
		// скачивание общее для всех запросов: отмена одного клиента его не прерывает
		ch := s.downloads.DoChan(artifact.ID, func() (any, error) {
			return nil, s.fetchArtifact(context.WithoutCancel(ctx), content, artifact)
		})
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				return nil, nil, res.Err
			}
		}
	}

	rc, err := s.blobs.Open(artifact.Sha256)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return content, rc, nil
}

func (s *Service) fetchArtifact(ctx context.Context, content *models.Content, artifact *models.Artifact) error {
	if artifact.URL == "" {
		return fmt.Errorf("artifact %s has no source url", artifact.ID)
	}

	rc, err := s.fetcher.Download(ctx, artifact.URL)
	if err != nil {
		return fmt.Errorf("failed to download artifact: %w", err)
	}
	defer func() {
		_ = rc.Close()
	}()

	blob, err := s.blobs.Put(ctx, content.Filename, rc, artifact.Digests)
	if err != nil {
		return fmt.Errorf("failed to store artifact: %w", err)
	}

	if err := s.store.MarkArtifactStored(ctx, artifact.ID, blob.Size); err != nil {
		return fmt.Errorf("failed to mark artifact stored: %w", err)
	}

	s.logger.Info("deferred artifact materialized", "filename", content.Filename, "sha256", blob.Sha256, "size", blob.Size)
	return nil
}

func (s *Service) streamArtifact(ctx context.Context, artifact *models.Artifact) (io.ReadCloser, error) {
	if artifact.URL == "" {
		return nil, fmt.Errorf("artifact %s has no source url", artifact.ID)
	}

	rc, err := s.fetcher.Download(ctx, artifact.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to download artifact: %w", err)
	}

	s.logger.Debug("streaming artifact", "sha256", artifact.Sha256, "url", artifact.URL)
	return &verifyingReader{rc: rc, hasher: checksum.NewHasher(), expected: artifact.Digests}, nil
}

// verifyingReader считает дайджесты по мере чтения.
// Вместо io.EOF возвращает checksum.ErrMismatch, если байты не совпали.
type verifyingReader struct {
	rc       io.ReadCloser
	hasher   *checksum.Hasher
	expected map[string]string
}

func (r *verifyingReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	_, _ = r.hasher.Write(p[:n])
	if errors.Is(err, io.EOF) {
		if verr := checksum.Verify(r.expected, r.hasher.Sums()); verr != nil {
			return n, verr
		}
	}
	return n, err
}

func (r *verifyingReader) Close() error {
	return r.rc.Close()
}
