// Package blobstore хранит байты артефактов, адресуя их по sha256.
//
// Архивы (wheel, tar.gz, zip, ...) хранятся как есть, остальные файлы
// сжимаются zstd. Open прозрачно распаковывает.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/iudanet/pymirror/internal/checksum"
	"github.com/iudanet/pymirror/internal/models"
)

// ErrBlobNotFound - блоба с таким sha256 нет в хранилище
var ErrBlobNotFound = errors.New("blob not found")

const zstdSuffix = ".zst"

// уже сжатые форматы, повторное сжатие бессмысленно
var archiveExtensions = []string{".whl", ".zip", ".gz", ".tgz", ".bz2", ".xz", ".egg", ".zst"}

// Blob - результат записи в хранилище
type Blob struct {
	Digests    map[string]string
	Sha256     string
	Size       int64
	Compressed bool
}

// Store - файловое content-addressable хранилище
type Store struct {
	logger *slog.Logger
	root   string
}

// New создает хранилище в каталоге root
func New(logger *slog.Logger, root string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, "tmp"), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &Store{logger: logger, root: root}, nil
}

// Put записывает поток, считая дайджесты, и сверяет их с expected.
// При несовпадении блоб не сохраняется и возвращается checksum.ErrMismatch.
func (s *Store) Put(ctx context.Context, filename string, r io.Reader, expected map[string]string) (*Blob, error) {
	tmp, err := os.CreateTemp(filepath.Join(s.root, "tmp"), "upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	compress := !isArchive(filename)
	hasher := checksum.NewHasher()

	var dst io.Writer = tmp
	var enc *zstd.Encoder
	if compress {
		enc, err = zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			_ = tmp.Close()
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		dst = enc
	}

	_, copyErr := io.Copy(io.MultiWriter(hasher, dst), &ctxReader{ctx: ctx, r: r})
	if enc != nil {
		if err := enc.Close(); err != nil && copyErr == nil {
			copyErr = fmt.Errorf("failed to finish zstd stream: %w", err)
		}
	}
	if err := tmp.Close(); err != nil && copyErr == nil {
		copyErr = fmt.Errorf("failed to close temp file: %w", err)
	}
	if copyErr != nil {
		return nil, fmt.Errorf("failed to write blob: %w", copyErr)
	}

	sums := hasher.Sums()
	if err := checksum.Verify(expected, sums); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	blob := &Blob{
		Digests:    sums,
		Sha256:     sums[models.DigestSHA256],
		Size:       hasher.Size(),
		Compressed: compress,
	}

	if s.Exists(blob.Sha256) {
		return blob, nil
	}

	final := s.path(blob.Sha256, compress)
	if err := os.MkdirAll(filepath.Dir(final), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		return nil, fmt.Errorf("failed to move blob into place: %w", err)
	}
	committed = true

	s.logger.Debug("blob stored", "sha256", blob.Sha256, "size", blob.Size, "compressed", compress)
	return blob, nil
}

// Open открывает блоб на чтение
func (s *Store) Open(sha256 string) (io.ReadCloser, error) {
	if !validSha(sha256) {
		return nil, fmt.Errorf("invalid sha256 %q", sha256)
	}

	f, err := os.Open(s.path(sha256, false))
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}

	f, err = os.Open(s.path(sha256, true))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &decoderReadCloser{dec: dec, f: f}, nil
}

// Exists проверяет, есть ли блоб в хранилище
func (s *Store) Exists(sha256 string) bool {
	if !validSha(sha256) {
		return false
	}
	for _, compressed := range []bool{false, true} {
		if _, err := os.Stat(s.path(sha256, compressed)); err == nil {
			return true
		}
	}
	return false
}

func (s *Store) path(sha256 string, compressed bool) string {
	name := sha256
	if compressed {
		name += zstdSuffix
	}
	return filepath.Join(s.root, sha256[:2], name)
}

func isArchive(filename string) bool {
	lower := strings.ToLower(filename)
	for _, ext := range archiveExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func validSha(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

type decoderReadCloser struct {
	dec *zstd.Decoder
	f   *os.File
}

func (d *decoderReadCloser) Read(p []byte) (int, error) {
	return d.dec.Read(p)
}

func (d *decoderReadCloser) Close() error {
	d.dec.Close()
	return d.f.Close()
}
