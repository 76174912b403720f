// Package checksum считает и сверяет дайджесты файлов дистрибутивов.
package checksum

import (
	"crypto/md5" //nolint:gosec // md5 публикуется индексом, используется только для сверки
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/iudanet/pymirror/internal/models"
)

// ErrMismatch возвращается, когда вычисленный дайджест не совпал с ожидаемым
var ErrMismatch = errors.New("checksum mismatch")

// Hasher считает все поддерживаемые дайджесты за один проход
type Hasher struct {
	sha    hash.Hash
	md5    hash.Hash
	blake  hash.Hash
	writer io.Writer
	size   int64
}

// NewHasher создает Hasher
func NewHasher() *Hasher {
	// blake2b.New256 возвращает ошибку только при ключе длиннее 64 байт
	blake, _ := blake2b.New256(nil)

	h := &Hasher{
		sha:   sha256.New(),
		md5:   md5.New(), //nolint:gosec
		blake: blake,
	}
	h.writer = io.MultiWriter(h.sha, h.md5, h.blake)
	return h
}

// Write реализует io.Writer
func (h *Hasher) Write(p []byte) (int, error) {
	n, err := h.writer.Write(p)
	h.size += int64(n)
	return n, err
}

// Size возвращает количество записанных байт
func (h *Hasher) Size() int64 {
	return h.size
}

// Sums возвращает hex-дайджесты по именам алгоритмов
func (h *Hasher) Sums() map[string]string {
	return map[string]string{
		models.DigestSHA256:     hex.EncodeToString(h.sha.Sum(nil)),
		models.DigestMD5:        hex.EncodeToString(h.md5.Sum(nil)),
		models.DigestBlake2b256: hex.EncodeToString(h.blake.Sum(nil)),
	}
}

// Sum считает дайджесты содержимого reader
func Sum(r io.Reader) (map[string]string, int64, error) {
	h := NewHasher()
	if _, err := io.Copy(h, r); err != nil {
		return nil, 0, fmt.Errorf("failed to hash content: %w", err)
	}
	return h.Sums(), h.Size(), nil
}

// Verify сверяет ожидаемые дайджесты с вычисленными
// Неизвестные алгоритмы пропускаются, пустые значения тоже
func Verify(expected, actual map[string]string) error {
	for algo, want := range expected {
		if want == "" {
			continue
		}
		got, ok := actual[algo]
		if !ok {
			continue
		}
		if !strings.EqualFold(want, got) {
			return fmt.Errorf("%w: %s expected %s, got %s", ErrMismatch, algo, want, got)
		}
	}
	return nil
}
