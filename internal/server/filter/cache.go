package filter

import (
	"sync"
	"time"

	"github.com/iudanet/pymirror/internal/models"
)

type cacheEntry struct {
	updatedAt time.Time
	pipeline  *Pipeline
}

// Cache хранит скомпилированные конвейеры по ID remote.
// Запись считается устаревшей, если UpdatedAt у remote изменился.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCache создает пустой кеш
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// Get возвращает конвейер для remote, компилируя его заново при смене UpdatedAt
func (c *Cache) Get(remote *models.Remote) (*Pipeline, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[remote.ID]; ok && e.updatedAt.Equal(remote.UpdatedAt) {
		return e.pipeline, nil
	}

	p, err := New(remote.Filters)
	if err != nil {
		return nil, err
	}

	c.entries[remote.ID] = cacheEntry{updatedAt: remote.UpdatedAt, pipeline: p}
	return p, nil
}

// Invalidate удаляет запись remote из кеша
func (c *Cache) Invalidate(remoteID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, remoteID)
}
