package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/iudanet/pymirror/internal/models"
)

// Fetch modes.
const (
	ModeExplicit    = "explicit"
	ModeFull        = "full"
	ModeIncremental = "incremental"
	ModeFallback    = "fallback"
)

// FetchRequest - параметры получения каталога
type FetchRequest struct {
	URL           string
	Projects      []string // явный список проектов, минуя discovery
	Serial        int64    // 0 - полная синхронизация
	IncludeYanked bool
}

// FetchResult - каталог remote для одного sync
type FetchResult struct {
	Mode     string
	Entries  []models.CatalogEntry
	Projects []string          // проекты, manifest которых получен
	Failed   map[string]string // проект -> ошибка
	Serial   int64
}

// Fetch получает записи каталога.
// Ошибки отдельных manifest не прерывают выполнение, проект попадает в Failed.
func (c *Client) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("remote url is required")
	}

	result := &FetchResult{Serial: req.Serial}
	var names []string

	switch {
	case len(req.Projects) > 0:
		result.Mode = ModeExplicit
		names = req.Projects
	default:
		discovered, serial, err := c.discover(ctx, req.URL, req.Serial)
		switch {
		case err == nil:
			names = discovered
			result.Serial = serial
			result.Mode = ModeFull
			if req.Serial > 0 {
				result.Mode = ModeIncremental
			}
		case errors.Is(err, ErrProtocolUnsupported):
			c.logger.Warn("catalog protocol unavailable, falling back to simple index",
				"url", req.URL, "error", err)
			names, err = c.listSimple(ctx, req.URL)
			if err != nil {
				return nil, err
			}
			result.Mode = ModeFallback
			result.Serial = 0
		default:
			return nil, err
		}
	}

	entries, fetched, failed, err := c.fetchManifests(ctx, req.URL, names, req.IncludeYanked)
	if err != nil {
		return nil, err
	}

	result.Entries = entries
	result.Projects = fetched
	result.Failed = failed

	c.logger.Info("remote catalog fetched",
		"url", req.URL,
		"mode", result.Mode,
		"projects", len(fetched),
		"failed", len(failed),
		"entries", len(entries),
		"serial", result.Serial)

	return result, nil
}

// fetchManifests получает manifest проектов через ограниченный пул.
// Перед каждым новым запросом проверяется отмена; при отмене результаты отбрасываются.
func (c *Client) fetchManifests(ctx context.Context, base string, names []string, includeYanked bool) (
	[]models.CatalogEntry, []string, map[string]string, error,
) {
	var (
		mu     sync.Mutex
		byName = make(map[string][]models.CatalogEntry, len(names))
		failed = make(map[string]string)
		g      errgroup.Group
	)
	g.SetLimit(c.concurrency)

	for _, name := range names {
		if ctx.Err() != nil {
			break
		}

		g.Go(func() error {
			m, err := c.fetchManifest(ctx, base, name)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case errors.Is(err, ErrNotFound):
				// проект удален на remote: пустой набор файлов
				byName[name] = nil
			case err != nil:
				c.logger.Warn("failed to fetch project manifest", "project", name, "error", err)
				failed[name] = err.Error()
			default:
				byName[name] = m.entries(name, includeYanked)
			}
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return nil, nil, nil, fmt.Errorf("catalog fetch canceled: %w", ctx.Err())
	}

	fetched := make([]string, 0, len(byName))
	for name := range byName {
		fetched = append(fetched, name)
	}
	sort.Strings(fetched)

	var entries []models.CatalogEntry
	for _, name := range fetched {
		entries = append(entries, byName[name]...)
	}

	return entries, fetched, failed, nil
}
