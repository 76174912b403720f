package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"

	"github.com/iudanet/pymirror/internal/models"
	"github.com/iudanet/pymirror/internal/validation"
)

// manifestFile - описание файла в manifest проекта
type manifestFile struct {
	Digests        map[string]string `json:"digests"`
	Filename       string            `json:"filename"`
	URL            string            `json:"url"`
	PackageType    string            `json:"packagetype"`
	RequiresPython *string           `json:"requires_python"`
	Yanked         bool              `json:"yanked"`
}

type manifestInfo struct {
	Name string `json:"name"`
}

// manifest - JSON manifest проекта, releases по строке версии
type manifest struct {
	Releases map[string][]manifestFile `json:"releases"`
	Info     manifestInfo              `json:"info"`
}

func (c *Client) fetchManifest(ctx context.Context, base, project string) (*manifest, error) {
	body, err := c.get(ctx, joinURL(base, "project", url.PathEscape(project), "manifest"), "application/json")
	if err != nil {
		return nil, err
	}

	var m manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest of %s: %w", project, err)
	}
	return &m, nil
}

// entries разворачивает manifest в записи каталога в детерминированном порядке
func (m *manifest) entries(project string, includeYanked bool) []models.CatalogEntry {
	name := m.Info.Name
	if name == "" {
		name = project
	}

	releases := make([]string, 0, len(m.Releases))
	for v := range m.Releases {
		releases = append(releases, v)
	}
	sort.Strings(releases)

	var out []models.CatalogEntry
	for _, v := range releases {
		for _, f := range m.Releases[v] {
			if f.Filename == "" || f.URL == "" {
				continue
			}
			if f.Yanked && !includeYanked {
				continue
			}

			e := models.CatalogEntry{
				Digests:     f.Digests,
				Project:     name,
				Version:     v,
				Filename:    f.Filename,
				URL:         f.URL,
				PackageType: f.PackageType,
				Platform:    validation.PlatformOf(f.Filename, f.PackageType),
				Yanked:      f.Yanked,
			}
			if f.RequiresPython != nil {
				e.RequiresPython = *f.RequiresPython
			}
			out = append(out, e)
		}
	}
	return out
}
