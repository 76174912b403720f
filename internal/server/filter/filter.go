// Package filter реализует конвейер фильтров каталога remote.
//
// Конвейер собирается один раз на sync из FilterSpec и состоит из
// упорядоченного списка стадий: project, release, file, keep-latest.
// Каждая стадия только удаляет записи и сохраняет порядок оставшихся.
package filter

import (
	"fmt"

	"github.com/iudanet/pymirror/internal/models"
	"github.com/iudanet/pymirror/internal/pyversion"
)

// Stage - одна стадия фильтрации.
type Stage func(entries []models.CatalogEntry) []models.CatalogEntry

// Pipeline - скомпилированный FilterSpec.
type Pipeline struct {
	stages []Stage
}

// New компилирует FilterSpec в конвейер.
// Ошибка возвращается при невалидном имени проекта или диапазоне версий.
func New(spec models.FilterSpec) (*Pipeline, error) {
	includes, err := compileSpecifiers(spec.Includes)
	if err != nil {
		return nil, fmt.Errorf("invalid includes: %w", err)
	}
	excludes, err := compileSpecifiers(spec.Excludes)
	if err != nil {
		return nil, fmt.Errorf("invalid excludes: %w", err)
	}

	if spec.KeepLatest < 0 {
		return nil, fmt.Errorf("keep_latest must not be negative")
	}

	stages := []Stage{
		projectStage(includes, excludes),
		releaseStage(includes, excludes, spec.Prereleases),
		fileStage(spec.PackageTypes, spec.ExcludePlatforms),
	}
	if spec.KeepLatest > 0 {
		stages = append(stages, keepLatestStage(spec.KeepLatest))
	}

	return &Pipeline{stages: stages}, nil
}

// Apply прогоняет записи через все стадии по порядку.
func (p *Pipeline) Apply(entries []models.CatalogEntry) []models.CatalogEntry {
	for _, stage := range p.stages {
		entries = stage(entries)
	}
	return entries
}

// Stages возвращает стадии конвейера.
func (p *Pipeline) Stages() []Stage {
	return p.stages
}

// specifiers хранит диапазоны по нормализованному имени.
// nil в списке означает "без диапазона" - весь проект.
type specifiers map[string][]*pyversion.Specifier

func compileSpecifiers(list []models.ProjectSpecifier) (specifiers, error) {
	out := make(specifiers, len(list))
	for _, ps := range list {
		name := pyversion.NormalizeName(ps.Name)
		if name == "" {
			return nil, fmt.Errorf("empty project name")
		}

		if ps.Specifier == "" {
			out[name] = append(out[name], nil)
			continue
		}

		spec, err := pyversion.ParseSpecifier(ps.Specifier)
		if err != nil {
			return nil, fmt.Errorf("project %s: %w", ps.Name, err)
		}
		out[name] = append(out[name], spec)
	}
	return out, nil
}

// wholeProject - есть ли среди диапазонов запись без диапазона
func (s specifiers) wholeProject(name string) bool {
	for _, spec := range s[name] {
		if spec == nil || spec.IsEmpty() {
			return true
		}
	}
	return false
}

func keep(entries []models.CatalogEntry, pred func(models.CatalogEntry) bool) []models.CatalogEntry {
	out := make([]models.CatalogEntry, 0, len(entries))
	for _, e := range entries {
		if pred(e) {
			out = append(out, e)
		}
	}
	return out
}

func projectStage(includes, excludes specifiers) Stage {
	return func(entries []models.CatalogEntry) []models.CatalogEntry {
		return keep(entries, func(e models.CatalogEntry) bool {
			name := pyversion.NormalizeName(e.Project)
			if len(includes) > 0 {
				if _, ok := includes[name]; !ok {
					return false
				}
			}
			// exclude с диапазоном обрабатывается на стадии release
			return !excludes.wholeProject(name)
		})
	}
}

func releaseStage(includes, excludes specifiers, prereleases bool) Stage {
	return func(entries []models.CatalogEntry) []models.CatalogEntry {
		return keep(entries, func(e models.CatalogEntry) bool {
			v, err := pyversion.Parse(e.Version)
			if err != nil {
				// неразбираемые версии отсекает только keep-latest
				return true
			}

			if v.IsPrerelease() && !prereleases {
				return false
			}

			name := pyversion.NormalizeName(e.Project)

			if ranges := includes[name]; len(ranges) > 0 && !includes.wholeProject(name) {
				matched := false
				for _, spec := range ranges {
					if spec.Contains(v) {
						matched = true
						break
					}
				}
				if !matched {
					return false
				}
			}

			for _, spec := range excludes[name] {
				if spec != nil && !spec.IsEmpty() && spec.Contains(v) {
					return false
				}
			}
			return true
		})
	}
}

func fileStage(packageTypes, excludePlatforms []string) Stage {
	allowed := toSet(packageTypes)
	excluded := toSet(excludePlatforms)

	return func(entries []models.CatalogEntry) []models.CatalogEntry {
		return keep(entries, func(e models.CatalogEntry) bool {
			if len(allowed) > 0 {
				if _, ok := allowed[e.PackageType]; !ok {
					return false
				}
			}
			if e.Platform != "" {
				if _, ok := excluded[e.Platform]; ok {
					return false
				}
			}
			return true
		})
	}
}

func keepLatestStage(n int) Stage {
	return func(entries []models.CatalogEntry) []models.CatalogEntry {
		// Сначала собираем версии по проекту, потом отбираем верхние n
		byProject := make(map[string][]*pyversion.Version)
		seen := make(map[string]map[string]struct{})
		for _, e := range entries {
			v, err := pyversion.Parse(e.Version)
			if err != nil {
				continue
			}
			name := pyversion.NormalizeName(e.Project)
			if seen[name] == nil {
				seen[name] = make(map[string]struct{})
			}
			if _, ok := seen[name][v.String()]; ok {
				continue
			}
			seen[name][v.String()] = struct{}{}
			byProject[name] = append(byProject[name], v)
		}

		latest := make(map[string]map[string]struct{}, len(byProject))
		for name, versions := range byProject {
			pyversion.SortDescending(versions)
			if len(versions) > n {
				versions = versions[:n]
			}
			set := make(map[string]struct{}, len(versions))
			for _, v := range versions {
				set[v.String()] = struct{}{}
			}
			latest[name] = set
		}

		return keep(entries, func(e models.CatalogEntry) bool {
			v, err := pyversion.Parse(e.Version)
			if err != nil {
				return false
			}
			_, ok := latest[pyversion.NormalizeName(e.Project)][v.String()]
			return ok
		})
	}
}

func toSet(list []string) map[string]struct{} {
	set := make(map[string]struct{}, len(list))
	for _, s := range list {
		set[s] = struct{}{}
	}
	return set
}
