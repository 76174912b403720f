// Package delta вычисляет разницу между локальным инвентарем и каталогом remote.
package delta

import (
	"github.com/iudanet/pymirror/internal/models"
	"github.com/iudanet/pymirror/internal/pyversion"
)

// Reconcile возвращает additions = remote - local и, в режиме mirror,
// removals = local - remote. В аддитивном режиме removals всегда пуст.
func Reconcile(local, remote map[string]struct{}, mirror bool) models.Delta {
	d := models.Delta{
		Additions: make(map[string]struct{}),
		Removals:  make(map[string]struct{}),
	}

	for name := range remote {
		if _, ok := local[name]; !ok {
			d.Additions[name] = struct{}{}
		}
	}

	if !mirror {
		return d
	}

	for name := range local {
		if _, ok := remote[name]; !ok {
			d.Removals[name] = struct{}{}
		}
	}

	return d
}

// Scope оставляет в инвентаре только файлы проектов, для которых решает pred.
// inventory: filename -> имя проекта.
func Scope(inventory map[string]string, pred func(project string) bool) map[string]struct{} {
	out := make(map[string]struct{}, len(inventory))
	for filename, project := range inventory {
		if pred(pyversion.NormalizeName(project)) {
			out[filename] = struct{}{}
		}
	}
	return out
}

// OnlyProjects - предикат для Scope: проект входит в список.
func OnlyProjects(projects []string) func(string) bool {
	set := normalizedSet(projects)
	return func(project string) bool {
		_, ok := set[project]
		return ok
	}
}

// ExceptProjects - предикат для Scope: проект не входит в список.
func ExceptProjects(projects []string) func(string) bool {
	set := normalizedSet(projects)
	return func(project string) bool {
		_, ok := set[project]
		return !ok
	}
}

// Keys собирает множество имен файлов из записей каталога.
func Keys(entries []models.CatalogEntry) map[string]struct{} {
	out := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		out[e.Filename] = struct{}{}
	}
	return out
}

func normalizedSet(projects []string) map[string]struct{} {
	set := make(map[string]struct{}, len(projects))
	for _, p := range projects {
		set[pyversion.NormalizeName(p)] = struct{}{}
	}
	return set
}
