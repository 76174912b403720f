package delta

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iudanet/pymirror/internal/models"
)

func set(names ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		local         map[string]struct{}
		remote        map[string]struct{}
		wantAdditions map[string]struct{}
		wantRemovals  map[string]struct{}
		name          string
		mirror        bool
	}{
		{
			name:          "mirror",
			local:         set("a", "b", "c"),
			remote:        set("b", "c", "d"),
			mirror:        true,
			wantAdditions: set("d"),
			wantRemovals:  set("a"),
		},
		{
			name:          "additive",
			local:         set("a", "b", "c"),
			remote:        set("b", "c", "d"),
			mirror:        false,
			wantAdditions: set("d"),
			wantRemovals:  set(),
		},
		{
			name:          "empty local",
			local:         nil,
			remote:        set("a"),
			mirror:        true,
			wantAdditions: set("a"),
			wantRemovals:  set(),
		},
		{
			name:          "empty remote mirror removes all",
			local:         set("a", "b"),
			remote:        set(),
			mirror:        true,
			wantAdditions: set(),
			wantRemovals:  set("a", "b"),
		},
		{
			name:          "identical",
			local:         set("a", "b"),
			remote:        set("a", "b"),
			mirror:        true,
			wantAdditions: set(),
			wantRemovals:  set(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Reconcile(tt.local, tt.remote, tt.mirror)
			assert.Equal(t, tt.wantAdditions, d.Additions)
			assert.Equal(t, tt.wantRemovals, d.Removals)
		})
	}
}

// Свойства проверяем на случайных множествах
func TestReconcile_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	universe := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	random := func() map[string]struct{} {
		out := make(map[string]struct{})
		for _, n := range universe {
			if rng.Intn(2) == 0 {
				out[n] = struct{}{}
			}
		}
		return out
	}

	for i := 0; i < 200; i++ {
		local, remote := random(), random()

		m := Reconcile(local, remote, true)
		for n := range m.Additions {
			assert.NotContains(t, local, n)
			assert.Contains(t, remote, n)
			assert.NotContains(t, m.Removals, n)
		}
		for n := range m.Removals {
			assert.Contains(t, local, n)
			assert.NotContains(t, remote, n)
		}

		// mirror: (L - removals) + additions = R
		result := make(map[string]struct{})
		for n := range local {
			if _, ok := m.Removals[n]; !ok {
				result[n] = struct{}{}
			}
		}
		for n := range m.Additions {
			result[n] = struct{}{}
		}
		assert.Equal(t, len(remote), len(result))
		for n := range remote {
			assert.Contains(t, result, n)
		}

		a := Reconcile(local, remote, false)
		assert.Empty(t, a.Removals)
		assert.Equal(t, m.Additions, a.Additions)

		// детерминированность
		assert.Equal(t, m, Reconcile(local, remote, true))
	}
}

func TestScope(t *testing.T) {
	inventory := map[string]string{
		"foo-1.0.tar.gz":     "Foo",
		"foo_bar-2.0.tar.gz": "foo_bar",
		"baz-3.0.tar.gz":     "baz",
	}

	assert.Equal(t, set("foo-1.0.tar.gz", "foo_bar-2.0.tar.gz"),
		Scope(inventory, OnlyProjects([]string{"foo", "Foo.Bar"})))
	assert.Equal(t, set("foo-1.0.tar.gz", "foo_bar-2.0.tar.gz"),
		Scope(inventory, ExceptProjects([]string{"BAZ"})))
	assert.Empty(t, Scope(inventory, OnlyProjects(nil)))
}

func TestKeys(t *testing.T) {
	got := Keys([]models.CatalogEntry{{Filename: "a.whl"}, {Filename: "b.whl"}, {Filename: "a.whl"}})
	assert.Equal(t, set("a.whl", "b.whl"), got)
}
