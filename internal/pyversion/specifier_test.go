package pyversion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecifier_Contains(t *testing.T) {
	tests := []struct {
		name      string
		specifier string
		matches   []string
		rejects   []string
	}{
		{
			name:      "empty matches everything",
			specifier: "",
			matches:   []string{"0.1", "1.0", "99.0"},
		},
		{
			name:      "half open range",
			specifier: ">=1.0,<2.0",
			matches:   []string{"1.0", "1.5", "1.99", "1.0.post1"},
			rejects:   []string{"0.9", "2.0", "2.1", "2.0-beta", "2.0.dev1", "1.0rc1"},
		},
		{
			name:      "exclusive upper bound on prerelease",
			specifier: "<2.0rc1",
			matches:   []string{"2.0a1", "2.0b3", "1.9"},
			rejects:   []string{"2.0rc1", "2.0"},
		},
		{
			name:      "exclusive lower bound skips post releases",
			specifier: ">1.0",
			matches:   []string{"1.0.1", "1.1"},
			rejects:   []string{"1.0", "1.0.post1", "1.0-2"},
		},
		{
			name:      "exclusive lower bound on post release",
			specifier: ">1.0.post1",
			matches:   []string{"1.0.post2", "1.1"},
			rejects:   []string{"1.0.post1", "1.0"},
		},
		{
			name:      "exact excludes post and dev",
			specifier: "==1.0",
			matches:   []string{"1.0", "1.0.0"},
			rejects:   []string{"1.0.post1", "1.0.dev1", "1.0a1"},
		},
		{
			name:      "not equal keeps post",
			specifier: "!=1.0",
			matches:   []string{"1.0.post1", "1.1"},
			rejects:   []string{"1.0"},
		},
		{
			name:      "upper inclusive bound excludes post",
			specifier: "<=1.0",
			matches:   []string{"1.0", "0.9", "1.0rc1"},
			rejects:   []string{"1.0.post1"},
		},
		{
			name:      "exact",
			specifier: "==1.4",
			matches:   []string{"1.4", "1.4.0"},
			rejects:   []string{"1.4.1", "1.3"},
		},
		{
			name:      "wildcard",
			specifier: "==1.4.*",
			matches:   []string{"1.4", "1.4.7"},
			rejects:   []string{"1.5", "1.40"},
		},
		{
			name:      "not equal wildcard",
			specifier: "!=2.*",
			matches:   []string{"1.9", "3.0"},
			rejects:   []string{"2.0", "2.5.1"},
		},
		{
			name:      "compatible release",
			specifier: "~=1.4.2",
			matches:   []string{"1.4.2", "1.4.9"},
			rejects:   []string{"1.4.1", "1.5.0"},
		},
		{
			name:      "compatible release two segments",
			specifier: "~=2.2",
			matches:   []string{"2.2", "2.9"},
			rejects:   []string{"3.0", "2.1"},
		},
		{
			name:      "arbitrary equality",
			specifier: "===1.0",
			matches:   []string{"1.0"},
			rejects:   []string{"1.0.0"},
		},
		{
			name:      "spaces tolerated",
			specifier: " > 1.0 , <= 3 ",
			matches:   []string{"1.1", "3.0"},
			rejects:   []string{"1.0", "3.1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := ParseSpecifier(tt.specifier)
			require.NoError(t, err)

			for _, raw := range tt.matches {
				v, err := Parse(raw)
				require.NoError(t, err)
				assert.True(t, spec.Contains(v), "%s should match %s", raw, tt.specifier)
			}
			for _, raw := range tt.rejects {
				v, err := Parse(raw)
				require.NoError(t, err)
				assert.False(t, spec.Contains(v), "%s should not match %s", raw, tt.specifier)
			}
		})
	}
}

func TestParseSpecifier_Errors(t *testing.T) {
	for _, raw := range []string{"1.0", ">=", "~=1", ">=1.*", "==x.*", "=>1.0"} {
		_, err := ParseSpecifier(raw)
		assert.Error(t, err, raw)
	}
}

func TestParseRequirement(t *testing.T) {
	tests := []struct {
		raw       string
		name      string
		specifier string
		wantErr   bool
	}{
		{raw: "django", name: "django"},
		{raw: "Django>=4.0,<5", name: "Django", specifier: ">=4.0,<5"},
		{raw: "zope.interface ~= 5.4", name: "zope.interface", specifier: "~= 5.4"},
		{raw: ">=1.0", wantErr: true},
		{raw: "pkg>>1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			name, specifier, err := ParseRequirement(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.specifier, specifier)
		})
	}
}
