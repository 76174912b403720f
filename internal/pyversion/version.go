package pyversion

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-version"
)

// versionPattern - PEP 440 без epoch и local меток
var versionPattern = regexp.MustCompile(`^v?` +
	`(?P<release>[0-9]+(?:\.[0-9]+)*)` +
	`(?:[-_.]?(?P<pre_l>alpha|a|beta|b|preview|pre|c|rc)[-_.]?(?P<pre_n>[0-9]+)?)?` +
	`(?:-(?P<post_n1>[0-9]+)|[-_.]?(?P<post_l>post|rev|r)[-_.]?(?P<post_n2>[0-9]+)?)?` +
	`(?:[-_.]?(?P<dev_l>dev)[-_.]?(?P<dev_n>[0-9]+)?)?$`)

// Фазы pre-release в порядке сортировки.
// Версия только с .devN идет раньше любой pre-release, финальная - позже.
const (
	phaseDevOnly = iota
	phaseAlpha
	phaseBeta
	phaseRC
	phaseFinal
)

var prePhases = map[string]int{
	"a":       phaseAlpha,
	"alpha":   phaseAlpha,
	"b":       phaseBeta,
	"beta":    phaseBeta,
	"c":       phaseRC,
	"rc":      phaseRC,
	"pre":     phaseRC,
	"preview": phaseRC,
}

// Version - разобранная версия релиза
type Version struct {
	release  *version.Version
	raw      string
	segments []int
	phase    int
	pre      int
	post     int
	dev      int
	hasPost  bool
	hasDev   bool
}

// Parse разбирает версию по PEP 440. Epoch и local метки не поддерживаются.
func Parse(raw string) (*Version, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return nil, fmt.Errorf("empty version")
	}
	if strings.ContainsAny(s, "!+") {
		return nil, fmt.Errorf("unsupported version %q", raw)
	}

	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("invalid version %q", raw)
	}
	group := func(name string) string {
		return m[versionPattern.SubexpIndex(name)]
	}

	// go-version сравнивает только числовую часть релиза
	release, err := version.NewVersion(group("release"))
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", raw, err)
	}

	v := &Version{release: release, raw: raw, phase: phaseFinal}
	for _, p := range strings.Split(group("release"), ".") {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid version %q: %w", raw, err)
		}
		v.segments = append(v.segments, n)
	}

	if l := group("pre_l"); l != "" {
		v.phase = prePhases[l]
		v.pre = atoi(group("pre_n"))
	}
	switch {
	case group("post_n1") != "":
		v.hasPost, v.post = true, atoi(group("post_n1"))
	case group("post_l") != "":
		v.hasPost, v.post = true, atoi(group("post_n2"))
	}
	if group("dev_l") != "" {
		v.hasDev, v.dev = true, atoi(group("dev_n"))
		if v.phase == phaseFinal && !v.hasPost {
			v.phase = phaseDevOnly
		}
	}

	return v, nil
}

// atoi - числа уже проверены регуляркой, пустая строка значит 0
func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// String возвращает версию в исходном написании
func (v *Version) String() string {
	return v.raw
}

// IsPrerelease - pre-release или dev-release
func (v *Version) IsPrerelease() bool {
	return v.hasDev || (v.phase != phaseFinal && v.phase != phaseDevOnly)
}

// IsPostrelease - версия с .postN
func (v *Version) IsPostrelease() bool {
	return v.hasPost
}

// Compare возвращает -1, 0 или 1 по порядку PEP 440:
// release, затем dev < a < b < rc < final, затем post, затем dev.
func (v *Version) Compare(other *Version) int {
	if c := v.CompareRelease(other); c != 0 {
		return c
	}
	if c := cmpInt(v.phase, other.phase); c != 0 {
		return c
	}
	if c := cmpInt(v.pre, other.pre); c != 0 {
		return c
	}
	if c := cmpInt(v.postKey(), other.postKey()); c != 0 {
		return c
	}
	return cmpInt(v.devKey(), other.devKey())
}

// CompareRelease сравнивает только числовые сегменты, 1.0 == 1.0.0
func (v *Version) CompareRelease(other *Version) int {
	return v.release.Compare(other.release)
}

// без post меньше любого post
func (v *Version) postKey() int {
	if !v.hasPost {
		return -1
	}
	return v.post
}

// без dev больше любого dev
func (v *Version) devKey() int {
	if !v.hasDev {
		return int(^uint(0) >> 1)
	}
	return v.dev
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Segments возвращает числовые сегменты релиза как написаны, без дополнения нулями
func (v *Version) Segments() []int {
	return v.segments
}

// SortDescending сортирует от новой версии к старой.
// Равные версии (1.0 и 1.0.0) упорядочены по написанию.
func SortDescending(versions []*Version) {
	sort.SliceStable(versions, func(i, j int) bool {
		if c := versions[i].Compare(versions[j]); c != 0 {
			return c > 0
		}
		return versions[i].raw > versions[j].raw
	})
}
