package models

// CatalogEntry описывает один файл дистрибутива, который удаленный индекс
// сообщает для пары (project, version). Живет только в рамках одного sync.
// Identity key записи - Filename.
type CatalogEntry struct {
	Digests        map[string]string `json:"digests"`         // Digests declared checksums keyed by algorithm (sha256, md5, blake2b_256)
	Project        string            `json:"project"`         // Project имя проекта как его сообщает индекс
	Version        string            `json:"version"`         // Version строка версии релиза (как есть, без нормализации)
	Filename       string            `json:"filename"`        // Filename имя файла, уникальный ключ
	URL            string            `json:"url"`             // URL откуда скачивать файл
	PackageType    string            `json:"packagetype"`     // PackageType sdist, bdist_wheel, ...
	RequiresPython string            `json:"requires_python"` // RequiresPython required-runtime marker
	Platform       string            `json:"platform"`        // Platform linux, macos, windows, freebsd или пусто
	Yanked         bool              `json:"yanked"`
}

// Sha256 returns the declared sha256 digest or an empty string.
func (e CatalogEntry) Sha256() string {
	return e.Digests[DigestSHA256]
}

// Package types as reported by the remote index.
const (
	PackageTypeSdist   = "sdist"
	PackageTypeWheel   = "bdist_wheel"
	PackageTypeEgg     = "bdist_egg"
	PackageTypeWininst = "bdist_wininst"
	PackageTypeMSI     = "bdist_msi"
	PackageTypeDumb    = "bdist_dumb"
	PackageTypeRPM     = "bdist_rpm"
	PackageTypeDMG     = "bdist_dmg"
)

// Platform tags used by the excluded-platforms filter.
const (
	PlatformLinux   = "linux"
	PlatformMacOS   = "macos"
	PlatformWindows = "windows"
	PlatformFreeBSD = "freebsd"
)

// Digest algorithm names, as used in remote manifests.
const (
	DigestSHA256     = "sha256"
	DigestMD5        = "md5"
	DigestBlake2b256 = "blake2b_256"
)

// ProjectSpecifier - элемент include/exclude списка: имя проекта и
// необязательный диапазон версий (например ">=1.0,<2.0").
type ProjectSpecifier struct {
	Name      string `json:"name" yaml:"name"`
	Specifier string `json:"specifier,omitempty" yaml:"specifier,omitempty"`
}

// FilterSpec is the per-remote filter configuration. It is read-only
// during a sync run.
type FilterSpec struct {
	Includes         []ProjectSpecifier `json:"includes,omitempty"`
	Excludes         []ProjectSpecifier `json:"excludes,omitempty"`
	PackageTypes     []string           `json:"package_types,omitempty"`
	ExcludePlatforms []string           `json:"exclude_platforms,omitempty"`
	KeepLatest       int                `json:"keep_latest,omitempty"` // 0 - хранить все версии
	Prereleases      bool               `json:"prereleases,omitempty"`
}

// Delta is the result of reconciling local inventory against the filtered
// remote catalog. Additions and Removals never intersect.
type Delta struct {
	Additions map[string]struct{}
	Removals  map[string]struct{}
}

// IsEmpty reports whether applying the delta would change nothing.
func (d Delta) IsEmpty() bool {
	return len(d.Additions) == 0 && len(d.Removals) == 0
}
