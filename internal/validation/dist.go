package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/iudanet/pymirror/internal/models"
)

// ProjectNamePattern определяет допустимое имя проекта (PEP 508)
// Буквы, цифры, точка, дефис, подчеркивание; начинается и заканчивается буквой или цифрой
var ProjectNamePattern = regexp.MustCompile(`^([A-Za-z0-9]|[A-Za-z0-9][A-Za-z0-9._-]*[A-Za-z0-9])$`)

const (
	// MaxFilenameLen максимальная длина имени файла дистрибутива
	MaxFilenameLen = 255
)

var sdistExtensions = []string{".tar.gz", ".tar.bz2", ".tar.xz", ".tgz", ".zip", ".tar"}

// DistInfo описывает то, что можно извлечь из имени файла дистрибутива.
type DistInfo struct {
	Name        string
	Version     string
	PackageType string
	Platform    string
}

// ValidateProjectName проверяет имя проекта
func ValidateProjectName(name string) error {
	if name == "" {
		return fmt.Errorf("project name cannot be empty")
	}

	if !ProjectNamePattern.MatchString(name) {
		return fmt.Errorf("invalid project name %q", name)
	}

	return nil
}

// ParseDistFilename разбирает имя файла wheel, sdist, egg или windows installer
// Возвращает ошибку, если имя не похоже на файл дистрибутива
func ParseDistFilename(filename string) (*DistInfo, error) {
	if filename == "" {
		return nil, fmt.Errorf("filename cannot be empty")
	}

	if len(filename) > MaxFilenameLen {
		return nil, fmt.Errorf("filename must not exceed %d characters", MaxFilenameLen)
	}

	if strings.ContainsAny(filename, `/\`) {
		return nil, fmt.Errorf("filename must not contain path separators")
	}

	switch {
	case strings.HasSuffix(filename, ".whl"):
		return parseWheel(filename)
	case strings.HasSuffix(filename, ".egg"):
		return parseEgg(filename)
	case strings.HasSuffix(filename, ".exe"):
		return parseInstaller(filename, ".exe", models.PackageTypeWininst)
	case strings.HasSuffix(filename, ".msi"):
		return parseInstaller(filename, ".msi", models.PackageTypeMSI)
	}

	for _, ext := range sdistExtensions {
		if strings.HasSuffix(filename, ext) {
			return parseSdist(filename, ext)
		}
	}

	return nil, fmt.Errorf("unsupported distribution file %q", filename)
}

// {name}-{version}(-{build})?-{python}-{abi}-{platform}.whl
func parseWheel(filename string) (*DistInfo, error) {
	parts := strings.Split(strings.TrimSuffix(filename, ".whl"), "-")
	if len(parts) != 5 && len(parts) != 6 {
		return nil, fmt.Errorf("invalid wheel filename %q", filename)
	}

	info := &DistInfo{
		Name:        parts[0],
		Version:     parts[1],
		PackageType: models.PackageTypeWheel,
		Platform:    PlatformFromTag(parts[len(parts)-1]),
	}
	if err := ValidateProjectName(info.Name); err != nil {
		return nil, err
	}
	return info, nil
}

// {name}-{version}(-py{x.y}(-{platform})?)?.egg
func parseEgg(filename string) (*DistInfo, error) {
	parts := strings.Split(strings.TrimSuffix(filename, ".egg"), "-")
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid egg filename %q", filename)
	}

	info := &DistInfo{
		Name:        parts[0],
		Version:     parts[1],
		PackageType: models.PackageTypeEgg,
	}
	if len(parts) > 3 {
		info.Platform = PlatformFromTag(strings.Join(parts[3:], "-"))
	}
	if err := ValidateProjectName(info.Name); err != nil {
		return nil, err
	}
	return info, nil
}

// {name}-{version}.{platform}(-py{x.y})?.exe
func parseInstaller(filename, ext, packageType string) (*DistInfo, error) {
	base := strings.TrimSuffix(filename, ext)
	idx := strings.Index(base, ".win")
	if idx < 0 {
		return nil, fmt.Errorf("invalid installer filename %q", filename)
	}

	name, version, err := splitNameVersion(base[:idx])
	if err != nil {
		return nil, fmt.Errorf("invalid installer filename %q: %w", filename, err)
	}

	return &DistInfo{
		Name:        name,
		Version:     version,
		PackageType: packageType,
		Platform:    models.PlatformWindows,
	}, nil
}

func parseSdist(filename, ext string) (*DistInfo, error) {
	name, version, err := splitNameVersion(strings.TrimSuffix(filename, ext))
	if err != nil {
		return nil, fmt.Errorf("invalid sdist filename %q: %w", filename, err)
	}

	return &DistInfo{
		Name:        name,
		Version:     version,
		PackageType: models.PackageTypeSdist,
	}, nil
}

// splitNameVersion делит "my-project-1.0.2" по последнему дефису, за которым идет цифра
func splitNameVersion(base string) (string, string, error) {
	for i := len(base) - 1; i > 0; i-- {
		if base[i] == '-' && i+1 < len(base) && base[i+1] >= '0' && base[i+1] <= '9' {
			name := base[:i]
			if err := ValidateProjectName(name); err != nil {
				return "", "", err
			}
			return name, base[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("no version in %q", base)
}

// PlatformFromTag сводит platform tag (manylinux2014_x86_64, win_amd64, ...)
// к одному из значений, которые понимает фильтр exclude_platforms
func PlatformFromTag(tag string) string {
	tag = strings.ToLower(tag)
	switch {
	case strings.HasPrefix(tag, "win"):
		return models.PlatformWindows
	case strings.HasPrefix(tag, "macosx"):
		return models.PlatformMacOS
	case strings.HasPrefix(tag, "freebsd"):
		return models.PlatformFreeBSD
	case strings.HasPrefix(tag, "linux"), strings.HasPrefix(tag, "manylinux"), strings.HasPrefix(tag, "musllinux"):
		return models.PlatformLinux
	}
	return ""
}

// PlatformOf определяет платформу файла по имени и типу пакета
// Для sdist и файлов, которые не удалось разобрать, возвращает пустую строку
func PlatformOf(filename, packageType string) string {
	switch packageType {
	case models.PackageTypeWininst, models.PackageTypeMSI:
		return models.PlatformWindows
	case models.PackageTypeDMG:
		return models.PlatformMacOS
	case models.PackageTypeSdist:
		return ""
	}

	info, err := ParseDistFilename(filename)
	if err != nil {
		return ""
	}
	return info.Platform
}
