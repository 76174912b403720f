// Package pyversion реализует нужную зеркалу часть семантики Python пакетов:
// нормализацию имен (PEP 503), версии и specifiers (PEP 440).
package pyversion

import (
	"regexp"
	"strings"
)

var nameSeparators = regexp.MustCompile(`[-_.]+`)

// NormalizeName приводит имя проекта к PEP 503: нижний регистр,
// серии "-", "_" и "." заменяются одним "-"
func NormalizeName(name string) string {
	return nameSeparators.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
}
