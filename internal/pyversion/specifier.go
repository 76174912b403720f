package pyversion

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// длинные операторы проверяются первыми
var operators = []string{"===", "==", "!=", "~=", ">=", "<=", ">", "<"}

var requirementPattern = regexp.MustCompile(`^\s*([A-Za-z0-9][A-Za-z0-9._-]*)\s*(.*)$`)

type clause struct {
	target   *Version
	op       string
	raw      string
	wildcard []int
}

// Specifier - конъюнкция условий вида ">=1.0,<2.0".
// Пустой Specifier подходит любой версии.
type Specifier struct {
	raw     string
	clauses []clause
}

// ParseSpecifier разбирает список условий через запятую
func ParseSpecifier(raw string) (*Specifier, error) {
	spec := &Specifier{raw: strings.TrimSpace(raw)}
	if spec.raw == "" {
		return spec, nil
	}

	for _, part := range strings.Split(spec.raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		c, err := parseClause(part)
		if err != nil {
			return nil, fmt.Errorf("invalid specifier %q: %w", raw, err)
		}
		spec.clauses = append(spec.clauses, c)
	}

	return spec, nil
}

func parseClause(part string) (clause, error) {
	for _, op := range operators {
		if !strings.HasPrefix(part, op) {
			continue
		}
		operand := strings.TrimSpace(strings.TrimPrefix(part, op))
		if operand == "" {
			return clause{}, fmt.Errorf("missing version after %q", op)
		}

		c := clause{op: op, raw: operand}
		if op == "===" {
			return c, nil
		}

		if strings.HasSuffix(operand, ".*") {
			if op != "==" && op != "!=" {
				return clause{}, fmt.Errorf("wildcard not allowed with %q", op)
			}
			prefix, err := parsePrefix(strings.TrimSuffix(operand, ".*"))
			if err != nil {
				return clause{}, err
			}
			c.wildcard = prefix
			return c, nil
		}

		target, err := Parse(operand)
		if err != nil {
			return clause{}, err
		}
		if op == "~=" && len(target.Segments()) < 2 {
			return clause{}, fmt.Errorf("~= requires at least two release segments")
		}
		c.target = target
		return c, nil
	}
	return clause{}, fmt.Errorf("unknown operator in %q", part)
}

func parsePrefix(s string) ([]int, error) {
	parts := strings.Split(s, ".")
	prefix := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid wildcard prefix %q", s)
		}
		prefix = append(prefix, n)
	}
	return prefix, nil
}

// String возвращает specifier как задан
func (s *Specifier) String() string {
	return s.raw
}

// IsEmpty - условий нет
func (s *Specifier) IsEmpty() bool {
	return s == nil || len(s.clauses) == 0
}

// Contains проверяет все условия. Отбор pre-release остается за вызывающим.
func (s *Specifier) Contains(v *Version) bool {
	if s == nil {
		return true
	}
	for _, c := range s.clauses {
		if !c.matches(v) {
			return false
		}
	}
	return true
}

func (c clause) matches(v *Version) bool {
	switch c.op {
	case "===":
		return strings.EqualFold(strings.TrimSpace(v.String()), c.raw)
	case "==":
		if c.wildcard != nil {
			return hasPrefix(v.Segments(), c.wildcard)
		}
		return v.Compare(c.target) == 0
	case "!=":
		if c.wildcard != nil {
			return !hasPrefix(v.Segments(), c.wildcard)
		}
		return v.Compare(c.target) != 0
	case ">=":
		return v.Compare(c.target) >= 0
	case "<=":
		return v.Compare(c.target) <= 0
	case ">":
		// >1.0 не включает 1.0.postN, если сама граница не post-release
		if v.IsPostrelease() && !c.target.IsPostrelease() && v.CompareRelease(c.target) == 0 {
			return false
		}
		return v.Compare(c.target) > 0
	case "<":
		// <2.0 не включает 2.0a1, если сама граница не pre-release
		if v.IsPrerelease() && !c.target.IsPrerelease() && v.CompareRelease(c.target) == 0 {
			return false
		}
		return v.Compare(c.target) < 0
	case "~=":
		segments := c.target.Segments()
		return v.Compare(c.target) >= 0 && hasPrefix(v.Segments(), segments[:len(segments)-1])
	}
	return false
}

// hasPrefix сравнивает сегменты, недостающие сегменты версии считаются нулями
func hasPrefix(segments, prefix []int) bool {
	for i, p := range prefix {
		n := 0
		if i < len(segments) {
			n = segments[i]
		}
		if n != p {
			return false
		}
	}
	return true
}

// ParseRequirement делит строку вида "Django>=4.0,<5" на имя проекта и specifier
func ParseRequirement(raw string) (name, specifier string, err error) {
	m := requirementPattern.FindStringSubmatch(raw)
	if m == nil {
		return "", "", fmt.Errorf("invalid requirement %q", raw)
	}
	name, specifier = m[1], strings.TrimSpace(m[2])
	if _, err := ParseSpecifier(specifier); err != nil {
		return "", "", err
	}
	return name, specifier, nil
}
