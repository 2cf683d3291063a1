package shtest

import (
	"fmt"
	"strings"
)

// Expand replaces every %name and %{name} placeholder in raw with its value
// from table. "%%" produces a literal '%', and a '%' that does not start a
// placeholder is copied as is. Substituted values are never rescanned.
//
// Expanding an already expanded string leaves it unchanged only when it holds
// no '%' escapes: "%%s" expands to "%s", which a second pass reads as a
// placeholder.
func Expand(raw string, table *Substitutions) (string, error) {
	if !strings.Contains(raw, "%") {
		return raw, nil
	}

	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '%' || i+1 == len(raw) {
			b.WriteByte(c)
			continue
		}

		next := raw[i+1]
		switch {
		case next == '%':
			b.WriteByte('%')
			i++
		case next == '{':
			end := strings.IndexByte(raw[i+2:], '}')
			if end < 0 {
				return "", fmt.Errorf("unterminated placeholder at offset %d", i)
			}
			name := raw[i+2 : i+2+end]
			if !isIdent(name) {
				return "", fmt.Errorf("invalid placeholder %%{%s}", name)
			}
			v, err := table.Resolve(name)
			if err != nil {
				return "", err
			}
			b.WriteString(v)
			i += 2 + end
		case isIdentStart(next):
			j := i + 1
			for j < len(raw) && isIdentChar(raw[j]) {
				j++
			}
			v, err := table.Resolve(raw[i+1 : j])
			if err != nil {
				return "", err
			}
			b.WriteString(v)
			i = j - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

// Placeholders lists the placeholder names referenced by raw, in order of
// first appearance.
func Placeholders(raw string) []string {
	var names []string
	seen := make(map[string]bool)
	for i := 0; i < len(raw)-1; i++ {
		if raw[i] != '%' {
			continue
		}
		var name string
		switch next := raw[i+1]; {
		case next == '%':
			i++
			continue
		case next == '{':
			end := strings.IndexByte(raw[i+2:], '}')
			if end < 0 {
				return names
			}
			name = raw[i+2 : i+2+end]
			i += 2 + end
		case isIdentStart(next):
			j := i + 1
			for j < len(raw) && isIdentChar(raw[j]) {
				j++
			}
			name = raw[i+1 : j]
			i = j - 1
		default:
			continue
		}
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}
