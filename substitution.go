package shtest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Substitution maps a placeholder name (without the % sigil) to its literal value.
type Substitution struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

func (s Substitution) String() string { return s.Name + "=" + s.Value }

// ParseSubstitution parses the name=value form used on the command line
// and in configuration files. A leading % on the name is accepted.
func ParseSubstitution(kv string) (Substitution, error) {
	name, value, ok := strings.Cut(kv, "=")
	if !ok {
		return Substitution{}, fmt.Errorf("substitution %q: missing '='", kv)
	}
	name = strings.TrimPrefix(strings.TrimSpace(name), "%")
	if !isIdent(name) {
		return Substitution{}, fmt.Errorf("substitution %q: invalid name %q", kv, name)
	}
	return Substitution{Name: name, Value: value}, nil
}

// Substitutions is an immutable lookup table. It is safe for concurrent use.
type Substitutions struct {
	values map[string]string
	order  []string // first-seen order of names
}

// NewSubstitutions builds a table from pairs. When a name repeats, the
// later value wins.
func NewSubstitutions(pairs ...Substitution) *Substitutions {
	s := &Substitutions{values: make(map[string]string, len(pairs))}
	s.add(pairs)
	return s
}

func (s *Substitutions) add(pairs []Substitution) {
	for _, p := range pairs {
		if _, ok := s.values[p.Name]; !ok {
			s.order = append(s.order, p.Name)
		}
		s.values[p.Name] = p.Value
	}
}

// With returns a new table layering pairs over s. s is left untouched.
func (s *Substitutions) With(pairs ...Substitution) *Substitutions {
	n := &Substitutions{
		values: make(map[string]string, len(s.values)+len(pairs)),
		order:  append([]string(nil), s.order...),
	}
	for k, v := range s.values {
		n.values[k] = v
	}
	n.add(pairs)
	return n
}

// Resolve returns the value for name, or an *UnresolvedSubstitutionError.
func (s *Substitutions) Resolve(name string) (string, error) {
	if v, ok := s.values[name]; ok {
		return v, nil
	}
	return "", &UnresolvedSubstitutionError{Name: name, Suggestion: s.closest(name)}
}

// Names returns the known names in first-declaration order.
func (s *Substitutions) Names() []string {
	return append([]string(nil), s.order...)
}

// Pairs returns the resolved table in first-declaration order.
func (s *Substitutions) Pairs() []Substitution {
	pairs := make([]Substitution, 0, len(s.order))
	for _, name := range s.order {
		pairs = append(pairs, Substitution{Name: name, Value: s.values[name]})
	}
	return pairs
}

// closest finds the best fuzzy match among known names. Names containing
// the typo as a subsequence rank first; otherwise the name within edit
// distance 2 is used.
func (s *Substitutions) closest(name string) string {
	if len(s.order) == 0 || name == "" {
		return ""
	}
	ranks := fuzzy.RankFindFold(name, s.order)
	if len(ranks) > 0 {
		sort.Sort(ranks)
		return ranks[0].Target
	}

	best, bestDist := "", 3
	for _, cand := range s.order {
		if d := fuzzy.LevenshteinDistance(strings.ToLower(name), strings.ToLower(cand)); d < bestDist {
			best, bestDist = cand, d
		}
	}
	return best
}

func isIdentStart(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || ('0' <= c && c <= '9')
}

func isIdent(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentChar(s[i]) {
			return false
		}
	}
	return true
}
