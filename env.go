package shtest

import (
	"os"
	"sort"
	"strings"
)

// An Env holds the environment variables passed to child processes.
type Env struct {
	Values []string
}

// NewEnv returns an Env seeded from base, usually os.Environ().
func NewEnv(base []string) *Env {
	return &Env{Values: append([]string(nil), base...)}
}

// Getenv retrieves the value of the environment variable named by the key.
func (e *Env) Getenv(key string) string {
	for _, kv := range e.Values {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			return v
		}
	}
	return ""
}

// Setenv sets the value of the environment variable named by the key.
func (e *Env) Setenv(key, value string) {
	entry := key + "=" + value
	for i, kv := range e.Values {
		if k, _, ok := strings.Cut(kv, "="); ok && k == key {
			e.Values[i] = entry
			return
		}
	}
	e.Values = append(e.Values, entry)
}

// Apply sets every override in key order so the result is deterministic.
func (e *Env) Apply(overrides map[string]string) {
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e.Setenv(k, overrides[k])
	}
}

// PrependPath adds dirs in front of PATH.
func (e *Env) PrependPath(dirs ...string) {
	if len(dirs) == 0 {
		return
	}
	newPATH := strings.Join(dirs, string(os.PathListSeparator))
	if current := e.Getenv("PATH"); current != "" {
		newPATH += string(os.PathListSeparator) + current
	}
	e.Setenv("PATH", newPATH)
}

// Environ returns a copy of the variables in KEY=value form.
func (e *Env) Environ() []string {
	return append([]string(nil), e.Values...)
}
