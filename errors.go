package shtest

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedTest reports a test file the parser cannot turn into directives.
	ErrMalformedTest = errors.New("malformed test")

	// ErrNoTests is returned by Discover when no file matches the configured suffixes.
	ErrNoTests = errors.New("no test files found")
)

// SyntaxError describes a malformed directive or a file without directives.
type SyntaxError struct {
	File string
	Line int // 0 when the error concerns the whole file
	Msg  string
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Msg)
}

func (e *SyntaxError) Unwrap() error { return ErrMalformedTest }

// UnresolvedSubstitutionError is returned when a placeholder has no
// entry in the substitution table.
type UnresolvedSubstitutionError struct {
	Name       string
	Suggestion string // closest known name, if any
}

func (e *UnresolvedSubstitutionError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("unresolved substitution %%%s (did you mean %%%s?)", e.Name, e.Suggestion)
	}
	return fmt.Sprintf("unresolved substitution %%%s", e.Name)
}

// ConfigError reports an invalid configuration. The CLI maps it to a
// dedicated exit code.
type ConfigError struct {
	Source string // file name or "flags"
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
