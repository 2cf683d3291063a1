package shtest

import (
	"fmt"
	"time"
)

// Status is the terminal state of a test file.
type Status int

const (
	StatusPass Status = iota
	StatusFail
	StatusUnresolved
	StatusTimeout
	StatusInternalError
	StatusNotRun
	StatusUnsupported
	StatusXFail
	StatusXPass
)

var statusNames = [...]string{
	StatusPass:          "pass",
	StatusFail:          "fail",
	StatusUnresolved:    "unresolved",
	StatusTimeout:       "timeout",
	StatusInternalError: "internal error",
	StatusNotRun:        "not run",
	StatusUnsupported:   "unsupported",
	StatusXFail:         "expected failure",
	StatusXPass:         "unexpected pass",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText encodes the status by name for JSON and YAML reports.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Failed reports whether s counts against the run.
func (s Status) Failed() bool {
	switch s {
	case StatusFail, StatusUnresolved, StatusTimeout, StatusInternalError, StatusXPass:
		return true
	}
	return false
}

// TestFile is a discovered test.
type TestFile struct {
	Path   string // absolute path
	Rel    string // path relative to the root it was found under
	Suffix string
	Index  int // discovery order
}

// Outcome is the result of running one test file.
type Outcome struct {
	File      TestFile
	Status    Status
	Reason    string
	Directive *Directive // offending directive, if any
	Missing   string     // placeholder name for StatusUnresolved
	Err       error      // cause for StatusInternalError
	Diff      string
	Duration  time.Duration
	Results   []Result
}

func (o *Outcome) String() string {
	if o.Reason == "" {
		return fmt.Sprintf("%s: %s", o.File.Rel, o.Status)
	}
	return fmt.Sprintf("%s: %s: %s", o.File.Rel, o.Status, o.Reason)
}
