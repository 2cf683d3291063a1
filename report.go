package shtest

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Exit codes returned by the shtest command.
const (
	ExitOK            = 0   // every test passed, was unsupported or failed as expected
	ExitTestFailure   = 1   // at least one test failed or timed out
	ExitConfigError   = 2   // invalid configuration or usage
	ExitInternalError = 3   // the harness itself could not run a test
	ExitInterrupted   = 130 // the run was cancelled
)

// Counts aggregates outcomes by status.
type Counts struct {
	Total            int `json:"total" yaml:"total"`
	Passed           int `json:"passed" yaml:"passed"`
	Failed           int `json:"failed" yaml:"failed"`
	TimedOut         int `json:"timed_out" yaml:"timed_out"`
	InternalErrors   int `json:"internal_errors" yaml:"internal_errors"`
	NotRun           int `json:"not_run" yaml:"not_run"`
	Unsupported      int `json:"unsupported" yaml:"unsupported"`
	ExpectedFailures int `json:"expected_failures" yaml:"expected_failures"`
}

// Add records one outcome.
func (c *Counts) Add(s Status) {
	c.Total++
	switch s {
	case StatusPass:
		c.Passed++
	case StatusFail, StatusUnresolved, StatusXPass:
		c.Failed++
	case StatusTimeout:
		c.TimedOut++
	case StatusInternalError:
		c.InternalErrors++
	case StatusNotRun:
		c.NotRun++
	case StatusUnsupported:
		c.Unsupported++
	case StatusXFail:
		c.ExpectedFailures++
	}
}

// Report is the aggregated result of a run, in discovery order.
type Report struct {
	RunID       string
	Name        string
	Outcomes    []Outcome
	Counts      Counts
	Duration    time.Duration
	Interrupted bool
}

// NewReport aggregates outcomes into a Report.
func NewReport(name string, outcomes []Outcome, d time.Duration) *Report {
	r := &Report{
		RunID:    uuid.NewString(),
		Name:     name,
		Outcomes: outcomes,
		Duration: d,
	}
	for _, o := range outcomes {
		r.Counts.Add(o.Status)
	}
	return r
}

// Failures returns the outcomes that count against the run.
func (r *Report) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status.Failed() {
			out = append(out, o)
		}
	}
	return out
}

// OK reports whether the run succeeded.
func (r *Report) OK() bool {
	return r.ExitCode() == ExitOK
}

// ExitCode maps the report to a process exit code. Harness errors take
// precedence over test failures so that operators can tell them apart.
func (r *Report) ExitCode() int {
	switch {
	case r.Interrupted:
		return ExitInterrupted
	case r.Counts.InternalErrors > 0:
		return ExitInternalError
	case r.Counts.Failed > 0 || r.Counts.TimedOut > 0 || r.Counts.NotRun > 0:
		return ExitTestFailure
	}
	return ExitOK
}

type reportDoc struct {
	RunID       string    `json:"run_id" yaml:"run_id"`
	Name        string    `json:"name" yaml:"name"`
	DurationMS  int64     `json:"duration_ms" yaml:"duration_ms"`
	Interrupted bool      `json:"interrupted" yaml:"interrupted"`
	ExitCode    int       `json:"exit_code" yaml:"exit_code"`
	Counts      Counts    `json:"counts" yaml:"counts"`
	Tests       []testDoc `json:"tests" yaml:"tests"`
}

type testDoc struct {
	Path       string      `json:"path" yaml:"path"`
	Status     Status      `json:"status" yaml:"status"`
	Reason     string      `json:"reason,omitempty" yaml:"reason,omitempty"`
	Ordinal    int         `json:"directive,omitempty" yaml:"directive,omitempty"`
	Line       int         `json:"line,omitempty" yaml:"line,omitempty"`
	Missing    string      `json:"missing,omitempty" yaml:"missing,omitempty"`
	DurationMS int64       `json:"duration_ms" yaml:"duration_ms"`
	Diff       string      `json:"diff,omitempty" yaml:"diff,omitempty"`
	Results    []resultDoc `json:"results,omitempty" yaml:"results,omitempty"`
}

type resultDoc struct {
	Ordinal    int    `json:"directive" yaml:"directive"`
	Command    string `json:"command" yaml:"command"`
	ExitCode   int    `json:"exit_code" yaml:"exit_code"`
	Stdout     string `json:"stdout,omitempty" yaml:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty" yaml:"stderr,omitempty"`
	DurationMS int64  `json:"duration_ms" yaml:"duration_ms"`
	TimedOut   bool   `json:"timed_out,omitempty" yaml:"timed_out,omitempty"`
}

func (r *Report) document(verbose bool) reportDoc {
	doc := reportDoc{
		RunID:       r.RunID,
		Name:        r.Name,
		DurationMS:  r.Duration.Milliseconds(),
		Interrupted: r.Interrupted,
		ExitCode:    r.ExitCode(),
		Counts:      r.Counts,
		Tests:       make([]testDoc, 0, len(r.Outcomes)),
	}
	for _, o := range r.Outcomes {
		t := testDoc{
			Path:       o.File.Rel,
			Status:     o.Status,
			Reason:     o.Reason,
			Missing:    o.Missing,
			DurationMS: o.Duration.Milliseconds(),
			Diff:       o.Diff,
		}
		if o.Directive != nil {
			t.Ordinal, t.Line = o.Directive.Ordinal, o.Directive.Line
		}
		if verbose {
			for _, res := range o.Results {
				rd := resultDoc{
					Command:    res.Command,
					ExitCode:   res.ExitCode,
					Stdout:     string(res.Stdout),
					Stderr:     string(res.Stderr),
					DurationMS: res.Duration.Milliseconds(),
					TimedOut:   res.TimedOut,
				}
				if res.Directive != nil {
					rd.Ordinal = res.Directive.Ordinal
				}
				t.Results = append(t.Results, rd)
			}
		}
		doc.Tests = append(doc.Tests, t)
	}
	return doc
}

// WriteJSON writes the report as indented JSON. Directive output is
// included when verbose is set.
func (r *Report) WriteJSON(w io.Writer, verbose bool) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r.document(verbose)); err != nil {
		return fmt.Errorf("encode json report: %w", err)
	}
	return nil
}

// WriteYAML writes the report as YAML.
func (r *Report) WriteYAML(w io.Writer, verbose bool) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r.document(verbose)); err != nil {
		return fmt.Errorf("encode yaml report: %w", err)
	}
	return enc.Close()
}
