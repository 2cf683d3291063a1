package shtest

import (
	"strings"
	"testing"
)

// TestingT is the interface common to *testing.T and *testing.B.
type TestingT interface {
	Skip(...any)
	Fatal(...any)
	Fatalf(format string, args ...any)
	Log(...any)
	Logf(format string, args ...any)
	Failed() bool
	Helper()
}

// Run discovers the test files under cfg.TestRoot and runs each one as a
// subtest of t, named after its path relative to the root without suffix.
//
//	func TestScripts(t *testing.T) {
//		shtest.Run(t, shtest.Config{
//			TestRoot: "testdata",
//			Suffixes: []string{".prsl"},
//		})
//	}
func Run(t *testing.T, cfg Config, opts ...Option) {
	t.Helper()

	r, err := NewRunner(cfg, opts...)
	if err != nil {
		t.Fatal(err)
	}
	files, err := r.Discover()
	if err != nil {
		t.Fatal(err)
	}

	s, err := r.begin(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.end)

	for _, f := range files {
		t.Run(strings.TrimSuffix(f.Rel, f.Suffix), func(t *testing.T) {
			ReportOutcome(t, s.runFile(t.Context(), f))
		})
	}
}

// ReportOutcome translates o into calls on t: failures are fatal,
// unsupported and not run tests are skipped.
func ReportOutcome(t TestingT, o Outcome) {
	t.Helper()
	switch {
	case o.Status == StatusUnsupported, o.Status == StatusNotRun:
		t.Skip(o.Reason)
	case o.Status == StatusXFail:
		t.Logf("expected failure: %s", o.Reason)
	case o.Status.Failed():
		for _, res := range o.Results {
			t.Logf("$ %s", res.Command)
			if len(res.Stdout) > 0 {
				t.Logf("[stdout]\n%s", res.Stdout)
			}
			if len(res.Stderr) > 0 {
				t.Logf("[stderr]\n%s", res.Stderr)
			}
			t.Logf("[exit status %d]", res.ExitCode)
		}
		if o.Diff != "" {
			t.Fatalf("%s: %s\n%s", o.Status, o.Reason, o.Diff)
		}
		t.Fatalf("%s: %s", o.Status, o.Reason)
	}
}
