package shtest

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Verdict is the judgement of one directive's Result.
type Verdict struct {
	OK     bool
	Reason string
	Diff   string // unified diff for failed equality checks
}

// Verify judges res against the exit and output expectations of its directive.
// The exit expectation is evaluated first; output checks follow in file order.
func Verify(res Result) Verdict {
	d := res.Directive
	if d == nil {
		d = &Directive{}
	}

	if reason, ok := verifyExit(d.Exit, res.ExitCode); !ok {
		return Verdict{Reason: fmt.Sprintf("%s: %s", d, reason)}
	}

	for _, c := range d.Checks {
		out := string(res.Stdout)
		if c.Stream == Stderr {
			out = string(res.Stderr)
		}
		if v := verifyCheck(c, out); !v.OK {
			v.Reason = fmt.Sprintf("%s: %s", d, v.Reason)
			return v
		}
	}
	return Verdict{OK: true}
}

func verifyExit(e ExitCheck, code int) (string, bool) {
	switch e.Mode {
	case ExitNonZero:
		if code != 0 {
			return "", true
		}
	case ExitCode:
		if code == e.Code {
			return "", true
		}
	default:
		if code == 0 {
			return "", true
		}
	}
	return fmt.Sprintf("exit status %d, %s", code, e), false
}

func verifyCheck(c Check, out string) Verdict {
	where := fmt.Sprintf("line %d", c.Line)
	switch c.Kind {
	case CheckContains:
		if strings.Contains(out, c.Text) {
			return Verdict{OK: true}
		}
		return Verdict{Reason: fmt.Sprintf("%s does not contain %q (%s)", c.Stream, c.Text, where)}
	case CheckNotContains:
		if !strings.Contains(out, c.Text) {
			return Verdict{OK: true}
		}
		return Verdict{Reason: fmt.Sprintf("%s unexpectedly contains %q (%s)", c.Stream, c.Text, where)}
	case CheckMatches:
		if c.re != nil && c.re.MatchString(out) {
			return Verdict{OK: true}
		}
		return Verdict{Reason: fmt.Sprintf("%s does not match %q (%s)", c.Stream, c.Text, where)}
	case CheckEquals:
		got := strings.TrimRight(out, "\r\n")
		want := strings.TrimRight(c.Text, "\r\n")
		if got == want {
			return Verdict{OK: true}
		}
		return Verdict{
			Reason: fmt.Sprintf("%s differs from expected text (%s)", c.Stream, where),
			Diff:   unifiedDiff(want, got, c.Stream.String()),
		}
	}
	return Verdict{Reason: fmt.Sprintf("unknown check kind %d (%s)", c.Kind, where)}
}

func unifiedDiff(want, got, stream string) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(want + "\n"),
		B:        difflib.SplitLines(got + "\n"),
		FromFile: "expected",
		ToFile:   stream,
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return diff
}
