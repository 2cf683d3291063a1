package shtest

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ANSI color codes.
const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	cyan   = "\033[36m"
)

// ColorEnabled reports whether output to f should be colored: f must be a
// terminal and NO_COLOR must be unset.
func ColorEnabled(f *os.File) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Printer renders progress lines and the final summary as text.
type Printer struct {
	out     io.Writer
	color   bool
	verbose bool
	quiet   bool
	total   int
	done    int
	title   cases.Caser
}

// NewPrinter returns a Printer writing to out.
func NewPrinter(out io.Writer, color bool) *Printer {
	return &Printer{out: out, color: color, title: cases.Title(language.English)}
}

// SetVerbose prints directive output and diffs for failing tests.
func (p *Printer) SetVerbose(v bool) { p.verbose = v }

// SetQuiet suppresses progress lines for passing tests.
func (p *Printer) SetQuiet(q bool) { p.quiet = q }

// SetTotal sets the denominator of progress lines and restarts the count.
// With a zero total, progress lines carry no count.
func (p *Printer) SetTotal(n int) {
	p.total = n
	p.done = 0
}

func (p *Printer) printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}

func (p *Printer) paint(c, s string) string {
	if !p.color {
		return s
	}
	return c + s + reset
}

func statusLabel(s Status) string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusFail:
		return "FAIL"
	case StatusUnresolved:
		return "UNRESOLVED"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusInternalError:
		return "ERROR"
	case StatusNotRun:
		return "NOTRUN"
	case StatusUnsupported:
		return "UNSUPPORTED"
	case StatusXFail:
		return "XFAIL"
	case StatusXPass:
		return "XPASS"
	}
	return strings.ToUpper(s.String())
}

func statusColor(s Status) string {
	switch {
	case s.Failed():
		return red
	case s == StatusPass || s == StatusXFail:
		return green
	}
	return yellow
}

// Progress prints one line per completed test, e.g.
// "PASS: Prsl :: sub/a.prsl (1 of 3)".
func (p *Printer) Progress(name string, o Outcome) {
	p.done++
	if p.quiet && !o.Status.Failed() {
		return
	}
	label := p.paint(statusColor(o.Status), statusLabel(o.Status))
	if p.total > 0 {
		p.printf("%s: %s :: %s (%d of %d)\n", label, name, o.File.Rel, p.done, p.total)
	} else {
		p.printf("%s: %s :: %s\n", label, name, o.File.Rel)
	}
	if o.Status.Failed() && p.verbose {
		p.details(o)
	}
}

func (p *Printer) details(o Outcome) {
	sep := strings.Repeat("*", 20)
	p.printf("%s TEST '%s' %s\n", sep, o.File.Rel, statusLabel(o.Status))
	for _, res := range o.Results {
		ordinal := 0
		if res.Directive != nil {
			ordinal = res.Directive.Ordinal
		}
		p.printf("%s\n", p.paint(cyan, fmt.Sprintf("$ %s", res.Command)))
		p.printf("# RUN #%d exit status %d (%s)\n", ordinal, res.ExitCode, res.Duration.Round(time.Millisecond))
		if len(res.Stdout) > 0 {
			p.printf("# stdout:\n%s", ensureNewline(string(res.Stdout)))
		}
		if len(res.Stderr) > 0 {
			p.printf("# stderr:\n%s", ensureNewline(string(res.Stderr)))
		}
	}
	if o.Reason != "" {
		p.printf("%s\n", p.paint(red, o.Reason))
	}
	if o.Diff != "" {
		p.printf("%s", ensureNewline(o.Diff))
	}
	p.printf("%s\n", strings.Repeat("*", 40+len(o.File.Rel)))
}

// Summary prints the failing tests and the counts.
func (p *Printer) Summary(r *Report) {
	groups := []struct {
		title  string
		status Status
	}{
		{"unexpectedly passed tests", StatusXPass},
		{"timed out tests", StatusTimeout},
		{"unresolved tests", StatusUnresolved},
		{"harness errors", StatusInternalError},
		{"failed tests", StatusFail},
	}
	for _, g := range groups {
		var list []Outcome
		for _, o := range r.Outcomes {
			if o.Status == g.status {
				list = append(list, o)
			}
		}
		if len(list) == 0 {
			continue
		}
		p.printf("\n%s\n", p.paint(bold, fmt.Sprintf("%s (%d):", p.title.String(g.title), len(list))))
		for _, o := range list {
			p.printf("  %s :: %s\n", r.Name, o.File.Rel)
			if o.Reason != "" {
				p.printf("    %s\n", p.paint(dim, o.Reason))
			}
		}
	}

	p.printf("\nTesting Time: %.2fs\n", r.Duration.Seconds())
	if r.Interrupted {
		p.printf("%s\n", p.paint(yellow, "Run interrupted"))
	}
	rows := []struct {
		label string
		n     int
		color string
	}{
		{"passed", r.Counts.Passed, green},
		{"expected failures", r.Counts.ExpectedFailures, green},
		{"unsupported", r.Counts.Unsupported, yellow},
		{"not run", r.Counts.NotRun, yellow},
		{"failed", r.Counts.Failed, red},
		{"timed out", r.Counts.TimedOut, red},
		{"internal errors", r.Counts.InternalErrors, red},
	}
	p.printf("  %-18s %d\n", p.title.String("total")+":", r.Counts.Total)
	for _, row := range rows {
		if row.n == 0 {
			continue
		}
		p.printf("  %-18s %s\n", p.title.String(row.label)+":", p.paint(row.color, fmt.Sprint(row.n)))
	}
}

func ensureNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
