package shtest

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/tools/txtar"
)

// CheckKind selects how a Check compares command output.
type CheckKind int

const (
	CheckContains CheckKind = iota
	CheckNotContains
	CheckEquals
	CheckMatches
)

func (k CheckKind) String() string {
	switch k {
	case CheckContains:
		return "contains"
	case CheckNotContains:
		return "not-contains"
	case CheckEquals:
		return "equals"
	case CheckMatches:
		return "matches"
	}
	return "unknown"
}

// Stream names the captured output a Check inspects.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Check is an output assertion attached to a directive.
type Check struct {
	Kind   CheckKind
	Stream Stream
	Text   string
	Line   int

	re *regexp.Regexp
}

// ExitMode is the exit status a directive is expected to produce.
type ExitMode int

const (
	ExitSuccess ExitMode = iota
	ExitNonZero
	ExitCode
)

// ExitCheck is the exit status expectation of a directive. The zero value
// expects success.
type ExitCheck struct {
	Mode ExitMode
	Code int // for ExitCode
	Line int // 0 when implicit
}

func (e ExitCheck) String() string {
	switch e.Mode {
	case ExitNonZero:
		return "expected failure"
	case ExitCode:
		return fmt.Sprintf("expected exit status %d", e.Code)
	}
	return "expected success"
}

// Directive is one RUN line of a test file.
type Directive struct {
	Command string // raw command before substitution
	Line    int    // line of the first RUN: marker
	Ordinal int    // 1-based execution order
	Checks  []Check
	Exit    ExitCheck
}

func (d *Directive) String() string {
	return fmt.Sprintf("RUN #%d (line %d)", d.Ordinal, d.Line)
}

// Script is the parsed content of a test file.
type Script struct {
	Name        string
	Directives  []*Directive
	XFail       []string // "*" or features under which failure is expected
	Requires    []string
	Unsupported []string
	Files       []txtar.File // embedded files extracted before the run
}

// Markers holds the keywords recognised by the parser. Keywords include
// their trailing colon.
type Markers struct {
	Run         string `toml:"run" yaml:"run" json:"run"`
	Check       string `toml:"check" yaml:"check" json:"check"`
	Exit        string `toml:"exit" yaml:"exit" json:"exit"`
	XFail       string `toml:"xfail" yaml:"xfail" json:"xfail"`
	Requires    string `toml:"requires" yaml:"requires" json:"requires"`
	Unsupported string `toml:"unsupported" yaml:"unsupported" json:"unsupported"`
}

// DefaultMarkers are the lit-compatible keywords.
func DefaultMarkers() Markers {
	return Markers{
		Run:         "RUN:",
		Check:       "CHECK",
		Exit:        "EXIT:",
		XFail:       "XFAIL:",
		Requires:    "REQUIRES:",
		Unsupported: "UNSUPPORTED:",
	}
}

func (m Markers) withDefaults() Markers {
	d := DefaultMarkers()
	if m.Run == "" {
		m.Run = d.Run
	}
	if m.Check == "" {
		m.Check = d.Check
	}
	if m.Exit == "" {
		m.Exit = d.Exit
	}
	if m.XFail == "" {
		m.XFail = d.XFail
	}
	if m.Requires == "" {
		m.Requires = d.Requires
	}
	if m.Unsupported == "" {
		m.Unsupported = d.Unsupported
	}
	return m
}

// commentPunct are the characters allowed before a marker on its line.
const commentPunct = " \t/#;*-!"

// Parse extracts directives and annotations from the content of a test file.
// name is used in error messages only.
func Parse(name string, data []byte, m Markers) (*Script, error) {
	m = m.withDefaults()
	s := &Script{Name: name}

	if bytes.Contains(data, []byte("\n-- ")) || bytes.HasPrefix(data, []byte("-- ")) {
		ar := txtar.Parse(data)
		if len(ar.Files) > 0 {
			data = ar.Comment
			s.Files = ar.Files
		}
	}

	p := &parser{script: s, markers: m}
	text := string(data)
	lineno := 0
	for text != "" {
		var line string
		line, text = getLine(text)
		lineno++
		if err := p.line(lineno, line); err != nil {
			return nil, err
		}
	}
	if p.pending != nil {
		return nil, p.errorf(p.pending.Line, "%s continuation at end of file", m.Run)
	}
	if len(s.Directives) == 0 {
		return nil, &SyntaxError{File: name, Msg: fmt.Sprintf("no %s lines found", m.Run)}
	}
	if len(p.early) > 0 {
		s.Directives[0].Checks = append(p.early, s.Directives[0].Checks...)
	}
	if p.earlyExit != nil {
		s.Directives[0].Exit = *p.earlyExit
	}
	return s, nil
}

type parser struct {
	script  *Script
	markers Markers

	pending   *Directive // RUN line ending in a continuation
	equals    [2]int     // per stream, 1-based index of the open CHECK-EQUAL block
	early     []Check    // checks seen before the first RUN
	earlyExit *ExitCheck
}

func (p *parser) errorf(line int, format string, args ...any) error {
	return &SyntaxError{File: p.script.Name, Line: line, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) line(lineno int, line string) error {
	keyword, rest, ok := p.marker(line)
	if !ok {
		p.equals = [2]int{}
		if p.pending != nil {
			return p.errorf(lineno, "expected %s continuation", p.markers.Run)
		}
		return nil
	}
	if keyword != p.markers.Run && p.pending != nil {
		return p.errorf(lineno, "expected %s continuation, found %s", p.markers.Run, keyword)
	}

	switch keyword {
	case p.markers.Run:
		p.equals = [2]int{}
		return p.run(lineno, rest)
	case p.markers.Exit:
		p.equals = [2]int{}
		return p.exit(lineno, rest)
	case p.markers.XFail:
		p.script.XFail = append(p.script.XFail, splitList(rest)...)
	case p.markers.Requires:
		p.script.Requires = append(p.script.Requires, splitList(rest)...)
	case p.markers.Unsupported:
		p.script.Unsupported = append(p.script.Unsupported, splitList(rest)...)
	default:
		return p.check(lineno, keyword, rest)
	}
	p.equals = [2]int{}
	return nil
}

// marker locates a keyword on the line. Only comment punctuation may precede it.
func (p *parser) marker(line string) (keyword, rest string, ok bool) {
	trimmed := strings.TrimLeft(line, commentPunct)
	for _, kw := range []string{p.markers.Run, p.markers.Exit, p.markers.XFail, p.markers.Requires, p.markers.Unsupported} {
		if strings.HasPrefix(trimmed, kw) {
			return kw, strings.TrimSpace(trimmed[len(kw):]), true
		}
	}
	if strings.HasPrefix(trimmed, p.markers.Check) {
		colon := strings.IndexByte(trimmed, ':')
		if colon < 0 {
			return "", "", false
		}
		kw := trimmed[:colon+1]
		spec := kw[len(p.markers.Check) : len(kw)-1]
		if strings.ContainsAny(kw, " \t") || (spec != "" && spec[0] != '-') {
			return "", "", false
		}
		// Keep a single separating space off the payload but preserve the rest,
		// so CHECK-EQUAL lines can assert indentation.
		payload := strings.TrimPrefix(trimmed[colon+1:], " ")
		return kw, strings.TrimRight(payload, " \t\r"), true
	}
	return "", "", false
}

func (p *parser) run(lineno int, cmd string) error {
	cont := strings.HasSuffix(cmd, `\`)
	if cont {
		cmd = strings.TrimSpace(strings.TrimSuffix(cmd, `\`))
	}

	d := p.pending
	if d == nil {
		if cmd == "" && !cont {
			return p.errorf(lineno, "empty %s line", p.markers.Run)
		}
		d = &Directive{Command: cmd, Line: lineno, Ordinal: len(p.script.Directives) + 1}
		p.script.Directives = append(p.script.Directives, d)
	} else if cmd != "" {
		if d.Command == "" {
			d.Command = cmd
		} else {
			d.Command += " " + cmd
		}
	}

	if cont {
		p.pending = d
	} else {
		p.pending = nil
		if d.Command == "" {
			return p.errorf(d.Line, "empty %s line", p.markers.Run)
		}
	}
	return nil
}

func (p *parser) exit(lineno int, arg string) error {
	var e ExitCheck
	switch strings.ToLower(arg) {
	case "", "0", "success", "zero":
		e = ExitCheck{Mode: ExitSuccess, Line: lineno}
	case "nonzero", "fail", "failure", "!0":
		e = ExitCheck{Mode: ExitNonZero, Line: lineno}
	default:
		code, err := strconv.Atoi(arg)
		if err != nil || code < 0 || code > 255 {
			return p.errorf(lineno, "invalid %s value %q", p.markers.Exit, arg)
		}
		e = ExitCheck{Mode: ExitCode, Code: code, Line: lineno}
	}

	if d := p.current(); d != nil {
		d.Exit = e
	} else {
		p.earlyExit = &e
	}
	return nil
}

// check parses CHECK[-STDERR][-NOT|-EQUAL|-RE]: keywords.
func (p *parser) check(lineno int, keyword, text string) error {
	spec := strings.TrimSuffix(strings.TrimPrefix(keyword, p.markers.Check), ":")
	c := Check{Kind: CheckContains, Stream: Stdout, Text: text, Line: lineno}
	if s, ok := strings.CutPrefix(spec, "-STDERR"); ok {
		c.Stream = Stderr
		spec = s
	}
	switch spec {
	case "":
	case "-NOT":
		c.Kind = CheckNotContains
	case "-EQUAL":
		c.Kind = CheckEquals
	case "-RE":
		c.Kind = CheckMatches
		re, err := regexp.Compile(text)
		if err != nil {
			return p.errorf(lineno, "invalid %s pattern: %v", keyword, err)
		}
		c.re = re
	default:
		return p.errorf(lineno, "unknown check %q", keyword)
	}
	if c.Kind != CheckEquals && c.Text == "" {
		return p.errorf(lineno, "empty %s pattern", keyword)
	}

	checks := &p.early
	if d := p.current(); d != nil {
		checks = &d.Checks
	}
	if c.Kind != CheckEquals {
		*checks = append(*checks, c)
		p.equals = [2]int{}
		return nil
	}
	if i := p.equals[c.Stream]; i > 0 {
		(*checks)[i-1].Text += "\n" + c.Text
		return nil
	}
	*checks = append(*checks, c)
	p.equals[c.Stream] = len(*checks)
	return nil
}

func (p *parser) current() *Directive {
	if n := len(p.script.Directives); n > 0 {
		return p.script.Directives[n-1]
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// getLine returns the first line and the remainder of the input.
func getLine(s string) (line, rest string) {
	i := strings.Index(s, "\n")
	if i < 0 {
		return strings.TrimSuffix(s, "\r"), ""
	}
	return strings.TrimSuffix(s[:i], "\r"), s[i+1:]
}
