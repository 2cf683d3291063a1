package shtest

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func mustParse(t *testing.T, src string) *Script {
	t.Helper()
	s, err := Parse("test.prsl", []byte(src), Markers{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return s
}

func commands(s *Script) []string {
	var out []string
	for _, d := range s.Directives {
		out = append(out, d.Command)
	}
	return out
}

func TestParse_Directives(t *testing.T) {
	src := `# Leading prose is ignored.
# RUN: %prsl --check %s
// RUN: echo two
; RUN: echo three
  RUN: echo four
echo RUN: not a directive
`
	s := mustParse(t, src)
	want := []string{"%prsl --check %s", "echo two", "echo three", "echo four"}
	if diff := cmp.Diff(want, commands(s)); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
	for i, d := range s.Directives {
		if d.Ordinal != i+1 {
			t.Errorf("directive %d ordinal = %d", i, d.Ordinal)
		}
	}
	if s.Directives[0].Line != 2 || s.Directives[3].Line != 5 {
		t.Errorf("lines = %d, %d; want 2, 5", s.Directives[0].Line, s.Directives[3].Line)
	}
	if got := s.Directives[1].String(); got != "RUN #2 (line 3)" {
		t.Errorf("String() = %q", got)
	}
}

func TestParse_Continuation(t *testing.T) {
	src := "# RUN: printf a \\\n#RUN:   b \\\n# RUN: c\n# RUN: echo next\n"
	s := mustParse(t, src)
	want := []string{"printf a b c", "echo next"}
	if diff := cmp.Diff(want, commands(s)); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
	if s.Directives[0].Line != 1 || s.Directives[1].Line != 4 {
		t.Errorf("lines = %d, %d; want 1, 4", s.Directives[0].Line, s.Directives[1].Line)
	}
}

func TestParse_Checks(t *testing.T) {
	src := `# CHECK: early
# RUN: cmd one
# CHECK: hello
# CHECK-NOT: goodbye
# CHECK-RE: ^h.llo$
# CHECK-STDERR: warn
# CHECK-STDERR-NOT: error
# EXIT: nonzero
# RUN: cmd two
# CHECK-EQUAL: line 1
# CHECK-EQUAL:   indented
# CHECK-EQUAL:
# CHECK-STDERR-EQUAL: err
# EXIT: 3
`
	s := mustParse(t, src)
	if len(s.Directives) != 2 {
		t.Fatalf("got %d directives, want 2", len(s.Directives))
	}

	type check struct {
		Kind   CheckKind
		Stream Stream
		Text   string
	}
	flatten := func(cs []Check) []check {
		var out []check
		for _, c := range cs {
			out = append(out, check{c.Kind, c.Stream, c.Text})
		}
		return out
	}

	want1 := []check{
		{CheckContains, Stdout, "early"},
		{CheckContains, Stdout, "hello"},
		{CheckNotContains, Stdout, "goodbye"},
		{CheckMatches, Stdout, "^h.llo$"},
		{CheckContains, Stderr, "warn"},
		{CheckNotContains, Stderr, "error"},
	}
	if diff := cmp.Diff(want1, flatten(s.Directives[0].Checks)); diff != "" {
		t.Errorf("directive 1 checks mismatch (-want +got):\n%s", diff)
	}
	if s.Directives[0].Exit.Mode != ExitNonZero {
		t.Errorf("directive 1 exit = %v, want nonzero", s.Directives[0].Exit)
	}

	want2 := []check{
		{CheckEquals, Stdout, "line 1\n  indented\n"},
		{CheckEquals, Stderr, "err"},
	}
	if diff := cmp.Diff(want2, flatten(s.Directives[1].Checks)); diff != "" {
		t.Errorf("directive 2 checks mismatch (-want +got):\n%s", diff)
	}
	wantExit := ExitCheck{Mode: ExitCode, Code: 3, Line: 14}
	if diff := cmp.Diff(wantExit, s.Directives[1].Exit); diff != "" {
		t.Errorf("directive 2 exit mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_CheckProseIgnored(t *testing.T) {
	s := mustParse(t, "# RUN: true\n# CHECKED: this is prose\n# CHECKS: more prose\n")
	if n := len(s.Directives[0].Checks); n != 0 {
		t.Errorf("got %d checks, want 0", n)
	}
}

func TestParse_Annotations(t *testing.T) {
	src := `# XFAIL: windows, darwin
# REQUIRES: clang, shell
# UNSUPPORTED: arm64
# RUN: true
`
	s := mustParse(t, src)
	if diff := cmp.Diff([]string{"windows", "darwin"}, s.XFail); diff != "" {
		t.Errorf("XFail mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"clang", "shell"}, s.Requires); diff != "" {
		t.Errorf("Requires mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"arm64"}, s.Unsupported); diff != "" {
		t.Errorf("Unsupported mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Txtar(t *testing.T) {
	src := `# RUN: cat %T/input.txt
# CHECK: hello
-- input.txt --
hello
# RUN: not a directive, file content
-- sub/data.json --
{}
`
	s := mustParse(t, src)
	if diff := cmp.Diff([]string{"cat %T/input.txt"}, commands(s)); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
	var names []string
	for _, f := range s.Files {
		names = append(names, f.Name)
	}
	if diff := cmp.Diff([]string{"input.txt", "sub/data.json"}, names); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
	if got := string(s.Files[0].Data); got != "hello\n# RUN: not a directive, file content\n" {
		t.Errorf("input.txt = %q", got)
	}
}

func TestParse_CustomMarkers(t *testing.T) {
	m := Markers{Run: "EXEC:", Check: "EXPECT"}
	s, err := Parse("custom", []byte("# EXEC: echo hi\n# EXPECT: hi\n# RUN: ignored\n"), m)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"echo hi"}, commands(s)); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
	if len(s.Directives[0].Checks) != 1 || s.Directives[0].Checks[0].Text != "hi" {
		t.Errorf("checks = %+v", s.Directives[0].Checks)
	}
}

func TestParse_CRLF(t *testing.T) {
	s := mustParse(t, "# RUN: echo a\r\n# CHECK: a\r\n")
	if got := s.Directives[0].Command; got != "echo a" {
		t.Errorf("command = %q, want %q", got, "echo a")
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
		msg  string
	}{
		{"no directives", "just prose\n", 0, "no RUN: lines found"},
		{"empty file", "", 0, "no RUN: lines found"},
		{"dangling continuation", "# RUN: echo \\\n", 1, "continuation at end of file"},
		{"broken continuation", "# RUN: echo \\\nprose\n", 2, "expected RUN: continuation"},
		{"bad exit", "# RUN: true\n# EXIT: maybe\n", 2, "invalid EXIT: value"},
		{"exit out of range", "# RUN: true\n# EXIT: 300\n", 2, "invalid EXIT: value"},
		{"bad regexp", "# RUN: true\n# CHECK-RE: (\n", 2, "invalid CHECK-RE: pattern"},
		{"unknown check", "# RUN: true\n# CHECK-MAYBE: x\n", 2, "unknown check"},
		{"empty pattern", "# RUN: true\n# CHECK:\n", 2, "empty CHECK: pattern"},
		{"empty run", "# RUN:\n", 1, "empty RUN: line"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("bad.prsl", []byte(tt.src), Markers{})
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, ErrMalformedTest) {
				t.Errorf("error %v does not wrap ErrMalformedTest", err)
			}
			var se *SyntaxError
			if !errors.As(err, &se) {
				t.Fatalf("error %T is not a *SyntaxError", err)
			}
			if se.Line != tt.line {
				t.Errorf("line = %d, want %d", se.Line, tt.line)
			}
			if !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("error = %q, want it to contain %q", err, tt.msg)
			}
		})
	}
}

func TestParse_Deterministic(t *testing.T) {
	src := "# RUN: a\n# CHECK: x\n# RUN: b \\\n# RUN: c\n# EXIT: 1\n"
	first := mustParse(t, src)
	second := mustParse(t, src)
	if diff := cmp.Diff(first, second, cmpopts.IgnoreUnexported(Check{})); diff != "" {
		t.Errorf("parses differ (-first +second):\n%s", diff)
	}
}

func TestParse_EqualBlocksPerStream(t *testing.T) {
	src := "# RUN: cmd\n# CHECK-EQUAL: a\n# CHECK-STDERR-EQUAL: e\n# CHECK-EQUAL: b\n# CHECK-STDERR-EQUAL: f\n"
	s := mustParse(t, src)

	type check struct {
		Kind   CheckKind
		Stream Stream
		Text   string
	}
	var got []check
	for _, c := range s.Directives[0].Checks {
		got = append(got, check{c.Kind, c.Stream, c.Text})
	}
	want := []check{
		{CheckEquals, Stdout, "a\nb"},
		{CheckEquals, Stderr, "e\nf"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("checks mismatch (-want +got):\n%s", diff)
	}
}
