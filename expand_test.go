package shtest

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testTable() *Substitutions {
	return NewSubstitutions(
		Substitution{Name: "prsl", Value: "/usr/bin/prsl"},
		Substitution{Name: "s", Value: "/tests/a.prsl"},
		Substitution{Name: "T", Value: "/work/a.prsl.d"},
		Substitution{Name: "pct", Value: "100%prsl"},
	)
}

func TestExpand(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"no placeholder", "echo hello", "echo hello"},
		{"simple", "%prsl --check %s", "/usr/bin/prsl --check /tests/a.prsl"},
		{"braced", "%{prsl}x %{s}", "/usr/bin/prslx /tests/a.prsl"},
		{"literal percent", "printf '%%d' 5", "printf '%d' 5"},
		{"percent not followed by ident", "echo 50% done %", "echo 50% done %"},
		{"percent digit", "date +%1", "date +%1"},
		{"adjacent", "%T/out", "/work/a.prsl.d/out"},
		{"values not rescanned", "%pct", "100%prsl"},
		{"double percent then name", "%%prsl", "%prsl"},
	}
	table := testTable()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Expand(tt.raw, table)
			if err != nil {
				t.Fatalf("Expand(%q): %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("Expand(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestExpand_MaximalName(t *testing.T) {
	// %prslx is a different name than %prsl, not %prsl followed by x.
	_, err := Expand("%prslx", testTable())
	var ue *UnresolvedSubstitutionError
	if !errors.As(err, &ue) {
		t.Fatalf("error = %v, want *UnresolvedSubstitutionError", err)
	}
	if ue.Name != "prslx" {
		t.Errorf("Name = %q, want prslx", ue.Name)
	}
	if ue.Suggestion != "prsl" {
		t.Errorf("Suggestion = %q, want prsl", ue.Suggestion)
	}
}

func TestExpand_Unresolved(t *testing.T) {
	_, err := Expand("%prsl %missing %alsomissing", testTable())
	var ue *UnresolvedSubstitutionError
	if !errors.As(err, &ue) {
		t.Fatalf("error = %v, want *UnresolvedSubstitutionError", err)
	}
	if ue.Name != "missing" {
		t.Errorf("first unresolved = %q, want missing", ue.Name)
	}
}

func TestExpand_Malformed(t *testing.T) {
	for _, raw := range []string{"%{prsl", "%{}", "%{a b}"} {
		if got, err := Expand(raw, testTable()); err == nil {
			t.Errorf("Expand(%q) = %q, want error", raw, got)
		}
	}
}

func TestExpand_Idempotent(t *testing.T) {
	// Expanding a string without placeholders returns it unchanged, so an
	// expanded command whose values hold no sigils is a fixed point.
	table := NewSubstitutions(Substitution{Name: "a", Value: "x y"})
	once, err := Expand("run %a", table)
	if err != nil {
		t.Fatal(err)
	}
	twice, err := Expand(once, table)
	if err != nil {
		t.Fatal(err)
	}
	if once != twice {
		t.Errorf("second expansion changed %q to %q", once, twice)
	}
}

func TestExpand_EscapeIsNotIdempotent(t *testing.T) {
	table := NewSubstitutions(Substitution{Name: "s", Value: "x"})
	once, err := Expand("printf '%%s'", table)
	if err != nil {
		t.Fatal(err)
	}
	if once != "printf '%s'" {
		t.Fatalf("first expansion = %q", once)
	}
	twice, err := Expand(once, table)
	if err != nil {
		t.Fatal(err)
	}
	if twice != "printf 'x'" {
		t.Errorf("second expansion = %q, want the unescaped %%s to resolve", twice)
	}
}

func TestPlaceholders(t *testing.T) {
	got := Placeholders("%prsl %{s} %% %prsl 5% %T/x")
	if diff := cmp.Diff([]string{"prsl", "s", "T"}, got); diff != "" {
		t.Errorf("Placeholders mismatch (-want +got):\n%s", diff)
	}
	if got := Placeholders("no sigils"); len(got) != 0 {
		t.Errorf("Placeholders = %v, want none", got)
	}
}
