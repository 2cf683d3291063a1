// Copyright 2024 The testscript Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package shtest runs lit-style shell test files: plain text files whose
comments carry RUN directives, each a shell command executed in order, with
optional output and exit status checks.

To invoke the tests from go test, call [Run]:

	func TestScripts(t *testing.T) {
		shtest.Run(t, shtest.Config{
			TestRoot: "testdata",
			Substitutions: []shtest.Substitution{
				{Name: "prsl", Value: "/usr/local/bin/prsl"},
			},
		})
	}

The package walks the test root for files with a configured suffix (.prsl
by default) and runs each one as a separate subtest. Every other file is
ignored.

# Directives

Directives are recognised anywhere on a line after comment punctuation,
so they fit in any language's comment syntax:

	# RUN: %prsl --check %s
	// RUN: %prsl %s | \
	// RUN:   grep -c node

A trailing backslash continues a command on the next RUN line. The
directives of a file run sequentially; the first one that fails ends the
test unless [Config].KeepGoing is set.

# Checks

Checks attach to the closest RUN directive above them:

	CHECK: text                  stdout contains text
	CHECK-NOT: text              stdout does not contain text
	CHECK-RE: pattern            stdout matches the regexp
	CHECK-EQUAL: line            stdout equals the accumulated lines
	CHECK-STDERR[-NOT|-RE|-EQUAL]: ...
	EXIT: 0 | nonzero | N        expected exit status (default 0)

# Substitutions

Commands are expanded before they run. %name is replaced by the
substitution of that name; %{name} delimits a name explicitly and %%
yields a literal percent sign. Expansion is a single left-to-right pass.
Every file also gets the built-in substitutions:

	%s  path of the test file
	%S  directory of the test file
	%p  same as %S
	%T  temporary directory of the test
	%t  temporary file path inside %T

A placeholder without a substitution marks the test unresolved; none of
its directives run.

# Feature Gates

	XFAIL: *                     the test is expected to fail
	XFAIL: windows               expected to fail when a feature is present
	REQUIRES: feature, ...       unsupported unless every feature is present
	UNSUPPORTED: feature, ...    unsupported when any feature is present

Features come from [Config].Features plus GOOS, GOARCH and, with the
internal shell, "internal-shell".

# Embedded Files

Test files can carry txtar sections. Directives are read from the text
before the first section; the sections are written to %T before the first
directive runs:

	# RUN: cat %T/input.txt
	# CHECK: hello
	-- input.txt --
	hello world

# Configuration

A test root can hold shtest.toml or shtest.yaml, validated against an
embedded JSON schema:

	name = "prsl"
	suffixes = [".prsl"]
	substitutions = ["prsl=/usr/local/bin/prsl"]
	timeout = "30s"

	[variants.nocolor]
	environment = { NO_COLOR = "1" }

A bin/ directory and setup.sh / teardown.sh scripts next to it are picked
up when not configured: bin/ is prepended to PATH (x.sh is callable as x),
setup.sh runs once before the tests and teardown.sh once after.

# Command-line Tool

The shtest command runs test files outside go test:

	shtest testdata/                   # run every test file under testdata
	shtest -j 8 -S prsl=./prsl tests/  # eight files at a time
	shtest --variant nocolor -f json . # JSON report for a variant
	shtest -w tests/                   # re-run tests as files change

Environment variables with the SHTEST_ prefix mirror the flags. The exit
code is 0 when every test passed, 1 on test failures, 2 on configuration
errors, 3 on harness errors and 130 when interrupted.

# Attribution

Inspired by and adapted from the testscript package by Roger Peppe:
https://pkg.go.dev/github.com/rogpeppe/go-internal/testscript
*/
package shtest
