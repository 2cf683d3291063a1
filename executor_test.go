package shtest

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX shell commands")
	}
}

func executors() map[string]Executor {
	return map[string]Executor{
		"shell":  &ShellExecutor{WaitDelay: 200 * time.Millisecond},
		"interp": &InterpExecutor{KillTimeout: 200 * time.Millisecond},
	}
}

func TestExecutor_ExitCodesAndOutput(t *testing.T) {
	skipOnWindows(t)

	tests := []struct {
		script     string
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{"true", 0, "", ""},
		{"false", 1, "", ""},
		{"exit 3", 3, "", ""},
		{"echo out; echo err >&2", 0, "out\n", "err\n"},
		{"printf 'a\\nb\\n' | sort -r", 0, "b\na\n", ""},
		{"echo partial; exit 7", 7, "partial\n", ""},
	}
	for name, e := range executors() {
		for _, tt := range tests {
			t.Run(name+"/"+tt.script, func(t *testing.T) {
				res, err := e.Execute(context.Background(), Command{
					Script: tt.script,
					Dir:    t.TempDir(),
					Env:    os.Environ(),
				})
				if err != nil {
					t.Fatalf("Execute: %v", err)
				}
				if res.ExitCode != tt.wantCode {
					t.Errorf("exit code = %d, want %d", res.ExitCode, tt.wantCode)
				}
				if got := string(res.Stdout); got != tt.wantStdout {
					t.Errorf("stdout = %q, want %q", got, tt.wantStdout)
				}
				if got := string(res.Stderr); got != tt.wantStderr {
					t.Errorf("stderr = %q, want %q", got, tt.wantStderr)
				}
				if res.TimedOut || res.Interrupted {
					t.Errorf("TimedOut=%v Interrupted=%v, want neither", res.TimedOut, res.Interrupted)
				}
			})
		}
	}
}

func TestExecutor_EnvAndDir(t *testing.T) {
	skipOnWindows(t)

	for name, e := range executors() {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			res, err := e.Execute(context.Background(), Command{
				Script: `echo "$SHTEST_VALUE"; pwd`,
				Dir:    dir,
				Env:    []string{"PATH=" + os.Getenv("PATH"), "SHTEST_VALUE=from-env"},
			})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			lines := strings.Split(strings.TrimSpace(string(res.Stdout)), "\n")
			if len(lines) != 2 {
				t.Fatalf("stdout = %q, want two lines", res.Stdout)
			}
			if lines[0] != "from-env" {
				t.Errorf("env value = %q, want from-env", lines[0])
			}
			wantDir, _ := filepath.EvalSymlinks(dir)
			gotDir, _ := filepath.EvalSymlinks(lines[1])
			if gotDir != wantDir {
				t.Errorf("pwd = %q, want %q", gotDir, wantDir)
			}
		})
	}
}

func TestExecutor_Timeout(t *testing.T) {
	skipOnWindows(t)

	for name, e := range executors() {
		t.Run(name, func(t *testing.T) {
			start := time.Now()
			res, err := e.Execute(context.Background(), Command{
				Script:  "echo before; sleep 10; echo after",
				Dir:     t.TempDir(),
				Env:     os.Environ(),
				Timeout: 200 * time.Millisecond,
			})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if !res.TimedOut {
				t.Errorf("TimedOut = false, want true (exit %d)", res.ExitCode)
			}
			if res.Interrupted {
				t.Error("Interrupted = true, want false")
			}
			if res.ExitCode != -1 {
				t.Errorf("exit code = %d, want -1", res.ExitCode)
			}
			if elapsed := time.Since(start); elapsed > 5*time.Second {
				t.Errorf("timeout took %v, process was not killed", elapsed)
			}
			if strings.Contains(string(res.Stdout), "after") {
				t.Errorf("stdout = %q, command ran past its timeout", res.Stdout)
			}
		})
	}
}

func TestExecutor_Interrupted(t *testing.T) {
	skipOnWindows(t)

	for name, e := range executors() {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			time.AfterFunc(100*time.Millisecond, cancel)
			defer cancel()

			res, err := e.Execute(ctx, Command{
				Script: "sleep 10",
				Dir:    t.TempDir(),
				Env:    os.Environ(),
			})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if !res.Interrupted {
				t.Error("Interrupted = false, want true")
			}
			if res.TimedOut {
				t.Error("TimedOut = true, want false")
			}
		})
	}
}

func TestShellExecutor_BackgroundChildKeepsPipes(t *testing.T) {
	skipOnWindows(t)

	e := &ShellExecutor{WaitDelay: 200 * time.Millisecond}
	start := time.Now()
	res, err := e.Execute(context.Background(), Command{
		Script: "sleep 5 & echo started",
		Dir:    t.TempDir(),
		Env:    os.Environ(),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
	if got := string(res.Stdout); got != "started\n" {
		t.Errorf("stdout = %q, want %q", got, "started\n")
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("Execute waited %v for the background child", elapsed)
	}
}

func TestShellExecutor_StartFailure(t *testing.T) {
	e := &ShellExecutor{Shell: filepath.Join(t.TempDir(), "no-such-shell")}
	_, err := e.Execute(context.Background(), Command{Script: "true", Dir: t.TempDir()})
	if err == nil {
		t.Fatal("expected error for missing shell, got nil")
	}
}

func TestInterpExecutor_SyntaxError(t *testing.T) {
	e := &InterpExecutor{}
	res, err := e.Execute(context.Background(), Command{Script: "echo 'unterminated", Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.ExitCode != 2 {
		t.Errorf("exit code = %d, want 2", res.ExitCode)
	}
	if len(res.Stderr) == 0 {
		t.Error("stderr is empty, want the parse error")
	}
}

func TestInterpExecutor_ExitStatusAndBusyLoopTimeout(t *testing.T) {
	e := &InterpExecutor{KillTimeout: 200 * time.Millisecond}
	res, err := e.Execute(context.Background(), Command{Script: "exit 4", Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.ExitCode != 4 {
		t.Errorf("exit code = %d, want 4", res.ExitCode)
	}

	start := time.Now()
	res, err = e.Execute(context.Background(), Command{
		Script:  "while true; do :; done",
		Dir:     t.TempDir(),
		Timeout: 300 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.TimedOut {
		t.Errorf("TimedOut = false, want true (exit %d)", res.ExitCode)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("busy loop ran for %v past its timeout", elapsed)
	}
}
