package shtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"time"
)

// DefaultTimeout bounds a single directive when no timeout is configured.
const DefaultTimeout = 5 * time.Minute

// Command is a fully expanded directive ready to run.
type Command struct {
	Script  string
	Dir     string
	Env     []string
	Timeout time.Duration // <= 0 selects DefaultTimeout
}

// Result holds what a directive produced.
type Result struct {
	Directive   *Directive
	Command     string // expanded command line
	ExitCode    int    // -1 when the process did not exit on its own
	Stdout      []byte
	Stderr      []byte
	Duration    time.Duration
	TimedOut    bool
	Interrupted bool
}

// Executor runs commands. Implementations must be safe for concurrent use.
type Executor interface {
	Execute(ctx context.Context, cmd Command) (Result, error)
}

// ShellExecutor runs commands through an external shell, the way lit's
// ShTest format does with execute_external enabled.
type ShellExecutor struct {
	// Shell is the interpreter invoked with "-c". Empty selects /bin/sh,
	// or cmd.exe with "/c" on Windows.
	Shell string

	// WaitDelay bounds how long output pipes are drained after the process
	// group has been killed.
	WaitDelay time.Duration
}

func (e *ShellExecutor) shellArgs(script string) (string, []string) {
	if e.Shell != "" {
		return e.Shell, []string{"-c", script}
	}
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/c", script}
	}
	return "/bin/sh", []string{"-c", script}
}

// Execute runs cmd.Script and captures its output. Exit statuses are part
// of the Result; the error is reserved for failures to start the process.
func (e *ShellExecutor) Execute(ctx context.Context, c Command) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeoutOrDefault(c.Timeout))
	defer cancel()

	name, args := e.shellArgs(c.Script)
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	configureCommandForCancellation(cmd)
	cmd.Cancel = func() error {
		terminateCommandOnCancel(cmd)
		return nil
	}
	cmd.WaitDelay = e.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 2 * time.Second
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("start %s: %w", name, err)
	}
	err := cmd.Wait()

	res := Result{
		Command:  c.Script,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}
	if err != nil && runCtx.Err() != nil {
		res.ExitCode = -1
		if ctx.Err() != nil {
			res.Interrupted = true
		} else {
			res.TimedOut = true
		}
		return res, nil
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	case errors.Is(err, exec.ErrWaitDelay):
		// The shell exited but a backgrounded child kept the pipes open.
		res.ExitCode = cmd.ProcessState.ExitCode()
	default:
		return res, fmt.Errorf("wait %s: %w", name, err)
	}
	return res, nil
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}
