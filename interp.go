package shtest

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// InterpExecutor runs commands with an in-process POSIX shell interpreter.
// External programs are still started as child processes, but no system
// shell is required.
type InterpExecutor struct {
	// KillTimeout is how long a child gets between interrupt and kill
	// once the command is cancelled.
	KillTimeout time.Duration
}

// Execute parses and runs c.Script.
func (e *InterpExecutor) Execute(ctx context.Context, c Command) (Result, error) {
	file, err := syntax.NewParser().Parse(strings.NewReader(c.Script), "")
	if err != nil {
		// A syntax error is the test's problem, like a shell reporting it would be.
		return Result{
			Command:  c.Script,
			ExitCode: 2,
			Stderr:   []byte(err.Error() + "\n"),
		}, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, timeoutOrDefault(c.Timeout))
	defer cancel()

	killTimeout := e.KillTimeout
	if killTimeout <= 0 {
		killTimeout = 2 * time.Second
	}

	var stdout, stderr bytes.Buffer
	runner, err := interp.New(
		interp.StdIO(nil, &stdout, &stderr),
		interp.Dir(c.Dir),
		interp.Env(expand.ListEnviron(c.Env...)),
		interp.ExecHandlers(func(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
			return interp.DefaultExecHandler(killTimeout)
		}),
	)
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("create interpreter: %w", err)
	}

	start := time.Now()
	err = runner.Run(runCtx, file)
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

	if err != nil {
		status, ok := interp.IsExitStatus(err)
		if !ok {
			return res, fmt.Errorf("interpret: %w", err)
		}
		res.ExitCode = int(status)
	}
	return res, nil
}
