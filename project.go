package shtest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// project holds the per-run resources derived from the project conventions.
type project struct {
	pathDirs []string // prepended to PATH for every directive
	cleanup  func()
}

// prepareBinDir makes the executables of binDir reachable from directives.
// Scripts named tool.sh are exposed as tool through generated wrappers, so
// the returned PATH entries are the wrapper directory followed by binDir.
// cleanup removes the wrappers.
func prepareBinDir(binDir string) (pathDirs []string, cleanup func(), err error) {
	noop := func() {}
	if binDir == "" {
		return nil, noop, nil
	}

	entries, err := os.ReadDir(binDir)
	if err != nil {
		return nil, noop, fmt.Errorf("read bin dir: %w", err)
	}

	wrappers, err := os.MkdirTemp("", "shtest-bin-*")
	if err != nil {
		return nil, noop, fmt.Errorf("create wrapper dir: %w", err)
	}
	cleanup = func() { os.RemoveAll(wrappers) }

	for _, entry := range entries {
		tool, ok := strings.CutSuffix(entry.Name(), ".sh")
		if !ok || tool == "" || entry.IsDir() {
			continue
		}
		script := fmt.Sprintf("#!/bin/sh\nexec /bin/sh %q \"$@\"\n", filepath.Join(binDir, entry.Name()))
		if err := os.WriteFile(filepath.Join(wrappers, tool), []byte(script), 0755); err != nil {
			cleanup()
			return nil, noop, fmt.Errorf("write wrapper %s: %w", tool, err)
		}
	}
	return []string{wrappers, binDir}, cleanup, nil
}

// prepareProject prepares bin/ wrappers and runs the global setup script.
// The returned project's cleanup runs the teardown script (best effort)
// and removes temporary directories.
func prepareProject(ctx context.Context, cfg Config, env []string, logger *slog.Logger) (*project, error) {
	pathDirs, binCleanup, err := prepareBinDir(cfg.BinDir)
	if err != nil {
		return nil, fmt.Errorf("prepare bin dir: %w", err)
	}

	if cfg.Setup != "" {
		logger.Debug("running global setup", "script", cfg.Setup)
		if err := runGlobalScript(ctx, cfg.TestRoot, cfg.Setup, env); err != nil {
			binCleanup()
			return nil, fmt.Errorf("global setup failed: %w", err)
		}
	}

	teardown := cfg.Teardown
	root := cfg.TestRoot
	return &project{
		pathDirs: pathDirs,
		cleanup: func() {
			if teardown != "" {
				logger.Debug("running global teardown", "script", teardown)
				// Teardown runs even when the run was interrupted.
				if err := runGlobalScript(context.Background(), root, teardown, env); err != nil {
					logger.Warn("global teardown failed", "script", teardown, "error", err)
				}
			}
			binCleanup()
		},
	}, nil
}

// runGlobalScript runs a shell script in the project directory.
func runGlobalScript(ctx context.Context, dir, scriptPath string, env []string) error {
	cmd := exec.CommandContext(ctx, "/bin/sh", scriptPath)
	cmd.Dir = dir
	cmd.Env = env
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w\n%s", filepath.Base(scriptPath), err, output)
	}
	return nil
}
