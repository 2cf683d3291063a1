package shtest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 200 * time.Millisecond

type changeKind int

const (
	changeIgnored changeKind = iota
	changeTest
	changeProject
	changeConfig
)

// Watch runs the tests under paths once, then again whenever files change,
// until ctx is cancelled. Changed test files are re-run on their own;
// changes to the bin directory or the setup and teardown scripts re-run
// everything. fn receives every report.
func (r *Runner) Watch(ctx context.Context, paths []string, fn func(*Report)) error {
	if len(paths) == 0 {
		paths = []string{r.cfg.TestRoot}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	for _, p := range paths {
		if err := r.watchTree(w, p); err != nil {
			return err
		}
	}
	if r.cfg.BinDir != "" {
		if err := w.Add(r.cfg.BinDir); err != nil {
			r.logger.Warn("cannot watch bin dir", "path", r.cfg.BinDir, "error", err)
		}
	}

	run := func(files []TestFile) {
		if len(files) == 0 {
			return
		}
		rep, err := r.RunFiles(ctx, files)
		if err != nil {
			r.logger.Error("run failed", "error", err)
			return
		}
		fn(rep)
	}

	all, err := r.Discover(paths...)
	if err != nil && !errors.Is(err, ErrNoTests) {
		return err
	}
	run(all)

	pending := make(map[string]bool)
	full := false
	var timer <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("watch error", "error", err)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) && isDir(ev.Name) {
				if err := r.watchTree(w, ev.Name); err != nil {
					r.logger.Warn("cannot watch new directory", "path", ev.Name, "error", err)
				}
				continue
			}
			switch r.classify(ev.Name) {
			case changeTest:
				pending[ev.Name] = true
			case changeProject:
				full = true
			case changeConfig:
				r.logger.Warn("configuration changed; restart to apply it", "path", ev.Name)
				continue
			default:
				continue
			}
			timer = time.After(watchDebounce)

		case <-timer:
			timer = nil
			files, err := r.Discover(paths...)
			if err != nil {
				if !errors.Is(err, ErrNoTests) {
					r.logger.Warn("discovery failed", "error", err)
				}
				pending, full = make(map[string]bool), false
				continue
			}
			if !full {
				files = slices.DeleteFunc(files, func(f TestFile) bool { return !pending[f.Path] })
			}
			pending, full = make(map[string]bool), false
			run(files)
		}
	}
}

// watchTree adds root and its subdirectories to w.
func (r *Runner) watchTree(w *fsnotify.Watcher, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	if !isDir(abs) {
		return w.Add(filepath.Dir(abs))
	}
	return filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != abs && r.skipDir(path, d.Name()) {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (r *Runner) classify(path string) changeKind {
	if slices.Contains(ConfigFileNames, filepath.Base(path)) {
		return changeConfig
	}
	if path == r.cfg.Setup || path == r.cfg.Teardown {
		return changeProject
	}
	if r.cfg.BinDir != "" && strings.HasPrefix(path, r.cfg.BinDir+string(os.PathSeparator)) {
		return changeProject
	}
	if _, ok := r.matchSuffix(path); ok {
		return changeTest
	}
	return changeIgnored
}
