package shtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Runner discovers and runs test files. A Runner is safe for concurrent
// use; its configuration is fixed at construction.
type Runner struct {
	cfg      Config
	subs     *Substitutions
	exec     Executor
	logger   *slog.Logger
	filter   *regexp.Regexp
	features map[string]bool
	progress func(Outcome)
	retain   bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger used for diagnostics. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithExecutor replaces the executor selected by Config.Shell.
func WithExecutor(e Executor) Option {
	return func(r *Runner) { r.exec = e }
}

// WithProgress registers fn to be called as each test file completes.
// Calls are serialised but arrive in completion order.
func WithProgress(fn func(Outcome)) Option {
	return func(r *Runner) { r.progress = fn }
}

// WithRetainResults keeps directive results for passing tests too. Failing
// tests always keep them.
func WithRetainResults(retain bool) Option {
	return func(r *Runner) { r.retain = retain }
}

// NewRunner validates cfg and returns a Runner for it.
func NewRunner(cfg Config, opts ...Option) (*Runner, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	root, err := filepath.Abs(cfg.TestRoot)
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("test root: %w", err)}
	}
	cfg.TestRoot = root

	r := &Runner{
		cfg:      cfg,
		subs:     NewSubstitutions(cfg.Substitutions...),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		features: make(map[string]bool),
	}
	if cfg.Filter != "" {
		r.filter = regexp.MustCompile(cfg.Filter)
	}
	for _, f := range cfg.Features {
		r.features[f] = true
	}
	r.features[runtime.GOOS] = true
	r.features[runtime.GOARCH] = true

	switch cfg.Shell {
	case ShellInternal:
		r.exec = &InterpExecutor{}
		r.features["internal-shell"] = true
	default:
		r.exec = &ShellExecutor{Shell: cfg.Shell}
	}

	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Config returns the effective configuration.
func (r *Runner) Config() Config { return r.cfg.clone() }

// Substitutions returns the run-wide substitution table.
func (r *Runner) Substitutions() *Substitutions { return r.subs }

// Discover returns the test files under paths, or under the test root when
// no path is given. Directories are walked recursively in lexical order;
// files are accepted when their extension is a configured suffix.
func (r *Runner) Discover(paths ...string) ([]TestFile, error) {
	if len(paths) == 0 {
		paths = []string{r.cfg.TestRoot}
	}

	abs := make([]string, len(paths))
	dirs := make([]string, len(paths))
	for i, p := range paths {
		a, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		info, err := os.Stat(a)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", p, err)
		}
		abs[i], dirs[i] = a, a
		if !info.IsDir() {
			if _, ok := r.matchSuffix(a); !ok {
				return nil, fmt.Errorf("%s does not match suffixes %s", p, strings.Join(r.cfg.Suffixes, ", "))
			}
			dirs[i] = filepath.Dir(a)
		}
	}
	// Files outside the test root are named relative to the closest
	// directory holding every argument.
	common := commonDir(dirs)

	var files []TestFile
	seen := make(map[string]bool)
	rels := make(map[string]bool)
	add := func(path string) {
		if seen[path] {
			return
		}
		suffix, ok := r.matchSuffix(path)
		if !ok {
			return
		}
		rel := filepath.ToSlash(r.relPath(path, common))
		if r.filter != nil && !r.filter.MatchString(rel) {
			return
		}
		if rels[rel] {
			rel = filepath.ToSlash(path)
		}
		seen[path], rels[rel] = true, true
		files = append(files, TestFile{Path: path, Rel: rel, Suffix: suffix, Index: len(files)})
	}

	for i, a := range abs {
		if dirs[i] != a {
			add(a)
			continue
		}
		err := filepath.WalkDir(a, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != a && r.skipDir(path, d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			add(path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", paths[i], err)
		}
	}

	if len(files) == 0 {
		return nil, ErrNoTests
	}
	return files, nil
}

func (r *Runner) matchSuffix(path string) (string, bool) {
	for _, s := range r.cfg.Suffixes {
		if strings.HasSuffix(path, s) {
			return s, true
		}
	}
	return "", false
}

func (r *Runner) skipDir(path, name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	return r.cfg.BinDir != "" && path == r.cfg.BinDir
}

// relPath names a file relative to the test root when it lives under it,
// otherwise relative to fallback.
func (r *Runner) relPath(path, fallback string) string {
	for _, base := range []string{r.cfg.TestRoot, fallback} {
		if rel, err := filepath.Rel(base, path); err == nil && filepath.IsLocal(rel) {
			return rel
		}
	}
	return filepath.Base(path)
}

// commonDir returns the deepest directory containing every dir.
func commonDir(dirs []string) string {
	common := dirs[0]
	for _, d := range dirs[1:] {
		for !within(common, d) {
			parent := filepath.Dir(common)
			if parent == common {
				break
			}
			common = parent
		}
	}
	return common
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && (rel == "." || filepath.IsLocal(rel))
}

// Run discovers test files under paths and runs them.
func (r *Runner) Run(ctx context.Context, paths ...string) (*Report, error) {
	files, err := r.Discover(paths...)
	if err != nil {
		return nil, err
	}
	return r.RunFiles(ctx, files)
}

// RunFiles runs files on a bounded pool of workers and returns their
// outcomes in discovery order. Per-file failures never abort the run;
// cancelling ctx kills running commands and leaves the remaining files
// not run. The error is reserved for failures of the global setup.
func (r *Runner) RunFiles(ctx context.Context, files []TestFile) (*Report, error) {
	start := time.Now()
	s, err := r.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer s.end()

	outcomes := make([]Outcome, len(files))
	for i, f := range files {
		outcomes[i] = Outcome{File: f, Status: StatusNotRun, Reason: "not started"}
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures atomic.Int64
	)
	// Bounded parallelism: a slot is taken before a worker starts, so
	// files are picked up in discovery order.
	sem := make(chan struct{}, r.cfg.Jobs)

dispatch:
	for i, f := range files {
		select {
		case <-ctx.Done():
			break dispatch
		case sem <- struct{}{}:
		}
		if r.cfg.MaxFailures > 0 && failures.Load() >= int64(r.cfg.MaxFailures) {
			<-sem
			for j := i; j < len(files); j++ {
				outcomes[j].Reason = fmt.Sprintf("stopped after %d failures", r.cfg.MaxFailures)
			}
			break
		}

		wg.Add(1)
		go func(i int, f TestFile) {
			defer wg.Done()
			defer func() { <-sem }()

			o := s.runFile(ctx, f)
			outcomes[i] = o
			if o.Status.Failed() {
				failures.Add(1)
			}
			if r.progress != nil {
				mu.Lock()
				r.progress(o)
				mu.Unlock()
			}
		}(i, f)
	}
	wg.Wait()

	if ctx.Err() != nil {
		for i := range outcomes {
			if outcomes[i].Status == StatusNotRun && outcomes[i].Reason == "not started" {
				outcomes[i].Reason = "interrupted"
			}
		}
	}

	rep := NewReport(r.cfg.Name, outcomes, time.Since(start))
	rep.Interrupted = ctx.Err() != nil
	return rep, nil
}

// session holds the resources shared by the files of one run.
type session struct {
	r       *Runner
	workDir string
	env     []string
	proj    *project
}

func (r *Runner) begin(ctx context.Context) (*session, error) {
	if r.cfg.WorkRoot != "" {
		if err := os.MkdirAll(r.cfg.WorkRoot, 0755); err != nil {
			return nil, fmt.Errorf("create work root: %w", err)
		}
	}
	workDir, err := os.MkdirTemp(r.cfg.WorkRoot, "shtest-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	env := NewEnv(os.Environ())
	env.Apply(r.cfg.Environment)

	proj, err := prepareProject(ctx, r.cfg, env.Environ(), r.logger)
	if err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}
	env.PrependPath(proj.pathDirs...)

	r.logger.Debug("run started", "name", r.cfg.Name, "root", r.cfg.TestRoot, "work", workDir, "jobs", r.cfg.Jobs)
	return &session{r: r, workDir: workDir, env: env.Environ(), proj: proj}, nil
}

func (s *session) end() {
	s.proj.cleanup()
	if s.r.cfg.KeepWork {
		s.r.logger.Info("work directory kept", "path", s.workDir)
		return
	}
	os.RemoveAll(s.workDir)
}

// runFile drives one file through parse, expand, execute and verify.
func (s *session) runFile(ctx context.Context, f TestFile) (o Outcome) {
	r := s.r
	start := time.Now()
	o = Outcome{File: f}
	defer func() {
		o.Duration = time.Since(start)
		if !r.retain && !o.Status.Failed() {
			o.Results = nil
		}
		r.logger.Debug("test finished", "file", f.Rel, "status", o.Status.String(), "duration", o.Duration)
	}()

	if ctx.Err() != nil {
		o.Status, o.Reason = StatusNotRun, "interrupted"
		return o
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return internalError(o, fmt.Errorf("read test: %w", err))
	}
	script, err := Parse(f.Rel, data, r.cfg.Markers)
	if err != nil {
		o.Status, o.Reason, o.Err = StatusFail, err.Error(), err
		return o
	}

	if missing := r.missingFeatures(script.Requires); len(missing) > 0 {
		o.Status, o.Reason = StatusUnsupported, "missing features: "+strings.Join(missing, ", ")
		return o
	}
	if hit := r.presentFeatures(script.Unsupported); len(hit) > 0 {
		o.Status, o.Reason = StatusUnsupported, "unsupported with: "+strings.Join(hit, ", ")
		return o
	}
	xfail := r.expectFailure(script.XFail)

	tmpDir := filepath.Join(s.workDir, strconv.Itoa(f.Index), filepath.Base(f.Path)+".d")
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return internalError(o, fmt.Errorf("create temp dir: %w", err))
	}
	for _, af := range script.Files {
		if !filepath.IsLocal(af.Name) {
			o.Status, o.Reason = StatusFail, fmt.Sprintf("embedded file %q escapes the temp directory", af.Name)
			return o
		}
		path := filepath.Join(tmpDir, filepath.FromSlash(af.Name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return internalError(o, err)
		}
		if err := os.WriteFile(path, af.Data, 0644); err != nil {
			return internalError(o, err)
		}
	}

	table := NewSubstitutions(append(builtinSubstitutions(f, tmpDir), r.cfg.Substitutions...)...)

	// Expand every directive before running any, so an unresolved
	// placeholder never leaves a half-executed test behind.
	commands := make([]string, len(script.Directives))
	for i, d := range script.Directives {
		cmd, err := Expand(d.Command, table)
		if err != nil {
			o.Directive = d
			var ue *UnresolvedSubstitutionError
			if errors.As(err, &ue) {
				o.Status, o.Missing = StatusUnresolved, ue.Name
			} else {
				o.Status = StatusFail
			}
			o.Reason, o.Err = fmt.Sprintf("%s: %v", d, err), err
			return o
		}
		commands[i] = cmd
	}

	var failure *Verdict
	for i, d := range script.Directives {
		r.logger.Debug("running directive", "file", f.Rel, "ordinal", d.Ordinal, "command", commands[i])
		res, err := r.exec.Execute(ctx, Command{
			Script:  commands[i],
			Dir:     filepath.Dir(f.Path),
			Env:     s.env,
			Timeout: r.cfg.Timeout,
		})
		res.Directive, res.Command = d, commands[i]
		o.Results = append(o.Results, res)

		switch {
		case err != nil:
			o.Directive = d
			return internalError(o, fmt.Errorf("%s: %w", d, err))
		case res.Interrupted:
			o.Status, o.Reason, o.Directive = StatusNotRun, fmt.Sprintf("interrupted during %s", d), d
			return o
		case res.TimedOut:
			o.Status, o.Directive = StatusTimeout, d
			o.Reason = fmt.Sprintf("%s: timed out after %s", d, r.cfg.Timeout)
			return o
		}

		if v := Verify(res); !v.OK && failure == nil {
			failure = &v
			o.Directive = d
			if !r.cfg.KeepGoing {
				break
			}
		}
	}

	switch {
	case failure != nil && xfail:
		o.Status, o.Reason = StatusXFail, failure.Reason
	case failure != nil:
		o.Status, o.Reason, o.Diff = StatusFail, failure.Reason, failure.Diff
	case xfail:
		o.Status, o.Reason = StatusXPass, "expected to fail but every directive passed"
	default:
		o.Status = StatusPass
	}
	return o
}

func internalError(o Outcome, err error) Outcome {
	o.Status, o.Reason, o.Err = StatusInternalError, err.Error(), err
	return o
}

// builtinSubstitutions are the lit-style per-file placeholders. Configured
// substitutions are layered over them.
func builtinSubstitutions(f TestFile, tmpDir string) []Substitution {
	dir := filepath.Dir(f.Path)
	base := filepath.Base(f.Path)
	return []Substitution{
		{Name: "s", Value: f.Path},
		{Name: "S", Value: dir},
		{Name: "p", Value: dir},
		{Name: "T", Value: tmpDir},
		{Name: "t", Value: filepath.Join(tmpDir, base+".tmp")},
	}
}

func (r *Runner) missingFeatures(required []string) []string {
	var missing []string
	for _, f := range required {
		if !r.features[f] {
			missing = append(missing, f)
		}
	}
	return missing
}

func (r *Runner) presentFeatures(names []string) []string {
	var hit []string
	for _, f := range names {
		if f == "*" || r.features[f] {
			hit = append(hit, f)
		}
	}
	return hit
}

func (r *Runner) expectFailure(xfail []string) bool {
	return slices.Contains(xfail, "*") || len(r.presentFeatures(xfail)) > 0
}
