package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gfanton/shtest"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
)

type config struct {
	configFile    string
	substitutions []string
	suffixes      []string
	timeout       time.Duration
	jobs          int
	env           []string
	variant       string
	features      []string
	filter        string
	maxFailures   int
	keepGoing     bool
	keepWork      bool
	shell         string
	format        string
	verbose       bool
	quiet         bool
	noColor       bool
	watch         bool
	debug         bool
}

func (cfg *config) registerFlags(fs *ff.FlagSet) {
	fs.StringVar(&cfg.configFile, 'c', "config", "", "configuration file (default: shtest.toml or shtest.yaml above the first path)")
	fs.StringListVar(&cfg.substitutions, 'S', "substitution", "add a substitution name=value (repeatable)")
	fs.StringListVar(&cfg.suffixes, 0, "suffix", "test file suffix, e.g. .prsl (repeatable)")
	fs.DurationVar(&cfg.timeout, 't', "timeout", 0, "per-directive timeout")
	fs.IntVar(&cfg.jobs, 'j', "jobs", 0, "number of test files run in parallel (default: number of CPUs)")
	fs.StringListVar(&cfg.env, 'e', "env", "set an environment variable KEY=VALUE for every directive (repeatable)")
	fs.StringVar(&cfg.variant, 0, "variant", "", "configuration variant to apply")
	fs.StringListVar(&cfg.features, 'F', "feature", "declare an available feature (repeatable)")
	fs.StringVar(&cfg.filter, 0, "filter", "", "only run tests whose relative path matches this regexp")
	fs.IntVar(&cfg.maxFailures, 0, "max-failures", 0, "stop after this many failed tests")
	fs.BoolVar(&cfg.keepGoing, 'k', "keep-going", "run every directive of a test even after one fails")
	fs.BoolVar(&cfg.keepWork, 0, "keep-work", "preserve work directories after the run")
	fs.StringVar(&cfg.shell, 0, "shell", "", "shell running directives: a path, or \"internal\" for the built-in interpreter")
	fs.StringVar(&cfg.format, 'f', "format", "text", "output format: text, json or yaml")
	fs.BoolVar(&cfg.verbose, 'v', "verbose", "show directive output for failing tests")
	fs.BoolVar(&cfg.quiet, 'q', "quiet", "only report failing tests")
	fs.BoolVar(&cfg.noColor, 0, "no-color", "disable colored output")
	fs.BoolVar(&cfg.watch, 'w', "watch", "re-run tests when files change")
	fs.BoolVar(&cfg.debug, 0, "debug", "enable debug logging on stderr")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewCommand(stdout, stderr)
	if err := cmd.Parse(args, ff.WithEnvVarPrefix("SHTEST")); err != nil {
		if errors.Is(err, ff.ErrHelp) {
			fmt.Fprintf(stderr, "%s\n", ffhelp.Command(cmd))
			return shtest.ExitOK
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return shtest.ExitConfigError
	}

	err := cmd.Run(ctx)
	var exit exitError
	switch {
	case err == nil:
		return shtest.ExitOK
	case errors.As(err, &exit):
		return int(exit)
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	var cfgErr *shtest.ConfigError
	if errors.As(err, &cfgErr) || errors.Is(err, shtest.ErrNoTests) {
		return shtest.ExitConfigError
	}
	return shtest.ExitInternalError
}

// exitError carries a report's exit code out of Exec.
type exitError int

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

// NewCommand creates the root ff.Command for the shtest CLI.
func NewCommand(stdout, stderr io.Writer) *ff.Command {
	var cfg config

	fs := ff.NewFlagSet("shtest")
	cfg.registerFlags(fs)

	return &ff.Command{
		Name:      "shtest",
		Usage:     "shtest [FLAGS] [PATH...]",
		ShortHelp: "run shell directive test files",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			return execTestRunner(ctx, &cfg, args, stdout, stderr)
		},
	}
}

func execTestRunner(ctx context.Context, cfg *config, args []string, stdout, stderr io.Writer) error {
	switch cfg.format {
	case "text", "json", "yaml":
	default:
		return &shtest.ConfigError{Source: "flags", Err: fmt.Errorf("unknown format %q", cfg.format)}
	}

	level := slog.LevelWarn
	if cfg.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	runCfg, err := cfg.load(args)
	if err != nil {
		return err
	}

	printer := shtest.NewPrinter(stdout, !cfg.noColor && isColorTerminal(stdout))
	printer.SetVerbose(cfg.verbose)
	printer.SetQuiet(cfg.quiet)

	opts := []shtest.Option{
		shtest.WithLogger(logger),
		shtest.WithRetainResults(cfg.verbose && cfg.format != "text"),
	}
	if cfg.format == "text" {
		name := runCfg.Name
		opts = append(opts, shtest.WithProgress(func(o shtest.Outcome) {
			printer.Progress(name, o)
		}))
	}
	r, err := shtest.NewRunner(runCfg, opts...)
	if err != nil {
		return err
	}
	logger.Debug("configuration loaded", "root", r.Config().TestRoot, "substitutions", len(r.Substitutions().Names()))

	if cfg.watch {
		return r.Watch(ctx, args, func(rep *shtest.Report) {
			if err := cfg.write(printer, stdout, rep); err != nil {
				logger.Error("write report", "error", err)
			}
		})
	}

	files, err := r.Discover(args...)
	if err != nil {
		return err
	}
	printer.SetTotal(len(files))
	rep, err := r.RunFiles(ctx, files)
	if err != nil {
		return err
	}
	if err := cfg.write(printer, stdout, rep); err != nil {
		return err
	}
	if code := rep.ExitCode(); code != shtest.ExitOK {
		return exitError(code)
	}
	return nil
}

func (cfg *config) write(printer *shtest.Printer, w io.Writer, rep *shtest.Report) error {
	switch cfg.format {
	case "json":
		return rep.WriteJSON(w, cfg.verbose)
	case "yaml":
		return rep.WriteYAML(w, cfg.verbose)
	}
	printer.Summary(rep)
	return nil
}

// load reads the configuration file, applies the selected variant and
// overlays the command-line flags.
func (cfg *config) load(args []string) (shtest.Config, error) {
	var (
		base shtest.Config
		err  error
	)
	if cfg.configFile != "" {
		base, err = shtest.LoadConfigFile(cfg.configFile)
	} else {
		base, err = shtest.LoadConfig(configDir(args))
	}
	if err != nil {
		return shtest.Config{}, err
	}

	c, err := base.Variant(cfg.variant)
	if err != nil {
		return shtest.Config{}, err
	}
	over, err := cfg.overrides()
	if err != nil {
		return shtest.Config{}, &shtest.ConfigError{Source: "flags", Err: err}
	}
	return c.Merge(over), nil
}

func (cfg *config) overrides() (shtest.Config, error) {
	over := shtest.Config{
		Suffixes:    cfg.suffixes,
		Features:    cfg.features,
		Timeout:     cfg.timeout,
		Jobs:        cfg.jobs,
		Shell:       cfg.shell,
		KeepGoing:   cfg.keepGoing,
		KeepWork:    cfg.keepWork,
		MaxFailures: cfg.maxFailures,
		Filter:      cfg.filter,
	}
	for _, kv := range cfg.substitutions {
		s, err := shtest.ParseSubstitution(kv)
		if err != nil {
			return shtest.Config{}, err
		}
		over.Substitutions = append(over.Substitutions, s)
	}
	for _, kv := range cfg.env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return shtest.Config{}, fmt.Errorf("invalid environment variable %q, expected KEY=VALUE", kv)
		}
		if over.Environment == nil {
			over.Environment = make(map[string]string)
		}
		over.Environment[k] = v
	}
	return over, nil
}

// configDir returns the closest directory, starting at the first path
// argument and walking up, that holds a configuration file. Without one,
// the starting directory is the test root.
func configDir(args []string) string {
	start := "."
	if len(args) > 0 {
		start = args[0]
		if info, err := os.Stat(start); err != nil || !info.IsDir() {
			start = filepath.Dir(start)
		}
	}
	abs, err := filepath.Abs(start)
	if err != nil {
		return start
	}
	for dir := abs; ; {
		for _, name := range shtest.ConfigFileNames {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs
		}
		dir = parent
	}
}

func isColorTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && shtest.ColorEnabled(f)
}
