package shtest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"sort"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ConfigFileNames are looked up, in order, in the test root.
var ConfigFileNames = []string{"shtest.toml", "shtest.yaml", "shtest.yml"}

// DefaultSuffix is the test file extension used when none is configured.
const DefaultSuffix = ".prsl"

const (
	minJobs = 1
	maxJobs = 256
)

// ShellInternal selects the in-process interpreter instead of a system shell.
const ShellInternal = "internal"

// Config is the complete configuration of a run. It is passed by value to
// NewRunner and never mutated afterwards.
type Config struct {
	Name          string
	TestRoot      string
	Suffixes      []string
	Substitutions []Substitution
	Environment   map[string]string // overrides applied to the inherited environment
	Features      []string          // consulted by REQUIRES, UNSUPPORTED and XFAIL
	Timeout       time.Duration     // per directive
	Jobs          int
	Shell         string // "" for /bin/sh, ShellInternal, or a shell path
	KeepGoing     bool   // run every directive of a file even after a failure
	KeepWork      bool   // keep per-test temporary directories
	WorkRoot      string // parent of per-run temporary directories
	MaxFailures   int    // stop scheduling after this many failures; 0 means no limit
	Filter        string // regexp matched against relative test paths
	Markers       Markers

	BinDir   string // prepended to PATH; .sh files get extensionless wrappers
	Setup    string // run once before the tests
	Teardown string // run once after the tests

	Variants map[string]Config
}

// Merge returns c overlaid with the set fields of over. Substitutions are
// appended so that over wins on lookup, environment maps are merged, and
// boolean switches can only be turned on.
func (c Config) Merge(over Config) Config {
	out := c.clone()
	if over.Name != "" {
		out.Name = over.Name
	}
	if over.TestRoot != "" {
		out.TestRoot = over.TestRoot
	}
	if len(over.Suffixes) > 0 {
		out.Suffixes = slices.Clone(over.Suffixes)
	}
	out.Substitutions = append(out.Substitutions, over.Substitutions...)
	if len(over.Environment) > 0 {
		if out.Environment == nil {
			out.Environment = make(map[string]string, len(over.Environment))
		}
		for k, v := range over.Environment {
			out.Environment[k] = v
		}
	}
	for _, f := range over.Features {
		if !slices.Contains(out.Features, f) {
			out.Features = append(out.Features, f)
		}
	}
	if over.Timeout > 0 {
		out.Timeout = over.Timeout
	}
	if over.Jobs > 0 {
		out.Jobs = over.Jobs
	}
	if over.Shell != "" {
		out.Shell = over.Shell
	}
	out.KeepGoing = out.KeepGoing || over.KeepGoing
	out.KeepWork = out.KeepWork || over.KeepWork
	if over.WorkRoot != "" {
		out.WorkRoot = over.WorkRoot
	}
	if over.MaxFailures > 0 {
		out.MaxFailures = over.MaxFailures
	}
	if over.Filter != "" {
		out.Filter = over.Filter
	}
	out.Markers = mergeMarkers(out.Markers, over.Markers)
	if over.BinDir != "" {
		out.BinDir = over.BinDir
	}
	if over.Setup != "" {
		out.Setup = over.Setup
	}
	if over.Teardown != "" {
		out.Teardown = over.Teardown
	}
	for name, v := range over.Variants {
		if out.Variants == nil {
			out.Variants = make(map[string]Config)
		}
		if base, ok := out.Variants[name]; ok {
			out.Variants[name] = base.Merge(v)
		} else {
			out.Variants[name] = v
		}
	}
	return out
}

func (c Config) clone() Config {
	out := c
	out.Suffixes = slices.Clone(c.Suffixes)
	out.Substitutions = slices.Clone(c.Substitutions)
	out.Features = slices.Clone(c.Features)
	if c.Environment != nil {
		out.Environment = make(map[string]string, len(c.Environment))
		for k, v := range c.Environment {
			out.Environment[k] = v
		}
	}
	if c.Variants != nil {
		out.Variants = make(map[string]Config, len(c.Variants))
		for k, v := range c.Variants {
			out.Variants[k] = v
		}
	}
	return out
}

func mergeMarkers(base, over Markers) Markers {
	if over.Run != "" {
		base.Run = over.Run
	}
	if over.Check != "" {
		base.Check = over.Check
	}
	if over.Exit != "" {
		base.Exit = over.Exit
	}
	if over.XFail != "" {
		base.XFail = over.XFail
	}
	if over.Requires != "" {
		base.Requires = over.Requires
	}
	if over.Unsupported != "" {
		base.Unsupported = over.Unsupported
	}
	return base
}

// Variant returns the base configuration overlaid with the named variant.
// An empty name returns c without its variants.
func (c Config) Variant(name string) (Config, error) {
	base := c.clone()
	base.Variants = nil
	if name == "" {
		return base, nil
	}
	v, ok := c.Variants[name]
	if !ok {
		names := make([]string, 0, len(c.Variants))
		for n := range c.Variants {
			names = append(names, n)
		}
		sort.Strings(names)
		return Config{}, &ConfigError{Err: fmt.Errorf("unknown variant %q (available: %s)", name, strings.Join(names, ", "))}
	}
	v.Variants = nil
	return base.Merge(v), nil
}

// defaultJobs clamps the CPU count into the accepted jobs range.
func defaultJobs(cpus int) int {
	return min(maxJobs, max(minJobs, cpus))
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	out := c.clone()
	if out.TestRoot == "" {
		out.TestRoot = "."
	}
	if out.Name == "" {
		if abs, err := filepath.Abs(out.TestRoot); err == nil {
			out.Name = filepath.Base(abs)
		}
	}
	if len(out.Suffixes) == 0 {
		out.Suffixes = []string{DefaultSuffix}
	}
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	if out.Jobs <= 0 {
		out.Jobs = defaultJobs(runtime.NumCPU())
	}
	out.Markers = out.Markers.withDefaults()
	return out
}

// Validate checks the configuration for values the runner cannot use.
func (c Config) Validate() error {
	for _, s := range c.Suffixes {
		if !strings.HasPrefix(s, ".") || len(s) < 2 {
			return &ConfigError{Err: fmt.Errorf("suffix %q must start with '.'", s)}
		}
	}
	for _, s := range c.Substitutions {
		if !isIdent(s.Name) {
			return &ConfigError{Err: fmt.Errorf("invalid substitution name %q", s.Name)}
		}
	}
	if c.Jobs < 0 || c.Jobs > maxJobs {
		return &ConfigError{Err: fmt.Errorf("jobs %d out of range [%d-%d]", c.Jobs, minJobs, maxJobs)}
	}
	if c.MaxFailures < 0 {
		return &ConfigError{Err: fmt.Errorf("max failures must not be negative")}
	}
	if c.Filter != "" {
		if _, err := regexp.Compile(c.Filter); err != nil {
			return &ConfigError{Err: fmt.Errorf("filter: %w", err)}
		}
	}
	return nil
}

// fileConfig is the on-disk form shared by TOML and YAML files.
type fileConfig struct {
	Name          string                `toml:"name" yaml:"name"`
	TestRoot      string                `toml:"test_root" yaml:"test_root"`
	Suffixes      []string              `toml:"suffixes" yaml:"suffixes"`
	Substitutions []string              `toml:"substitutions" yaml:"substitutions"`
	Environment   map[string]string     `toml:"environment" yaml:"environment"`
	Features      []string              `toml:"features" yaml:"features"`
	Timeout       string                `toml:"timeout" yaml:"timeout"`
	Jobs          int                   `toml:"jobs" yaml:"jobs"`
	Shell         string                `toml:"shell" yaml:"shell"`
	KeepGoing     bool                  `toml:"keep_going" yaml:"keep_going"`
	KeepWork      bool                  `toml:"keep_work" yaml:"keep_work"`
	WorkRoot      string                `toml:"work_root" yaml:"work_root"`
	MaxFailures   int                   `toml:"max_failures" yaml:"max_failures"`
	Filter        string                `toml:"filter" yaml:"filter"`
	Markers       Markers               `toml:"markers" yaml:"markers"`
	Bin           string                `toml:"bin" yaml:"bin"`
	Setup         string                `toml:"setup" yaml:"setup"`
	Teardown      string                `toml:"teardown" yaml:"teardown"`
	Variants      map[string]fileConfig `toml:"variants" yaml:"variants"`
}

func (fc *fileConfig) config(base string) (Config, error) {
	c := Config{
		Name:        fc.Name,
		TestRoot:    resolveExplicitOnly(base, fc.TestRoot),
		Suffixes:    fc.Suffixes,
		Environment: fc.Environment,
		Features:    fc.Features,
		Jobs:        fc.Jobs,
		Shell:       fc.Shell,
		KeepGoing:   fc.KeepGoing,
		KeepWork:    fc.KeepWork,
		WorkRoot:    resolveExplicitOnly(base, fc.WorkRoot),
		MaxFailures: fc.MaxFailures,
		Filter:      fc.Filter,
		Markers:     fc.Markers,
		BinDir:      resolveExplicitOnly(base, fc.Bin),
		Setup:       resolveExplicitOnly(base, fc.Setup),
		Teardown:    resolveExplicitOnly(base, fc.Teardown),
	}
	for _, kv := range fc.Substitutions {
		s, err := ParseSubstitution(kv)
		if err != nil {
			return Config{}, err
		}
		c.Substitutions = append(c.Substitutions, s)
	}
	if fc.Timeout != "" {
		d, err := time.ParseDuration(fc.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("timeout: %w", err)
		}
		c.Timeout = d
	}
	for name, v := range fc.Variants {
		vc, err := v.config(base)
		if err != nil {
			return Config{}, fmt.Errorf("variant %s: %w", name, err)
		}
		if c.Variants == nil {
			c.Variants = make(map[string]Config)
		}
		c.Variants[name] = vc
	}
	return c, nil
}

// LoadConfig loads the configuration of a test root. It reads the first of
// ConfigFileNames present in dir, then auto-detects conventional files
// (bin/, setup.sh, teardown.sh) for fields the file does not set.
// All paths in the returned config are absolute.
func LoadConfig(dir string) (Config, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return Config{}, fmt.Errorf("resolve dir: %w", err)
	}

	for _, name := range ConfigFileNames {
		path := filepath.Join(absDir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadConfigFile(path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return Config{}, &ConfigError{Source: path, Err: err}
		}
	}

	c := Config{TestRoot: absDir}
	c.autoDetect(absDir)
	return c, nil
}

// LoadConfigFile loads a TOML or YAML configuration file, validating it
// against the embedded schema. Relative paths are resolved against the
// file's directory, which is also the default test root.
func LoadConfigFile(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, &ConfigError{Source: absPath, Err: err}
	}

	var doc map[string]any
	var fc fileConfig
	switch ext := filepath.Ext(absPath); ext {
	case ".toml":
		if err := toml.Unmarshal(data, &doc); err != nil {
			return Config{}, &ConfigError{Source: absPath, Err: fmt.Errorf("parse: %w", err)}
		}
		if err := validateConfigDocument(doc); err != nil {
			return Config{}, &ConfigError{Source: absPath, Err: err}
		}
		if err := toml.Unmarshal(data, &fc); err != nil {
			return Config{}, &ConfigError{Source: absPath, Err: fmt.Errorf("parse: %w", err)}
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return Config{}, &ConfigError{Source: absPath, Err: fmt.Errorf("parse: %w", err)}
		}
		if err := validateConfigDocument(doc); err != nil {
			return Config{}, &ConfigError{Source: absPath, Err: err}
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, &ConfigError{Source: absPath, Err: fmt.Errorf("parse: %w", err)}
		}
	default:
		return Config{}, &ConfigError{Source: absPath, Err: fmt.Errorf("unsupported config format %q", ext)}
	}

	base := filepath.Dir(absPath)
	c, err := fc.config(base)
	if err != nil {
		return Config{}, &ConfigError{Source: absPath, Err: err}
	}
	if c.TestRoot == "" {
		c.TestRoot = base
	}
	if err := validatePaths(base, &fc); err != nil {
		return Config{}, &ConfigError{Source: absPath, Err: err}
	}
	c.autoDetect(c.TestRoot)
	return c, nil
}

// autoDetect fills project paths left unset with conventional files in dir.
func (c *Config) autoDetect(dir string) {
	c.BinDir = resolveField(dir, c.BinDir, "bin", isDir)
	c.Setup = resolveField(dir, c.Setup, "setup.sh", isFile)
	c.Teardown = resolveField(dir, c.Teardown, "teardown.sh", isFile)
}

// resolveField keeps an explicit value, otherwise auto-detects the conventional path.
func resolveField(base, explicit, convention string, check func(string) bool) string {
	if explicit != "" {
		return explicit
	}
	candidate := filepath.Join(base, convention)
	if check(candidate) {
		return candidate
	}
	return ""
}

// resolveExplicitOnly resolves a configured path against base (no auto-detection).
func resolveExplicitOnly(base, val string) string {
	if val == "" {
		return ""
	}
	if filepath.IsAbs(val) {
		return val
	}
	return filepath.Join(base, val)
}

func validatePaths(base string, fc *fileConfig) error {
	checks := []struct {
		val  string
		desc string
	}{
		{fc.TestRoot, "test root"},
		{fc.Bin, "bin directory"},
		{fc.Setup, "setup script"},
		{fc.Teardown, "teardown script"},
	}
	for _, c := range checks {
		if c.val == "" {
			continue
		}
		if _, err := os.Stat(resolveExplicitOnly(base, c.val)); err != nil {
			return fmt.Errorf("%s %q not found: %w", c.desc, c.val, err)
		}
	}
	return nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
