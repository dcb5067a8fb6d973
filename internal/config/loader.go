package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by ApplyEnv.
const (
	EnvBase     = "ZOMBIE_WATCHER_BASE"
	EnvRange    = "ZOMBIE_WATCHER_RANGE"
	EnvInterval = "ZOMBIE_WATCHER_INTERVAL"
	EnvStrategy = "ZOMBIE_WATCHER_STRATEGY"
	EnvFilter   = "ZOMBIE_WATCHER_FILTER"
	EnvDryRun   = "ZOMBIE_WATCHER_DRY_RUN"
	EnvMaxAge   = "ZOMBIE_WATCHER_MAX_AGE"
	EnvMode     = "ZOMBIE_WATCHER_MODE"
)

// Load reads a watcher configuration file. The format is chosen by extension:
// .toml files are decoded as TOML, everything else as YAML. The raw document
// is validated against the embedded JSON schema before strict decoding.
func Load(path string) (*File, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}

	var doc File
	if isTOML(absPath) {
		err = decodeTOML(data, &doc)
	} else {
		err = decodeYAML(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return &doc, nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func decodeYAML(data []byte, doc *File) error {
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := validateAgainstSchema(raw); err != nil {
		return err
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(doc); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func decodeTOML(data []byte, doc *File) error {
	raw := map[string]any{}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := validateAgainstSchema(raw); err != nil {
		return err
	}
	md, err := toml.Decode(string(data), doc)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("decode: unknown field %q", undecoded[0].String())
	}
	return nil
}

// Validate enforces invariants the schema cannot express.
func (f *File) Validate() error {
	if f.Range != nil && *f.Range < 0 {
		return fmt.Errorf("%s: must be non-negative", fieldPath("range"))
	}
	if f.Interval.IsSet() && f.Interval.Duration <= 0 {
		return fmt.Errorf("%s: must be positive", fieldPath("interval"))
	}
	if f.MaxAge.IsSet() && f.MaxAge.Duration < 0 {
		return fmt.Errorf("%s: must be non-negative", fieldPath("maxAge"))
	}
	if f.Strategy != "" {
		if _, err := ParseStrategy(f.Strategy); err != nil {
			return fmt.Errorf("%s: %w", fieldPath("strategy"), err)
		}
	}
	if f.Mode != "" {
		if _, err := ParseMode(f.Mode); err != nil {
			return fmt.Errorf("%s: %w", fieldPath("mode"), err)
		}
	}
	return nil
}

// ApplyTo copies every value present in the file onto opts.
func (f *File) ApplyTo(opts *Options) {
	if f == nil || opts == nil {
		return
	}
	if len(f.Base) > 0 {
		opts.Base = FormatPorts(f.Base)
	}
	if f.Range != nil {
		opts.Range = *f.Range
	}
	if f.Interval.IsSet() {
		opts.Interval = f.Interval.Duration
	}
	if f.Strategy != "" {
		opts.Strategy = f.Strategy
	}
	if f.Filter != nil {
		opts.Filter = strings.Join(f.Filter, ";")
	}
	if f.DryRun != nil {
		opts.DryRun = *f.DryRun
	}
	if f.MaxAge.IsSet() {
		opts.MaxAge = f.MaxAge.Duration
	}
	if f.Mode != "" {
		opts.Mode = f.Mode
	}
}

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// EnvLookup returns a LookupFunc that consults the process environment first
// and falls back to the dotenv file at path, when one is given.
func EnvLookup(path string) (LookupFunc, error) {
	var fileEnv map[string]string
	if path != "" {
		values, err := godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("load env file %q: %w", path, err)
		}
		fileEnv = values
	}
	return func(key string) (string, bool) {
		if value, ok := os.LookupEnv(key); ok {
			return value, true
		}
		value, ok := fileEnv[key]
		return value, ok
	}, nil
}

// ApplyEnv overlays ZOMBIE_WATCHER_* variables onto opts. Intervals accept
// either a Go duration or a plain number of milliseconds; max age accepts a
// Go duration or a plain number of minutes.
func ApplyEnv(opts *Options, lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvBase); ok && v != "" {
		opts.Base = v
	}
	if v, ok := lookup(EnvRange); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", EnvRange, v, err)
		}
		opts.Range = n
	}
	if v, ok := lookup(EnvInterval); ok && v != "" {
		dur, err := parseDurationOr(v, time.Millisecond)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", EnvInterval, v, err)
		}
		opts.Interval = dur
	}
	if v, ok := lookup(EnvStrategy); ok && v != "" {
		opts.Strategy = v
	}
	if v, ok := lookup(EnvFilter); ok {
		opts.Filter = v
	}
	if v, ok := lookup(EnvDryRun); ok && v != "" {
		enabled, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", EnvDryRun, v, err)
		}
		opts.DryRun = enabled
	}
	if v, ok := lookup(EnvMaxAge); ok && v != "" {
		dur, err := parseDurationOr(v, time.Minute)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", EnvMaxAge, v, err)
		}
		opts.MaxAge = dur
	}
	if v, ok := lookup(EnvMode); ok && v != "" {
		opts.Mode = v
	}
	return nil
}

func parseDurationOr(value string, unit time.Duration) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(n) * unit, nil
	}
	return time.ParseDuration(value)
}
