package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Strategy selects how the port watcher decides which bound process is the zombie.
type Strategy string

const (
	// StrategyChain keeps the highest bound port in a range and kills the rest.
	StrategyChain Strategy = "chain"
	// StrategyKillBase kills whatever occupies the base port.
	StrategyKillBase Strategy = "kill-base"
)

// Mode selects which watcher variants run.
type Mode string

const (
	ModePort    Mode = "port"
	ModeProcess Mode = "process"
	ModeBoth    Mode = "both"
)

var (
	ErrInvalidStrategy = errors.New("invalid strategy")
	ErrInvalidMode     = errors.New("invalid mode")
	ErrNoBasePorts     = errors.New("no valid base ports")
	ErrInvalidPort     = errors.New("invalid port")
	ErrEmptyFilter     = errors.New("process filter is empty")
)

// Duration wraps time.Duration for YAML and TOML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// PortRange is one configured base port and the inclusive window scanned above it.
type PortRange struct {
	Base int
	Low  int
	High int
}

// Contains reports whether port falls inside the range.
func (r PortRange) Contains(port int) bool {
	return port >= r.Low && port <= r.High
}

// WatcherConfig is the immutable per-run configuration shared by the watchers
// and the scheduler. Build it with Options.Build; never mutate it afterwards.
type WatcherConfig struct {
	BasePorts []int
	Range     int
	Interval  time.Duration
	Strategy  Strategy
	Filter    []string
	DryRun    bool
	MaxAge    time.Duration
	Mode      Mode
}

// Ranges returns the scanned window for every base port, in configuration order.
func (c *WatcherConfig) Ranges() []PortRange {
	ranges := make([]PortRange, 0, len(c.BasePorts))
	for _, base := range c.BasePorts {
		ranges = append(ranges, PortRange{Base: base, Low: base, High: base + c.Range})
	}
	return ranges
}

// RunsPortWatcher reports whether the port watcher is enabled for this mode.
func (c *WatcherConfig) RunsPortWatcher() bool {
	return c.Mode == ModePort || c.Mode == ModeBoth
}

// RunsProcessWatcher reports whether the process watcher is enabled for this mode.
func (c *WatcherConfig) RunsProcessWatcher() bool {
	return c.Mode == ModeProcess || c.Mode == ModeBoth
}

// MatchesFilter reports whether command contains any configured filter token.
func (c *WatcherConfig) MatchesFilter(command string) bool {
	return MatchAny(command, c.Filter)
}

// MatchAny reports whether command contains any of the tokens. Matching is
// case-sensitive.
func MatchAny(command string, tokens []string) bool {
	for _, token := range tokens {
		if token != "" && strings.Contains(command, token) {
			return true
		}
	}
	return false
}

// File mirrors the on-disk configuration document (YAML or TOML).
type File struct {
	Version  string       `yaml:"version" toml:"version"`
	Mode     string       `yaml:"mode" toml:"mode"`
	Base     []int        `yaml:"base" toml:"base"`
	Range    *int         `yaml:"range" toml:"range"`
	Interval Duration     `yaml:"interval" toml:"interval"`
	Strategy string       `yaml:"strategy" toml:"strategy"`
	Filter   []string     `yaml:"filter" toml:"filter"`
	DryRun   *bool        `yaml:"dryRun" toml:"dryRun"`
	MaxAge   Duration     `yaml:"maxAge" toml:"maxAge"`
	API      *APISpec     `yaml:"api" toml:"api"`
	Logging  *LoggingSpec `yaml:"logging" toml:"logging"`
}

// APISpec configures the optional status API.
type APISpec struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// LoggingSpec configures log output.
type LoggingSpec struct {
	Format string `yaml:"format" toml:"format"`
	Level  string `yaml:"level" toml:"level"`
}

func fieldPath(parts ...string) string {
	return strings.Join(parts, ".")
}
