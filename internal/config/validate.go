package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-connections/nat"
)

const (
	DefaultBase     = "5173"
	DefaultRange    = 20
	DefaultInterval = time.Second
	DefaultStrategy = string(StrategyChain)
	DefaultFilter   = "node;nuxi;vite;npm"
	DefaultMode     = string(ModePort)
)

// Options is the mutable, unvalidated form of WatcherConfig. Layers (defaults,
// config file, environment, flags) write into it before Build validates the
// result.
type Options struct {
	Base     string
	Range    int
	Interval time.Duration
	Strategy string
	Filter   string
	DryRun   bool
	MaxAge   time.Duration
	Mode     string
}

// DefaultOptions returns the defaults of the command line tool.
func DefaultOptions() Options {
	return Options{
		Base:     DefaultBase,
		Range:    DefaultRange,
		Interval: DefaultInterval,
		Strategy: DefaultStrategy,
		Filter:   DefaultFilter,
		Mode:     DefaultMode,
	}
}

// Build validates the options and produces an immutable WatcherConfig.
func (o Options) Build() (*WatcherConfig, error) {
	strategy, err := ParseStrategy(o.Strategy)
	if err != nil {
		return nil, err
	}
	mode, err := ParseMode(o.Mode)
	if err != nil {
		return nil, err
	}
	ports, err := ParseBasePorts(o.Base)
	if err != nil {
		return nil, err
	}
	if o.Range < 0 {
		return nil, fmt.Errorf("%s: must be non-negative, got %d", fieldPath("range"), o.Range)
	}
	for _, base := range ports {
		if base+o.Range > 65535 {
			return nil, fmt.Errorf("%s: base port %d plus range %d exceeds 65535", fieldPath("range"), base, o.Range)
		}
	}
	if o.Interval <= 0 {
		return nil, fmt.Errorf("%s: must be positive, got %s", fieldPath("interval"), o.Interval)
	}
	if o.MaxAge < 0 {
		return nil, fmt.Errorf("%s: must be non-negative, got %s", fieldPath("maxAge"), o.MaxAge)
	}
	filter := ParseFilter(o.Filter)
	if len(filter) == 0 && mode != ModePort {
		return nil, fmt.Errorf("%w: pass at least one name with --filter", ErrEmptyFilter)
	}
	return &WatcherConfig{
		BasePorts: ports,
		Range:     o.Range,
		Interval:  o.Interval,
		Strategy:  strategy,
		Filter:    filter,
		DryRun:    o.DryRun,
		MaxAge:    o.MaxAge,
		Mode:      mode,
	}, nil
}

// ParseStrategy validates a strategy name.
func ParseStrategy(value string) (Strategy, error) {
	switch s := Strategy(strings.TrimSpace(value)); s {
	case StrategyChain, StrategyKillBase:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q (use %q or %q)", ErrInvalidStrategy, value, StrategyChain, StrategyKillBase)
	}
}

// ParseMode validates a mode name.
func ParseMode(value string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(value))); m {
	case ModePort, ModeProcess, ModeBoth:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q (use %q, %q or %q)", ErrInvalidMode, value, ModePort, ModeProcess, ModeBoth)
	}
}

// ParseBasePorts parses a comma-separated list of base ports. Each entry may
// be a single port or an inclusive range such as 3000-3002. Duplicates are
// dropped while preserving first-seen order.
func ParseBasePorts(value string) ([]int, error) {
	var ports []int
	seen := make(map[int]struct{})
	for _, raw := range strings.Split(value, ",") {
		token := strings.TrimSpace(raw)
		if token == "" {
			continue
		}
		start, end, err := nat.ParsePortRange(token)
		if err != nil {
			return nil, fmt.Errorf("%w %q in base ports: %v", ErrInvalidPort, token, err)
		}
		if start == 0 {
			return nil, fmt.Errorf("%w %q in base ports: must be between 1 and 65535", ErrInvalidPort, token)
		}
		for port := int(start); port <= int(end); port++ {
			if _, dup := seen[port]; dup {
				continue
			}
			seen[port] = struct{}{}
			ports = append(ports, port)
		}
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoBasePorts, value)
	}
	return ports, nil
}

// ParseFilter splits a semicolon or comma separated token list, dropping
// empty entries.
func ParseFilter(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ';' || r == ','
	})
	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		if token := strings.TrimSpace(field); token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

// FormatPorts renders ports as a comma-separated list accepted by ParseBasePorts.
func FormatPorts(ports []int) string {
	parts := make([]string, len(ports))
	for i, port := range ports {
		parts[i] = strconv.Itoa(port)
	}
	return strings.Join(parts, ",")
}
