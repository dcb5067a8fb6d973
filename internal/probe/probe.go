package probe

import (
	"bytes"
	"context"
	"errors"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/Paintersrp/zombie-watcher/internal/metrics"
)

// DefaultTimeout bounds every external utility invocation.
const DefaultTimeout = 5 * time.Second

// ProcessInfo is one process as reported by the platform utilities.
type ProcessInfo struct {
	PID     int
	Command string
	// CreationDate is a fixed-width YYYYMMDDHHMMSS stamp, optionally followed
	// by platform specific fractional seconds and offset. Empty when unknown.
	CreationDate string
	// Name is the executable image name where the platform reports one.
	Name string
}

// Probe is the platform-neutral view of the operating system used by the
// watchers. Implementations never return errors: failures resolve to an empty
// observation.
type Probe interface {
	// Listeners maps every TCP port in listening state to its owning pid.
	Listeners(ctx context.Context) map[int]int
	// MatchingProcesses returns processes whose command line contains any token.
	MatchingProcesses(ctx context.Context, filter []string) []ProcessInfo
	// Command returns the command line of a single process.
	Command(ctx context.Context, pid int) (string, bool)
	// Terminate signals a process, forcefully when force is set.
	Terminate(ctx context.Context, pid int, force bool) bool
}

// System implements Probe for the platform the binary was built for.
type System struct {
	runner   Runner
	logger   *zap.Logger
	selfPID  int
	procRoot string
}

// Option customises a System.
type Option func(*System)

// WithRunner replaces the external command runner.
func WithRunner(r Runner) Option {
	return func(s *System) {
		if r != nil {
			s.runner = r
		}
	}
}

// WithSelfPID overrides the pid excluded from every observation.
func WithSelfPID(pid int) Option {
	return func(s *System) { s.selfPID = pid }
}

// WithProcRoot points Linux command lookups at an alternate procfs mount.
func WithProcRoot(path string) Option {
	return func(s *System) { s.procRoot = path }
}

// New constructs the platform probe.
func New(logger *zap.Logger, opts ...Option) *System {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &System{
		runner:   ExecRunner{Timeout: DefaultTimeout},
		logger:   logger.Named("probe"),
		selfPID:  os.Getpid(),
		procRoot: "/proc",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Probe = (*System)(nil)

// Listeners implements Probe.
func (s *System) Listeners(ctx context.Context) map[int]int {
	out, ok := s.run(ctx, "listeners", listenerCommand)
	if !ok {
		return map[int]int{}
	}
	return parseListeners(out)
}

// MatchingProcesses implements Probe. The watcher's own pid is never reported.
func (s *System) MatchingProcesses(ctx context.Context, filter []string) []ProcessInfo {
	if len(filter) == 0 {
		return nil
	}
	out, ok := s.run(ctx, "processes", processCommand)
	if !ok {
		return nil
	}
	var matched []ProcessInfo
	for _, info := range parseProcesses(out) {
		if info.PID == s.selfPID {
			continue
		}
		if Matches(info, filter, executableSuffix) {
			matched = append(matched, info)
		}
	}
	return matched
}

// Command implements Probe.
func (s *System) Command(ctx context.Context, pid int) (string, bool) {
	if pid <= 0 || pid == s.selfPID {
		return "", false
	}
	start := time.Now()
	command, err := s.lookupCommand(ctx, pid)
	metrics.ObserveProbe("command", time.Since(start), err)
	if err != nil || command == "" {
		s.logger.Debug("command lookup failed", zap.Int("pid", pid), zap.Error(err))
		return "", false
	}
	return command, true
}

// Terminate implements Probe. Pids that are not positive and the watcher's
// own pid are refused.
func (s *System) Terminate(ctx context.Context, pid int, force bool) bool {
	if pid <= 0 || pid == s.selfPID {
		return false
	}
	start := time.Now()
	err := s.terminate(ctx, pid, force)
	metrics.ObserveProbe("terminate", time.Since(start), err)
	if err != nil {
		s.logger.Debug("terminate failed", zap.Int("pid", pid), zap.Bool("force", force), zap.Error(err))
		return false
	}
	return true
}

// run executes argv and reports whether its output should be parsed. A
// non-zero exit that still produced output is accepted; lsof, for example,
// exits 1 when any descriptor could not be inspected.
func (s *System) run(ctx context.Context, operation string, argv []string) ([]byte, bool) {
	start := time.Now()
	out, err := s.runner.Run(ctx, argv[0], argv[1:]...)
	if err != nil && errors.Is(err, ErrExitStatus) && len(bytes.TrimSpace(out)) > 0 {
		err = nil
	}
	metrics.ObserveProbe(operation, time.Since(start), err)
	if err != nil {
		fields := []zap.Field{zap.String("operation", operation), zap.Strings("argv", argv), zap.Error(err)}
		if errors.Is(err, ErrTimeout) {
			s.logger.Warn("probe command timed out", fields...)
		} else {
			s.logger.Debug("probe command failed", fields...)
		}
		return nil, false
	}
	return out, true
}
