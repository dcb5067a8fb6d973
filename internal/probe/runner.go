package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

var (
	// ErrTimeout reports that an external command exceeded its deadline and was killed.
	ErrTimeout = errors.New("probe: command timed out")
	// ErrExitStatus reports that an external command exited non-zero.
	ErrExitStatus = errors.New("probe: non-zero exit status")
)

// Runner executes an external utility and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec under a hard timeout. The child is
// killed when the timeout expires.
type ExecRunner struct {
	Timeout time.Duration
}

// Run implements Runner. Output captured before a non-zero exit is returned
// together with an error wrapping ErrExitStatus.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	// Pin the C locale so date and column formats stay parseable.
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	cmd.Stderr = io.Discard
	cmd.WaitDelay = time.Second

	out, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, name, timeout)
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out, fmt.Errorf("%s: %w %d", name, ErrExitStatus, exitErr.ExitCode())
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}
