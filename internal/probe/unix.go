//go:build unix

package probe

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"syscall"
)

const executableSuffix = ""

var processCommand = []string{"ps", "-axo", "pid=,lstart=,command="}

func parseProcesses(out []byte) []ProcessInfo {
	return ParsePS(out)
}

func (s *System) psCommand(ctx context.Context, pid int) (string, error) {
	out, err := s.runner.Run(ctx, "ps", "-p", strconv.Itoa(pid), "-o", "command=")
	if err != nil {
		return "", err
	}
	command := strings.TrimSpace(string(out))
	if command == "" {
		return "", fmt.Errorf("pid %d: no command", pid)
	}
	return command, nil
}

func (s *System) terminate(_ context.Context, pid int, force bool) error {
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	if err := syscall.Kill(pid, sig); err != nil {
		return fmt.Errorf("signal %s to pid %d: %w", sig, pid, err)
	}
	return nil
}
