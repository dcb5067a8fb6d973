//go:build windows

package probe

import (
	"context"
	"fmt"
	"strconv"
)

const executableSuffix = ".exe"

var (
	listenerCommand = []string{"netstat", "-ano", "-p", "TCP"}
	processCommand  = []string{"wmic", "process", "get", "CommandLine,CreationDate,Name,ProcessId", "/format:csv"}
)

func parseListeners(out []byte) map[int]int {
	return ParseNetstat(out)
}

func parseProcesses(out []byte) []ProcessInfo {
	return ParseWMICProcesses(out)
}

func (s *System) lookupCommand(ctx context.Context, pid int) (string, error) {
	out, err := s.runner.Run(ctx, "wmic", "process", "where", fmt.Sprintf("processid=%d", pid), "get", "CommandLine", "/format:list")
	if err != nil {
		return "", err
	}
	command := ParseWMICCommandLine(out)
	if command == "" {
		return "", fmt.Errorf("pid %d: no command", pid)
	}
	return command, nil
}

func (s *System) terminate(ctx context.Context, pid int, force bool) error {
	args := []string{"/PID", strconv.Itoa(pid)}
	if force {
		args = append(args, "/F")
	}
	if _, err := s.runner.Run(ctx, "taskkill", args...); err != nil {
		return fmt.Errorf("taskkill pid %d: %w", pid, err)
	}
	return nil
}
