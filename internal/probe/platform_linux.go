//go:build linux

package probe

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
)

var listenerCommand = []string{"ss", "-lptn"}

func parseListeners(out []byte) map[int]int {
	return ParseSS(out)
}

// lookupCommand prefers procfs and falls back to ps for processes whose
// cmdline is unreadable (kernel threads, other users under hidepid).
func (s *System) lookupCommand(ctx context.Context, pid int) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.procRoot, strconv.Itoa(pid), "cmdline"))
	if err == nil {
		if command := ParseCmdline(data); command != "" {
			return command, nil
		}
	}
	return s.psCommand(ctx, pid)
}
