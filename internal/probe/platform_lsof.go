//go:build unix && !linux

package probe

import "context"

var listenerCommand = []string{"lsof", "-iTCP", "-sTCP:LISTEN", "-P", "-n"}

func parseListeners(out []byte) map[int]int {
	return ParseLsof(out)
}

func (s *System) lookupCommand(ctx context.Context, pid int) (string, error) {
	return s.psCommand(ctx, pid)
}
