// Package lock binds a loopback TCP port for the lifetime of a watcher run.
//
// Acquire takes the first free port of a range, so a second run on the same
// range simply binds the next port: the lock advertises a running watcher but
// only excludes other runs once the range is exhausted. Pass a single port to
// make it exclusive.
package lock

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/docker/go-connections/nat"
)

// DefaultPorts is the loopback range probed for a free lock port.
const DefaultPorts = "43220-43229"

// ErrHeld reports that every port in the range is taken.
var ErrHeld = errors.New("no free lock port")

// Lock is a held loopback listener.
type Lock struct {
	ln   net.Listener
	port int
}

// Acquire binds the first free port of the inclusive range, e.g. "43220-43229".
func Acquire(ports string) (*Lock, error) {
	start, end, err := nat.ParsePortRange(ports)
	if err != nil {
		return nil, fmt.Errorf("lock ports %q: %w", ports, err)
	}
	if start == 0 {
		return nil, fmt.Errorf("lock ports %q: port 0 is not allowed", ports)
	}
	var lastErr error
	for port := start; port <= end; port++ {
		ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.FormatUint(port, 10)))
		if err != nil {
			lastErr = err
			continue
		}
		return &Lock{ln: ln, port: int(port)}, nil
	}
	return nil, fmt.Errorf("%w between %d and %d: %v", ErrHeld, start, end, lastErr)
}

// Port returns the bound port.
func (l *Lock) Port() int {
	return l.port
}

// Release frees the port.
func (l *Lock) Release() error {
	if l == nil || l.ln == nil {
		return nil
	}
	return l.ln.Close()
}
