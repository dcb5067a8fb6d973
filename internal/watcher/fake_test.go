package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/Paintersrp/zombie-watcher/internal/config"
	"github.com/Paintersrp/zombie-watcher/internal/engine"
	"github.com/Paintersrp/zombie-watcher/internal/probe"
)

// fakeProbe is an in-memory world. Successful terminations remove the pid
// from the world when vanish is set.
type fakeProbe struct {
	mu          sync.Mutex
	processes   []probe.ProcessInfo
	listeners   map[int]int
	commands    map[int]string
	terminateOK bool
	vanish      bool
	terminated  []int
}

func (f *fakeProbe) Listeners(context.Context) map[int]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int]int, len(f.listeners))
	for port, pid := range f.listeners {
		out[port] = pid
	}
	return out
}

func (f *fakeProbe) MatchingProcesses(_ context.Context, filter []string) []probe.ProcessInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []probe.ProcessInfo
	for _, info := range f.processes {
		if probe.Matches(info, filter, "") {
			out = append(out, info)
		}
	}
	return out
}

func (f *fakeProbe) Command(_ context.Context, pid int) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd, ok := f.commands[pid]
	return cmd, ok
}

func (f *fakeProbe) Terminate(_ context.Context, pid int, _ bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, pid)
	if !f.terminateOK {
		return false
	}
	if f.vanish {
		kept := f.processes[:0]
		for _, info := range f.processes {
			if info.PID != pid {
				kept = append(kept, info)
			}
		}
		f.processes = kept
		for port, owner := range f.listeners {
			if owner == pid {
				delete(f.listeners, port)
			}
		}
	}
	return true
}

func (f *fakeProbe) terminatedPIDs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.terminated...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock { return &clock{now: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func stamp(t time.Time) string {
	return t.Format("20060102150405")
}

func drain(events chan engine.Event) []engine.Event {
	var out []engine.Event
	for {
		select {
		case evt := <-events:
			out = append(out, evt)
		default:
			return out
		}
	}
}

func ofType(events []engine.Event, t engine.EventType) []engine.Event {
	var out []engine.Event
	for _, evt := range events {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

func testConfig(mutate func(*config.WatcherConfig)) *config.WatcherConfig {
	cfg := &config.WatcherConfig{
		BasePorts: []int{5173},
		Range:     20,
		Interval:  time.Second,
		Strategy:  config.StrategyChain,
		Filter:    []string{"node", "vite"},
		Mode:      config.ModeBoth,
	}
	if mutate != nil {
		mutate(cfg)
	}
	return cfg
}

var baseTime = time.Date(2026, time.October, 19, 4, 0, 0, 0, time.Local)
