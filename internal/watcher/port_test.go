package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/Paintersrp/zombie-watcher/internal/config"
	"github.com/Paintersrp/zombie-watcher/internal/engine"
	"github.com/Paintersrp/zombie-watcher/internal/kill"
)

type portHarness struct {
	probe   *fakeProbe
	clock   *clock
	events  chan engine.Event
	watcher *PortWatcher
}

func newPortHarness(dryRun bool, mutate func(*config.WatcherConfig), listeners map[int]int, commands map[int]string) *portHarness {
	fp := &fakeProbe{listeners: listeners, commands: commands, terminateOK: true, vanish: true}
	clk := newClock(baseTime)
	events := make(chan engine.Event, 256)
	w := NewPortWatcher(testConfig(mutate), fp, kill.NewExecutor(fp, dryRun), WithEvents(events), WithClock(clk.Now))
	return &portHarness{probe: fp, clock: clk, events: events, watcher: w}
}

func (h *portHarness) tick() []engine.Event {
	h.watcher.Tick(context.Background())
	return drain(h.events)
}

func nodeCommands(pids ...int) map[int]string {
	out := make(map[int]string, len(pids))
	for _, pid := range pids {
		out[pid] = "node node_modules/.bin/vite"
	}
	return out
}

func killedPorts(events []engine.Event) []int {
	var ports []int
	for _, evt := range ofType(events, engine.EventTypeKill) {
		ports = append(ports, evt.Port)
	}
	return ports
}

func TestPortWatcherChainKeepsHighestPort(t *testing.T) {
	h := newPortHarness(true, nil,
		map[int]int{5173: 1, 5174: 2, 5176: 3},
		nodeCommands(1, 2, 3),
	)
	events := h.tick()
	kills := ofType(events, engine.EventTypeKill)
	if len(kills) != 2 {
		t.Fatalf("expected two kills, got %+v", kills)
	}
	if kills[0].Port != 5173 || kills[0].PID != 1 || kills[1].Port != 5174 || kills[1].PID != 2 {
		t.Fatalf("unexpected candidates: %+v", kills)
	}
	for _, evt := range kills {
		if evt.Reason != "superseded by port 5176 (chain strategy)" || evt.Kind != string(kill.KindChain) {
			t.Fatalf("unexpected reason: %+v", evt)
		}
		if evt.Command != "node node_modules/.bin/vite" || evt.Watcher != engine.WatcherPort {
			t.Fatalf("unexpected event: %+v", evt)
		}
	}
}

func TestPortWatcherKillBaseTargetsBaseOnly(t *testing.T) {
	h := newPortHarness(true, func(c *config.WatcherConfig) { c.Strategy = config.StrategyKillBase },
		map[int]int{5173: 1, 5174: 2, 5176: 3},
		nodeCommands(1, 2, 3),
	)
	kills := ofType(h.tick(), engine.EventTypeKill)
	if len(kills) != 1 || kills[0].PID != 1 || kills[0].Port != 5173 {
		t.Fatalf("expected only the base occupant, got %+v", kills)
	}
	if kills[0].Reason != "base port 5173 occupied (kill-base strategy)" {
		t.Fatalf("unexpected reason %q", kills[0].Reason)
	}
}

func TestPortWatcherKillBaseUnboundBase(t *testing.T) {
	h := newPortHarness(true, func(c *config.WatcherConfig) { c.Strategy = config.StrategyKillBase },
		map[int]int{5174: 2, 5176: 3},
		nodeCommands(2, 3),
	)
	if kills := ofType(h.tick(), engine.EventTypeKill); len(kills) != 0 {
		t.Fatalf("expected no kills, got %+v", kills)
	}
}

func TestPortWatcherChainIgnoresGaps(t *testing.T) {
	h := newPortHarness(true, nil, map[int]int{5173: 1, 5175: 2}, nodeCommands(1, 2))
	if got := killedPorts(h.tick()); len(got) != 1 || got[0] != 5173 {
		t.Fatalf("expected 5173 only, got %v", got)
	}
}

func TestPortWatcherChainSingleListener(t *testing.T) {
	h := newPortHarness(true, nil, map[int]int{5180: 1}, nodeCommands(1))
	if got := killedPorts(h.tick()); len(got) != 0 {
		t.Fatalf("single listener must be kept, got %v", got)
	}
}

func TestPortWatcherChainNeverKillsTopOwner(t *testing.T) {
	h := newPortHarness(true, nil, map[int]int{5173: 7, 5174: 8, 5175: 7}, nodeCommands(7, 8))
	kills := ofType(h.tick(), engine.EventTypeKill)
	if len(kills) != 1 || kills[0].PID != 8 {
		t.Fatalf("expected only pid 8, got %+v", kills)
	}
}

func TestPortWatcherActsOncePerPID(t *testing.T) {
	h := newPortHarness(true, nil, map[int]int{5173: 7, 5174: 7, 5176: 9}, nodeCommands(7, 9))
	kills := ofType(h.tick(), engine.EventTypeKill)
	if len(kills) != 1 || kills[0].PID != 7 || kills[0].Port != 5173 {
		t.Fatalf("expected pid 7 once at 5173, got %+v", kills)
	}
}

func TestPortWatcherSkipsNonMatchingAndUnresolvedCommands(t *testing.T) {
	h := newPortHarness(false, nil,
		map[int]int{5173: 1, 5174: 2, 5176: 3},
		map[int]string{2: "postgres -D /var/lib/pg", 3: "node"},
	)
	events := h.tick()
	if kills := ofType(events, engine.EventTypeKill); len(kills) != 0 {
		t.Fatalf("expected no kills, got %+v", kills)
	}
	skipped := ofType(events, engine.EventTypeSkipped)
	if len(skipped) != 2 {
		t.Fatalf("expected two skipped events, got %+v", skipped)
	}
	if skipped[0].PID != 1 || skipped[0].Message != "command could not be resolved" {
		t.Fatalf("unexpected skip: %+v", skipped[0])
	}
	if skipped[1].PID != 2 || skipped[1].Message != "command does not match filter" {
		t.Fatalf("unexpected skip: %+v", skipped[1])
	}
	if got := h.probe.terminatedPIDs(); len(got) != 0 {
		t.Fatalf("skipped candidates were terminated: %v", got)
	}
}

func TestPortWatcherEmptyFilterSkipsEverything(t *testing.T) {
	h := newPortHarness(false, func(c *config.WatcherConfig) { c.Filter = nil },
		map[int]int{5173: 1, 5174: 2}, nodeCommands(1, 2))
	events := h.tick()
	if kills := ofType(events, engine.EventTypeKill); len(kills) != 0 {
		t.Fatalf("expected no kills, got %+v", kills)
	}
	if skipped := ofType(events, engine.EventTypeSkipped); len(skipped) != 1 {
		t.Fatalf("expected one skipped event, got %+v", skipped)
	}
}

func TestPortWatcherRestrictsToConfiguredRanges(t *testing.T) {
	h := newPortHarness(true, func(c *config.WatcherConfig) {
		c.BasePorts = []int{3000, 5173}
		c.Range = 2
	}, map[int]int{22: 1, 3000: 2, 3002: 3, 3003: 4, 5173: 5, 8080: 6}, nodeCommands(2, 3, 4, 5, 6))

	events := h.tick()
	snap := h.watcher.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected three tracked ports, got %+v", snap)
	}
	want := []PortRecord{
		{Port: 3000, Base: 3000, PID: 2, FirstSeen: baseTime},
		{Port: 3002, Base: 3000, PID: 3, FirstSeen: baseTime},
		{Port: 5173, Base: 5173, PID: 5, FirstSeen: baseTime},
	}
	for i := range want {
		if snap[i] != want[i] {
			t.Fatalf("record %d = %+v, want %+v", i, snap[i], want[i])
		}
	}
	if got := killedPorts(events); len(got) != 1 || got[0] != 3000 {
		t.Fatalf("expected only 3000 superseded by 3002, got %v", got)
	}
}

func TestPortWatcherReplacesRecordOnOwnerChange(t *testing.T) {
	h := newPortHarness(true, nil, map[int]int{5173: 1}, nodeCommands(1, 2))
	h.tick()

	h.clock.Advance(time.Minute)
	h.probe.mu.Lock()
	h.probe.listeners[5173] = 2
	h.probe.mu.Unlock()

	replaced := ofType(h.tick(), engine.EventTypeReplaced)
	if len(replaced) != 1 || replaced[0].PID != 2 || replaced[0].Message != "previous owner 1" {
		t.Fatalf("expected a replaced event, got %+v", replaced)
	}
	snap := h.watcher.Snapshot()
	if len(snap) != 1 || snap[0].PID != 2 || !snap[0].FirstSeen.Equal(baseTime.Add(time.Minute)) {
		t.Fatalf("record not replaced: %+v", snap)
	}
}

func TestPortWatcherDeletesReleasedPorts(t *testing.T) {
	h := newPortHarness(true, nil, map[int]int{5173: 1, 5174: 2}, nodeCommands(1, 2))
	h.tick()

	h.probe.mu.Lock()
	delete(h.probe.listeners, 5174)
	h.probe.mu.Unlock()

	exited := ofType(h.tick(), engine.EventTypeExited)
	if len(exited) != 1 || exited[0].Port != 5174 || exited[0].PID != 2 {
		t.Fatalf("expected 5174 to be released, got %+v", exited)
	}
	if h.watcher.Len() != 1 {
		t.Fatalf("expected one record, got %d", h.watcher.Len())
	}
}

func TestPortWatcherKillForgetsPIDAndSettles(t *testing.T) {
	h := newPortHarness(false, nil, map[int]int{5173: 1, 5174: 1, 5176: 3}, nodeCommands(1, 3))
	h.probe.vanish = false

	kills := ofType(h.tick(), engine.EventTypeKill)
	if len(kills) != 1 || kills[0].Outcome != string(kill.OutcomeKilled) {
		t.Fatalf("expected one killed outcome, got %+v", kills)
	}
	snap := h.watcher.Snapshot()
	if len(snap) != 1 || snap[0].Port != 5176 {
		t.Fatalf("killed pid records should be dropped, got %+v", snap)
	}

	h.probe.mu.Lock()
	delete(h.probe.listeners, 5173)
	delete(h.probe.listeners, 5174)
	h.probe.mu.Unlock()
	for i := 0; i < 3; i++ {
		if kills := ofType(h.tick(), engine.EventTypeKill); len(kills) != 0 {
			t.Fatalf("tick %d: stable world produced kills %+v", i, kills)
		}
	}
}
