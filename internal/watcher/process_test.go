package watcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Paintersrp/zombie-watcher/internal/config"
	"github.com/Paintersrp/zombie-watcher/internal/engine"
	"github.com/Paintersrp/zombie-watcher/internal/kill"
	"github.com/Paintersrp/zombie-watcher/internal/probe"
)

type processHarness struct {
	probe   *fakeProbe
	clock   *clock
	events  chan engine.Event
	watcher *ProcessWatcher
}

func newProcessHarness(t *testing.T, dryRun bool, mutate func(*config.WatcherConfig), procs ...probe.ProcessInfo) *processHarness {
	t.Helper()
	fp := &fakeProbe{processes: procs, terminateOK: true, vanish: true}
	clk := newClock(baseTime)
	events := make(chan engine.Event, 256)
	w, err := NewProcessWatcher(testConfig(mutate), fp, kill.NewExecutor(fp, dryRun), WithEvents(events), WithClock(clk.Now))
	if err != nil {
		t.Fatalf("NewProcessWatcher returned error: %v", err)
	}
	return &processHarness{probe: fp, clock: clk, events: events, watcher: w}
}

func (h *processHarness) tick() []engine.Event {
	h.watcher.Tick(context.Background())
	return drain(h.events)
}

func TestNewProcessWatcherRejectsEmptyFilter(t *testing.T) {
	cfg := testConfig(func(c *config.WatcherConfig) { c.Filter = nil })
	fp := &fakeProbe{}
	_, err := NewProcessWatcher(cfg, fp, kill.NewExecutor(fp, true))
	if !errors.Is(err, config.ErrEmptyFilter) {
		t.Fatalf("expected ErrEmptyFilter, got %v", err)
	}
}

func TestProcessWatcherDuplicateKeepsNewest(t *testing.T) {
	h := newProcessHarness(t, true, nil,
		probe.ProcessInfo{PID: 100, Command: "node server.js", CreationDate: stamp(baseTime.Add(-time.Hour))},
		probe.ProcessInfo{PID: 101, Command: "node server.js", CreationDate: stamp(baseTime.Add(-time.Hour + time.Minute))},
		probe.ProcessInfo{PID: 102, Command: "vite --port 5173", CreationDate: stamp(baseTime.Add(-time.Hour))},
	)

	kills := ofType(h.tick(), engine.EventTypeKill)
	if len(kills) != 1 {
		t.Fatalf("expected one kill event, got %+v", kills)
	}
	evt := kills[0]
	if evt.PID != 100 || evt.Reason != "duplicate instance" || evt.Kind != string(kill.KindDuplicate) {
		t.Fatalf("unexpected kill event: %+v", evt)
	}
	if evt.Outcome != string(kill.OutcomeDryRunSkipped) || evt.Watcher != engine.WatcherProcess {
		t.Fatalf("unexpected outcome/watcher: %+v", evt)
	}
	if got := h.probe.terminatedPIDs(); len(got) != 0 {
		t.Fatalf("dry run terminated %v", got)
	}
	if h.watcher.Len() != 3 {
		t.Fatalf("dry run must keep records, got %d", h.watcher.Len())
	}
}

func TestProcessWatcherDuplicateTrimsCommand(t *testing.T) {
	h := newProcessHarness(t, true, nil,
		probe.ProcessInfo{PID: 100, Command: "node server.js  ", CreationDate: stamp(baseTime.Add(-2 * time.Minute))},
		probe.ProcessInfo{PID: 101, Command: "  node server.js", CreationDate: stamp(baseTime.Add(-time.Minute))},
	)
	kills := ofType(h.tick(), engine.EventTypeKill)
	if len(kills) != 1 || kills[0].PID != 100 {
		t.Fatalf("expected pid 100 as duplicate, got %+v", kills)
	}
}

func TestProcessWatcherDuplicateTieBreaksOnHigherPID(t *testing.T) {
	created := stamp(baseTime.Add(-time.Minute))
	h := newProcessHarness(t, true, nil,
		probe.ProcessInfo{PID: 300, Command: "node a.js", CreationDate: created},
		probe.ProcessInfo{PID: 200, Command: "node a.js", CreationDate: created},
	)
	kills := ofType(h.tick(), engine.EventTypeKill)
	if len(kills) != 1 || kills[0].PID != 200 {
		t.Fatalf("expected lower pid 200 to be evicted, got %+v", kills)
	}
}

func TestProcessWatcherMaxAgeMessage(t *testing.T) {
	h := newProcessHarness(t, true, func(c *config.WatcherConfig) { c.MaxAge = time.Minute },
		probe.ProcessInfo{PID: 100, Command: "node server.js", CreationDate: stamp(baseTime.Add(-90 * time.Second))},
	)
	kills := ofType(h.tick(), engine.EventTypeKill)
	if len(kills) != 1 {
		t.Fatalf("expected one kill, got %+v", kills)
	}
	if kills[0].Reason != "max age exceeded (1m > 1m)" || kills[0].Kind != string(kill.KindMaxAge) {
		t.Fatalf("unexpected reason: %+v", kills[0])
	}
	if want := kills[0].Reason + ", running for About a minute"; kills[0].Detail != want {
		t.Fatalf("detail = %q, want %q", kills[0].Detail, want)
	}
}

func TestProcessWatcherMaxAgeIsStrict(t *testing.T) {
	h := newProcessHarness(t, true, func(c *config.WatcherConfig) { c.MaxAge = time.Minute },
		probe.ProcessInfo{PID: 100, Command: "node server.js", CreationDate: stamp(baseTime.Add(-time.Minute))},
	)
	if kills := ofType(h.tick(), engine.EventTypeKill); len(kills) != 0 {
		t.Fatalf("age equal to max age must not evict, got %+v", kills)
	}
	h.clock.Advance(time.Second)
	if kills := ofType(h.tick(), engine.EventTypeKill); len(kills) != 1 {
		t.Fatalf("age above max age must evict, got %+v", kills)
	}
}

func TestProcessWatcherMaxAgeDisabled(t *testing.T) {
	h := newProcessHarness(t, true, nil,
		probe.ProcessInfo{PID: 100, Command: "node server.js", CreationDate: stamp(baseTime.Add(-72 * time.Hour))},
	)
	if kills := ofType(h.tick(), engine.EventTypeKill); len(kills) != 0 {
		t.Fatalf("max age 0 must not evict, got %+v", kills)
	}
}

func TestProcessWatcherMalformedCreationDateFallsBackToFirstSeen(t *testing.T) {
	h := newProcessHarness(t, true, func(c *config.WatcherConfig) { c.MaxAge = time.Minute },
		probe.ProcessInfo{PID: 100, Command: "node server.js", CreationDate: "not-a-date-at-all"},
		probe.ProcessInfo{PID: 101, Command: "vite", CreationDate: "20261399999999"},
	)
	if kills := ofType(h.tick(), engine.EventTypeKill); len(kills) != 0 {
		t.Fatalf("fresh records must not evict, got %+v", kills)
	}

	h.clock.Advance(2*time.Minute + 5*time.Second)
	kills := ofType(h.tick(), engine.EventTypeKill)
	if len(kills) != 2 {
		t.Fatalf("expected both records evicted, got %+v", kills)
	}
	for _, evt := range kills {
		if evt.Reason != "max age exceeded (2m > 1m)" {
			t.Fatalf("unexpected reason %q", evt.Reason)
		}
	}
}

func TestProcessWatcherMalformedDatesStillRankDuplicates(t *testing.T) {
	h := newProcessHarness(t, true, nil,
		probe.ProcessInfo{PID: 100, Command: "node server.js", CreationDate: "garbage"},
	)
	h.tick()

	h.clock.Advance(time.Minute)
	h.probe.mu.Lock()
	h.probe.processes = append(h.probe.processes, probe.ProcessInfo{PID: 50, Command: "node server.js", CreationDate: "garbage"})
	h.probe.mu.Unlock()

	kills := ofType(h.tick(), engine.EventTypeKill)
	if len(kills) != 1 || kills[0].PID != 100 {
		t.Fatalf("expected first-seen fallback to keep the later pid 50, got %+v", kills)
	}
}

func TestProcessWatcherDuplicateReasonWinsOverMaxAge(t *testing.T) {
	h := newProcessHarness(t, true, func(c *config.WatcherConfig) { c.MaxAge = time.Minute },
		probe.ProcessInfo{PID: 100, Command: "node server.js", CreationDate: stamp(baseTime.Add(-10 * time.Minute))},
		probe.ProcessInfo{PID: 101, Command: "node server.js", CreationDate: stamp(baseTime.Add(-5 * time.Minute))},
	)
	kills := ofType(h.tick(), engine.EventTypeKill)
	if len(kills) != 2 {
		t.Fatalf("expected two kill events, got %+v", kills)
	}
	if kills[0].PID != 100 || kills[0].Kind != string(kill.KindDuplicate) {
		t.Fatalf("pid 100 should be a duplicate: %+v", kills[0])
	}
	if kills[1].PID != 101 || kills[1].Kind != string(kill.KindMaxAge) {
		t.Fatalf("pid 101 should exceed max age: %+v", kills[1])
	}
}

func TestProcessWatcherKillRemovesRecordImmediately(t *testing.T) {
	h := newProcessHarness(t, false, nil,
		probe.ProcessInfo{PID: 100, Command: "node server.js", CreationDate: stamp(baseTime.Add(-2 * time.Minute))},
		probe.ProcessInfo{PID: 101, Command: "node server.js", CreationDate: stamp(baseTime.Add(-time.Minute))},
	)
	h.probe.vanish = false

	kills := ofType(h.tick(), engine.EventTypeKill)
	if len(kills) != 1 || kills[0].Outcome != string(kill.OutcomeKilled) {
		t.Fatalf("expected a killed outcome, got %+v", kills)
	}
	snap := h.watcher.Snapshot()
	if len(snap) != 1 || snap[0].PID != 101 {
		t.Fatalf("killed record should be removed, got %+v", snap)
	}
}

func TestProcessWatcherFailedKillKeepsRecord(t *testing.T) {
	h := newProcessHarness(t, false, nil,
		probe.ProcessInfo{PID: 100, Command: "node server.js", CreationDate: stamp(baseTime.Add(-2 * time.Minute))},
		probe.ProcessInfo{PID: 101, Command: "node server.js", CreationDate: stamp(baseTime.Add(-time.Minute))},
	)
	h.probe.terminateOK = false

	kills := ofType(h.tick(), engine.EventTypeKill)
	if len(kills) != 1 || kills[0].Outcome != string(kill.OutcomeFailed) {
		t.Fatalf("expected a failed outcome, got %+v", kills)
	}
	if h.watcher.Len() != 2 {
		t.Fatalf("failed kill must keep the record, got %d records", h.watcher.Len())
	}
	if kills := ofType(h.tick(), engine.EventTypeKill); len(kills) != 1 {
		t.Fatalf("failed kill should be retried next tick, got %+v", kills)
	}
}

func TestProcessWatcherStableWorldProducesNoCandidates(t *testing.T) {
	h := newProcessHarness(t, false, func(c *config.WatcherConfig) { c.MaxAge = time.Hour },
		probe.ProcessInfo{PID: 100, Command: "node server.js", CreationDate: stamp(baseTime.Add(-2 * time.Minute))},
		probe.ProcessInfo{PID: 101, Command: "node server.js", CreationDate: stamp(baseTime.Add(-time.Minute))},
		probe.ProcessInfo{PID: 102, Command: "vite", CreationDate: stamp(baseTime.Add(-time.Minute))},
	)
	if kills := ofType(h.tick(), engine.EventTypeKill); len(kills) != 1 {
		t.Fatalf("expected the duplicate to be killed first, got %+v", kills)
	}
	for i := 0; i < 3; i++ {
		h.clock.Advance(time.Second)
		events := h.tick()
		if kills := ofType(events, engine.EventTypeKill); len(kills) != 0 {
			t.Fatalf("tick %d: stable world produced kills %+v", i, kills)
		}
		if tracked := ofType(events, engine.EventTypeTracked); len(tracked) != 0 {
			t.Fatalf("tick %d: stable world re-tracked %+v", i, tracked)
		}
	}
}

func TestProcessWatcherReconcilesExitsAndRefreshes(t *testing.T) {
	h := newProcessHarness(t, true, nil,
		probe.ProcessInfo{PID: 100, Command: "node a.js", CreationDate: "x"},
		probe.ProcessInfo{PID: 101, Command: "node b.js"},
	)
	events := h.tick()
	if tracked := ofType(events, engine.EventTypeTracked); len(tracked) != 2 {
		t.Fatalf("expected two tracked events, got %+v", tracked)
	}

	h.clock.Advance(time.Minute)
	h.probe.mu.Lock()
	h.probe.processes = []probe.ProcessInfo{{PID: 100, Command: "node a.js --watch", CreationDate: "20261019030000"}}
	h.probe.mu.Unlock()

	events = h.tick()
	exited := ofType(events, engine.EventTypeExited)
	if len(exited) != 1 || exited[0].PID != 101 {
		t.Fatalf("expected pid 101 to exit, got %+v", exited)
	}
	snap := h.watcher.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected one record, got %+v", snap)
	}
	rec := snap[0]
	if rec.Command != "node a.js --watch" || rec.CreationDate != "20261019030000" {
		t.Fatalf("record not refreshed: %+v", rec)
	}
	if !rec.FirstSeen.Equal(baseTime) {
		t.Fatalf("first seen must be kept, got %s", rec.FirstSeen)
	}
}
