package logmux

import (
	"sort"
	"testing"
	"time"

	"github.com/Paintersrp/zombie-watcher/internal/engine"
)

func TestMuxFansInMultipleSources(t *testing.T) {
	mux := New(4)
	src1 := make(chan engine.Event)
	src2 := make(chan engine.Event)

	mux.Add(src1)
	mux.Add(src2)

	go func() {
		src1 <- engine.Event{Watcher: engine.WatcherPort, Type: engine.EventTypeTracked, PID: 1}
		src1 <- engine.Event{Watcher: engine.WatcherPort, Type: engine.EventTypeTracked, PID: 2}
		close(src1)
	}()

	go func() {
		src2 <- engine.Event{Watcher: engine.WatcherProcess, Type: engine.EventTypeTracked, PID: 3}
		close(src2)
	}()

	go mux.Close()

	var pids []int
	var portPIDs []int
	for evt := range mux.Output() {
		if evt.Timestamp.IsZero() {
			t.Fatalf("expected timestamp to be stamped on %+v", evt)
		}
		pids = append(pids, evt.PID)
		if evt.Watcher == engine.WatcherPort {
			portPIDs = append(portPIDs, evt.PID)
		}
	}

	if len(pids) != 3 {
		t.Fatalf("expected 3 events, got %d", len(pids))
	}
	if len(portPIDs) != 2 || portPIDs[0] != 1 || portPIDs[1] != 2 {
		t.Fatalf("expected per-source order to be preserved, got %v", portPIDs)
	}
	sort.Ints(pids)
	for i, want := range []int{1, 2, 3} {
		if pids[i] != want {
			t.Fatalf("event %d pid mismatch: got %d want %d", i, pids[i], want)
		}
	}
}

func TestMuxTapDropsWhenFull(t *testing.T) {
	mux := New(1)
	tapCh := make(chan engine.Event, 1)
	mux.Tap(tapCh)

	evt := func(pid int) engine.Event {
		return engine.Event{Watcher: engine.WatcherPort, Type: engine.EventTypeTracked, PID: pid}
	}
	mux.deliverTaps(evt(1))
	mux.deliverTaps(evt(2))
	mux.deliverTaps(evt(3))

	if first := <-tapCh; first.PID != 1 {
		t.Fatalf("expected first tapped event pid 1, got %d", first.PID)
	}

	mux.deliverTaps(evt(4))
	meta := <-tapCh
	if meta.Type != engine.EventTypeDropped {
		t.Fatalf("expected dropped event, got %s", meta.Type)
	}
	if meta.Watcher != engine.WatcherPort {
		t.Fatalf("meta event watcher mismatch: got %s", meta.Watcher)
	}
	if meta.Message != "dropped=2" {
		t.Fatalf("expected drop metadata, got %q", meta.Message)
	}
	if time.Since(meta.Timestamp) > time.Second {
		t.Fatalf("expected recent timestamp, got %v", meta.Timestamp)
	}

	mux.Close()
	if last := <-tapCh; last.Message != "dropped=1" {
		t.Fatalf("expected pending drops to be flushed on close, got %q", last.Message)
	}
	if _, ok := <-mux.Output(); ok {
		t.Fatalf("expected output to be closed")
	}
}

func TestMuxPrimaryOutputIsLossless(t *testing.T) {
	mux := New(1)
	mux.Tap(make(chan engine.Event))
	src := make(chan engine.Event)
	mux.Add(src)

	go func() {
		for pid := 1; pid <= 50; pid++ {
			src <- engine.Event{Watcher: engine.WatcherProcess, Type: engine.EventTypeTracked, PID: pid}
		}
		close(src)
	}()
	go mux.Close()

	count := 0
	for range mux.Output() {
		count++
	}
	if count != 50 {
		t.Fatalf("expected 50 events on the primary output, got %d", count)
	}
}
