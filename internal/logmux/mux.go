package logmux

import (
	"fmt"
	"sync"
	"time"

	"github.com/Paintersrp/zombie-watcher/internal/engine"
)

// Mux fans in events from every watcher onto one channel. The primary output
// is lossless: sources block until it is drained. Taps receive a best-effort
// copy; when a tap's buffer is full its events are dropped and a synthesized
// dropped event reports how many were discarded.
type Mux struct {
	out chan engine.Event

	mu     sync.Mutex
	taps   []*tap
	inputs sync.WaitGroup
}

type tap struct {
	ch    chan<- engine.Event
	drops map[string]int
}

// New constructs a mux backed by a channel of the provided size. A size of
// zero results in a minimally buffered channel.
func New(size int) *Mux {
	if size <= 0 {
		size = 1
	}
	return &Mux{out: make(chan engine.Event, size)}
}

// Output exposes the muxed event channel.
func (m *Mux) Output() <-chan engine.Event {
	return m.out
}

// Tap registers a lossy secondary consumer. The mux never closes ch.
func (m *Mux) Tap(ch chan<- engine.Event) {
	if ch == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taps = append(m.taps, &tap{ch: ch, drops: make(map[string]int)})
}

// Add registers a new source channel. The mux consumes events until the
// source channel is closed.
func (m *Mux) Add(source <-chan engine.Event) {
	if source == nil {
		return
	}
	m.inputs.Add(1)
	go func() {
		defer m.inputs.Done()
		for evt := range source {
			if evt.Timestamp.IsZero() {
				evt.Timestamp = time.Now()
			}
			m.out <- evt
			m.deliverTaps(evt)
		}
	}()
}

// Close waits for all sources to be drained, offers pending drop counts to
// the taps, and closes the output channel.
func (m *Mux) Close() {
	m.inputs.Wait()
	m.mu.Lock()
	for _, t := range m.taps {
		for watcher := range t.drops {
			t.flushPending(watcher)
		}
	}
	m.mu.Unlock()
	close(m.out)
}

func (m *Mux) deliverTaps(evt engine.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.taps {
		if !t.flushPending(evt.Watcher) || !t.trySend(evt) {
			t.drops[evt.Watcher]++
		}
	}
}

func (t *tap) flushPending(watcher string) bool {
	count := t.drops[watcher]
	if count == 0 {
		return true
	}
	if !t.trySend(synthesizeDropEvent(watcher, count)) {
		return false
	}
	delete(t.drops, watcher)
	return true
}

func (t *tap) trySend(evt engine.Event) bool {
	select {
	case t.ch <- evt:
		return true
	default:
		return false
	}
}

func synthesizeDropEvent(watcher string, count int) engine.Event {
	return engine.Event{
		Timestamp: time.Now(),
		Watcher:   watcher,
		Type:      engine.EventTypeDropped,
		Message:   fmt.Sprintf("dropped=%d", count),
	}
}
