package watcher

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Paintersrp/zombie-watcher/internal/config"
	"github.com/Paintersrp/zombie-watcher/internal/engine"
	"github.com/Paintersrp/zombie-watcher/internal/kill"
	"github.com/Paintersrp/zombie-watcher/internal/metrics"
	"github.com/Paintersrp/zombie-watcher/internal/probe"
)

// PortRecord is one bound port inside a configured range.
type PortRecord struct {
	Port      int
	Base      int
	PID       int
	FirstSeen time.Time
}

// PortWatcher applies the chain or kill-base strategy to configured port ranges.
type PortWatcher struct {
	base

	mu      sync.RWMutex
	records map[int]*PortRecord
}

// NewPortWatcher constructs a port watcher. An empty filter is accepted but
// means every candidate is skipped.
func NewPortWatcher(cfg *config.WatcherConfig, p probe.Probe, executor *kill.Executor, opts ...Option) *PortWatcher {
	w := &PortWatcher{
		base:    newBase(engine.WatcherPort, cfg, p, executor, opts),
		records: make(map[int]*PortRecord),
	}
	if len(cfg.Filter) == 0 {
		w.logger.Warn("filter is empty; port candidates will be reported but never killed")
	}
	w.logger.Debug("port watcher configured",
		zap.Ints("base", cfg.BasePorts),
		zap.Int("range", cfg.Range),
		zap.String("strategy", string(cfg.Strategy)),
	)
	return w
}

type portCandidate struct {
	pid    int
	port   int
	reason kill.Reason
}

// Tick runs one probe-decide-kill cycle.
func (w *PortWatcher) Tick(ctx context.Context) {
	listeners := w.probe.Listeners(ctx)
	now := w.now()

	w.mu.Lock()
	events := w.reconcile(now, listeners)
	w.mu.Unlock()
	w.flush(events)

	for _, c := range w.candidates(listeners) {
		command, ok := w.probe.Command(ctx, c.pid)
		if !ok || !w.cfg.MatchesFilter(command) {
			w.skip(c, command, ok)
			continue
		}
		if w.execute(ctx, c.pid, c.port, command, c.reason) {
			w.forget(c.pid)
		}
	}
	metrics.SetTracked(w.name, w.Len())
}

func (w *PortWatcher) skip(c portCandidate, command string, resolved bool) {
	evt := w.event(engine.EventTypeSkipped)
	evt.PID = c.pid
	evt.Port = c.port
	evt.Command = command
	evt.Kind = string(c.reason.Kind)
	evt.Reason = c.reason.String()
	if resolved {
		evt.Message = "command does not match filter"
	} else {
		evt.Message = "command could not be resolved"
	}
	engine.Emit(w.events, evt)
}

func (w *PortWatcher) forget(pid int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for port, rec := range w.records {
		if rec.PID == pid {
			delete(w.records, port)
		}
	}
}

// inRange maps every bound port inside a configured range to its base. A port
// covered by overlapping ranges belongs to the first configured base.
func (w *PortWatcher) inRange(listeners map[int]int) map[int]int {
	bound := make(map[int]int)
	for _, r := range w.cfg.Ranges() {
		for port := r.Low; port <= r.High; port++ {
			if _, ok := listeners[port]; !ok {
				continue
			}
			if _, dup := bound[port]; !dup {
				bound[port] = r.Base
			}
		}
	}
	return bound
}

func (w *PortWatcher) reconcile(now time.Time, listeners map[int]int) []engine.Event {
	bound := w.inRange(listeners)
	ports := make([]int, 0, len(bound))
	for port := range bound {
		ports = append(ports, port)
	}
	sort.Ints(ports)

	var events []engine.Event
	for _, port := range ports {
		pid := listeners[port]
		rec, ok := w.records[port]
		switch {
		case !ok:
			evt := w.event(engine.EventTypeTracked)
			evt.Port, evt.PID = port, pid
			events = append(events, evt)
		case rec.PID != pid:
			evt := w.event(engine.EventTypeReplaced)
			evt.Port, evt.PID = port, pid
			evt.Message = fmt.Sprintf("previous owner %d", rec.PID)
			events = append(events, evt)
		default:
			continue
		}
		w.records[port] = &PortRecord{Port: port, Base: bound[port], PID: pid, FirstSeen: now}
	}

	var gone []int
	for port := range w.records {
		if _, ok := bound[port]; !ok {
			gone = append(gone, port)
		}
	}
	sort.Ints(gone)
	for _, port := range gone {
		evt := w.event(engine.EventTypeExited)
		evt.Port, evt.PID = port, w.records[port].PID
		events = append(events, evt)
		delete(w.records, port)
	}
	return events
}

// candidates applies the configured strategy to each range. Under chain, the
// owner of the highest bound port of any range is never a candidate; lower
// bound ports in that range are, regardless of gaps. A pid appears at most
// once, attributed to its lowest candidate port.
func (w *PortWatcher) candidates(listeners map[int]int) []portCandidate {
	var found []portCandidate
	live := make(map[int]struct{})

	for _, r := range w.cfg.Ranges() {
		switch w.cfg.Strategy {
		case config.StrategyKillBase:
			if pid, ok := listeners[r.Base]; ok {
				found = append(found, portCandidate{pid: pid, port: r.Base, reason: kill.KillBase(r.Base)})
			}
		case config.StrategyChain:
			var ports []int
			for port := r.Low; port <= r.High; port++ {
				if _, ok := listeners[port]; ok {
					ports = append(ports, port)
				}
			}
			if len(ports) == 0 {
				continue
			}
			top := ports[len(ports)-1]
			live[listeners[top]] = struct{}{}
			for _, port := range ports[:len(ports)-1] {
				found = append(found, portCandidate{pid: listeners[port], port: port, reason: kill.Chain(top)})
			}
		}
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].port < found[j].port })
	seen := make(map[int]struct{}, len(found))
	out := found[:0]
	for _, c := range found {
		if _, ok := live[c.pid]; ok {
			continue
		}
		if _, ok := seen[c.pid]; ok {
			continue
		}
		seen[c.pid] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Snapshot returns a copy of the tracked ports ordered by port.
func (w *PortWatcher) Snapshot() []PortRecord {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]PortRecord, 0, len(w.records))
	for _, rec := range w.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

// Len returns the number of tracked ports.
func (w *PortWatcher) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.records)
}
