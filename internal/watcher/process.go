package watcher

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Paintersrp/zombie-watcher/internal/config"
	"github.com/Paintersrp/zombie-watcher/internal/engine"
	"github.com/Paintersrp/zombie-watcher/internal/kill"
	"github.com/Paintersrp/zombie-watcher/internal/metrics"
	"github.com/Paintersrp/zombie-watcher/internal/probe"
)

// ProcessRecord is one tracked process.
type ProcessRecord struct {
	PID          int
	Command      string
	FirstSeen    time.Time
	CreationDate string
}

// StartTime returns the creation time when known, otherwise FirstSeen.
func (r ProcessRecord) StartTime() time.Time {
	return StartTime(r.CreationDate, r.FirstSeen)
}

// ProcessWatcher evicts duplicate and over-age processes matching the filter.
type ProcessWatcher struct {
	base

	mu      sync.RWMutex
	records map[int]*ProcessRecord
}

// NewProcessWatcher constructs a process watcher. It refuses an empty filter.
func NewProcessWatcher(cfg *config.WatcherConfig, p probe.Probe, executor *kill.Executor, opts ...Option) (*ProcessWatcher, error) {
	if len(cfg.Filter) == 0 {
		return nil, fmt.Errorf("process watcher: %w", config.ErrEmptyFilter)
	}
	w := &ProcessWatcher{
		base:    newBase(engine.WatcherProcess, cfg, p, executor, opts),
		records: make(map[int]*ProcessRecord),
	}
	w.logger.Debug("process watcher configured",
		zap.Strings("filter", cfg.Filter),
		zap.Duration("max_age", cfg.MaxAge),
	)
	return w, nil
}

type processCandidate struct {
	pid     int
	command string
	reason  kill.Reason
}

// Tick runs one probe-decide-kill cycle.
func (w *ProcessWatcher) Tick(ctx context.Context) {
	observed := w.probe.MatchingProcesses(ctx, w.cfg.Filter)
	now := w.now()

	w.mu.Lock()
	events := w.reconcile(now, observed)
	candidates := w.candidates(now)
	w.mu.Unlock()
	w.flush(events)

	for _, c := range candidates {
		if w.execute(ctx, c.pid, 0, c.command, c.reason) {
			w.mu.Lock()
			delete(w.records, c.pid)
			w.mu.Unlock()
		}
	}
	metrics.SetTracked(w.name, w.Len())
}

func (w *ProcessWatcher) reconcile(now time.Time, observed []probe.ProcessInfo) []engine.Event {
	var events []engine.Event
	seen := make(map[int]struct{}, len(observed))
	for _, info := range observed {
		seen[info.PID] = struct{}{}
		if rec, ok := w.records[info.PID]; ok {
			rec.Command = info.Command
			rec.CreationDate = info.CreationDate
			continue
		}
		w.records[info.PID] = &ProcessRecord{
			PID:          info.PID,
			Command:      info.Command,
			FirstSeen:    now,
			CreationDate: info.CreationDate,
		}
		evt := w.event(engine.EventTypeTracked)
		evt.PID = info.PID
		evt.Command = info.Command
		events = append(events, evt)
	}

	var gone []int
	for pid := range w.records {
		if _, ok := seen[pid]; !ok {
			gone = append(gone, pid)
		}
	}
	sort.Ints(gone)
	for _, pid := range gone {
		evt := w.event(engine.EventTypeExited)
		evt.PID = pid
		evt.Command = w.records[pid].Command
		events = append(events, evt)
		delete(w.records, pid)
	}
	return events
}

// candidates applies the duplicate and max-age policies. A pid appears at
// most once; the duplicate reason takes precedence.
func (w *ProcessWatcher) candidates(now time.Time) []processCandidate {
	records := w.sortedRecords()
	reasons := make(map[int]kill.Reason)
	for _, pid := range duplicates(records) {
		reasons[pid] = kill.Duplicate()
	}
	if limit := w.cfg.MaxAge; limit > 0 {
		for _, rec := range records {
			if _, ok := reasons[rec.PID]; ok {
				continue
			}
			if age := now.Sub(rec.StartTime()); age > limit {
				reasons[rec.PID] = kill.MaxAge(age, limit)
			}
		}
	}

	var out []processCandidate
	for _, rec := range records {
		if reason, ok := reasons[rec.PID]; ok {
			out = append(out, processCandidate{pid: rec.PID, command: rec.Command, reason: reason})
		}
	}
	return out
}

// duplicates groups records by trimmed command line and returns every pid
// except the newest member of each group with two or more members. The newest
// is the latest start time, ties broken by the higher pid.
func duplicates(records []*ProcessRecord) []int {
	groups := make(map[string][]*ProcessRecord)
	for _, rec := range records {
		key := strings.TrimSpace(rec.Command)
		if key == "" {
			continue
		}
		groups[key] = append(groups[key], rec)
	}

	var pids []int
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		keep := group[0]
		for _, rec := range group[1:] {
			if newer(rec, keep) {
				keep = rec
			}
		}
		for _, rec := range group {
			if rec != keep {
				pids = append(pids, rec.PID)
			}
		}
	}
	sort.Ints(pids)
	return pids
}

func newer(a, b *ProcessRecord) bool {
	as, bs := a.StartTime(), b.StartTime()
	if !as.Equal(bs) {
		return as.After(bs)
	}
	return a.PID > b.PID
}

func (w *ProcessWatcher) sortedRecords() []*ProcessRecord {
	records := make([]*ProcessRecord, 0, len(w.records))
	for _, rec := range w.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].PID < records[j].PID })
	return records
}

// Snapshot returns a copy of the tracked records ordered by pid.
func (w *ProcessWatcher) Snapshot() []ProcessRecord {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]ProcessRecord, 0, len(w.records))
	for _, rec := range w.sortedRecords() {
		out = append(out, *rec)
	}
	return out
}

// Len returns the number of tracked processes.
func (w *ProcessWatcher) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.records)
}
