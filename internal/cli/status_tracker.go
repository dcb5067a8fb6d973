package cli

import (
	"context"
	"sync"
	"time"

	"github.com/docker/go-units"

	"github.com/Paintersrp/zombie-watcher/internal/api"
	"github.com/Paintersrp/zombie-watcher/internal/cliutil"
	"github.com/Paintersrp/zombie-watcher/internal/config"
	"github.com/Paintersrp/zombie-watcher/internal/engine"
	"github.com/Paintersrp/zombie-watcher/internal/kill"
	"github.com/Paintersrp/zombie-watcher/internal/watcher"
)

const defaultHistory = 500

// statusTracker keeps a bounded history of watcher events and serves status
// reports assembled from the live watcher tables.
type statusTracker struct {
	cfg *config.WatcherConfig
	now func() time.Time

	mu        sync.RWMutex
	history   []cliutil.LogRecord
	capacity  int
	totals    api.Totals
	processes *watcher.ProcessWatcher
	ports     *watcher.PortWatcher
}

var _ api.Controller = (*statusTracker)(nil)

func newStatusTracker(cfg *config.WatcherConfig, capacity int) *statusTracker {
	if capacity <= 0 {
		capacity = defaultHistory
	}
	return &statusTracker{cfg: cfg, capacity: capacity, now: time.Now}
}

func (t *statusTracker) attach(processes *watcher.ProcessWatcher, ports *watcher.PortWatcher) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processes = processes
	t.ports = ports
}

// Apply records the supplied event.
func (t *statusTracker) Apply(evt engine.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = t.now()
	}
	record := cliutil.NewLogRecord(evt)

	t.mu.Lock()
	defer t.mu.Unlock()

	switch evt.Type {
	case engine.EventTypeKill:
		switch kill.Outcome(evt.Outcome) {
		case kill.OutcomeKilled:
			t.totals.Killed++
		case kill.OutcomeDryRunSkipped:
			t.totals.DryRun++
		case kill.OutcomeFailed:
			t.totals.Failed++
		}
	case engine.EventTypeSkipped:
		t.totals.Skipped++
	}

	if len(t.history) == t.capacity {
		copy(t.history, t.history[1:])
		t.history = t.history[:t.capacity-1]
	}
	t.history = append(t.history, record)
}

// Events returns up to limit of the most recent events, oldest first.
func (t *statusTracker) Events(_ context.Context, limit int) ([]cliutil.LogRecord, error) {
	if limit <= 0 {
		return nil, api.ErrInvalidLimit
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	start := 0
	if len(t.history) > limit {
		start = len(t.history) - limit
	}
	return append([]cliutil.LogRecord{}, t.history[start:]...), nil
}

// Status reports every tracked entry along with kill totals.
func (t *statusTracker) Status(ctx context.Context) (*api.StatusReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	processes, ports, totals := t.processes, t.ports, t.totals
	t.mu.RUnlock()

	now := t.now()
	report := &api.StatusReport{
		GeneratedAt: now,
		Mode:        string(t.cfg.Mode),
		DryRun:      t.cfg.DryRun,
		Filter:      append([]string{}, t.cfg.Filter...),
		Processes:   []api.ProcessReport{},
		Ports:       []api.PortReport{},
		Totals:      totals,
	}
	if t.cfg.RunsPortWatcher() {
		report.Strategy = string(t.cfg.Strategy)
	}
	if processes != nil {
		for _, rec := range processes.Snapshot() {
			started := rec.StartTime()
			report.Processes = append(report.Processes, api.ProcessReport{
				PID:          rec.PID,
				Command:      cliutil.RedactSecrets(rec.Command),
				FirstSeen:    rec.FirstSeen,
				StartedAt:    started,
				CreationDate: rec.CreationDate,
				Age:          humanAge(now, started),
			})
		}
	}
	if ports != nil {
		for _, rec := range ports.Snapshot() {
			report.Ports = append(report.Ports, api.PortReport{
				Port:      rec.Port,
				Base:      rec.Base,
				PID:       rec.PID,
				FirstSeen: rec.FirstSeen,
				Age:       humanAge(now, rec.FirstSeen),
			})
		}
	}
	return report, nil
}

func humanAge(now, since time.Time) string {
	if since.IsZero() || since.After(now) {
		return "-"
	}
	return units.HumanDuration(now.Sub(since))
}
