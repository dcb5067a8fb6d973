// Package watcher holds the per-tick state machines that track processes and
// ports across polls and decide which of them are zombies.
package watcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Paintersrp/zombie-watcher/internal/config"
	"github.com/Paintersrp/zombie-watcher/internal/engine"
	"github.com/Paintersrp/zombie-watcher/internal/kill"
	"github.com/Paintersrp/zombie-watcher/internal/metrics"
	"github.com/Paintersrp/zombie-watcher/internal/probe"
)

// Option customises a watcher.
type Option func(*base)

// WithEvents sets the channel that receives watcher events.
func WithEvents(events chan<- engine.Event) Option {
	return func(b *base) { b.events = events }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *base) {
		if now != nil {
			b.now = now
		}
	}
}

// WithLogger sets the watcher logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *base) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// base is the plumbing shared by both watcher variants.
type base struct {
	name     string
	cfg      *config.WatcherConfig
	probe    probe.Probe
	executor *kill.Executor
	events   chan<- engine.Event
	now      func() time.Time
	logger   *zap.Logger
}

func newBase(name string, cfg *config.WatcherConfig, p probe.Probe, executor *kill.Executor, opts []Option) base {
	b := base{
		name:     name,
		cfg:      cfg,
		probe:    p,
		executor: executor,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&b)
	}
	b.logger = b.logger.Named(name)
	return b
}

// Name identifies the watcher in events and metrics.
func (b *base) Name() string {
	return b.name
}

func (b *base) event(t engine.EventType) engine.Event {
	return engine.Event{Timestamp: b.now(), Watcher: b.name, Type: t}
}

func (b *base) flush(events []engine.Event) {
	for _, evt := range events {
		engine.Emit(b.events, evt)
	}
}

// execute runs one kill and reports it. It returns true when the process was
// actually killed.
func (b *base) execute(ctx context.Context, pid, port int, command string, reason kill.Reason) bool {
	report := b.executor.Execute(ctx, pid, reason)
	metrics.IncrementKill(b.name, string(reason.Kind), string(report.Outcome))

	evt := b.event(engine.EventTypeKill)
	evt.Timestamp = report.At
	evt.PID = pid
	evt.Port = port
	evt.Command = command
	evt.Kind = string(reason.Kind)
	evt.Reason = reason.String()
	evt.Detail = reason.Detail()
	evt.Outcome = string(report.Outcome)
	engine.Emit(b.events, evt)

	return report.Outcome == kill.OutcomeKilled
}
