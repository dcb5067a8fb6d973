// Package kill turns kill decisions into terminate calls, honouring dry-run.
package kill

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/go-units"

	"github.com/Paintersrp/zombie-watcher/internal/probe"
)

// Kind classifies why a process was selected for termination.
type Kind string

const (
	KindDuplicate Kind = "duplicate"
	KindMaxAge    Kind = "max-age"
	KindKillBase  Kind = "kill-base"
	KindChain     Kind = "chain"
)

// Reason is the structured cause of a kill decision.
type Reason struct {
	Kind Kind
	// Port is the base port for kill-base and the surviving top port for chain.
	Port int
	// Elapsed and Limit describe max-age decisions.
	Elapsed time.Duration
	Limit   time.Duration
}

// Duplicate reports a redundant instance of the same command line.
func Duplicate() Reason {
	return Reason{Kind: KindDuplicate}
}

// MaxAge reports a process that has been alive longer than limit.
func MaxAge(elapsed, limit time.Duration) Reason {
	return Reason{Kind: KindMaxAge, Elapsed: elapsed, Limit: limit}
}

// KillBase reports the occupant of a base port.
func KillBase(base int) Reason {
	return Reason{Kind: KindKillBase, Port: base}
}

// Chain reports a process superseded by the instance listening on top.
func Chain(top int) Reason {
	return Reason{Kind: KindChain, Port: top}
}

// String renders the reason for humans.
func (r Reason) String() string {
	switch r.Kind {
	case KindDuplicate:
		return "duplicate instance"
	case KindMaxAge:
		return fmt.Sprintf("max age exceeded (%dm > %dm)", wholeMinutes(r.Elapsed), wholeMinutes(r.Limit))
	case KindKillBase:
		return fmt.Sprintf("base port %d occupied (kill-base strategy)", r.Port)
	case KindChain:
		return fmt.Sprintf("superseded by port %d (chain strategy)", r.Port)
	default:
		return string(r.Kind)
	}
}

// Detail extends String with the human running time of max-age decisions.
func (r Reason) Detail() string {
	if r.Kind == KindMaxAge {
		return fmt.Sprintf("%s, running for %s", r.String(), units.HumanDuration(r.Elapsed))
	}
	return r.String()
}

func wholeMinutes(d time.Duration) int64 {
	return int64(d / time.Minute)
}

// Outcome is the result of one Execute call.
type Outcome string

const (
	OutcomeKilled        Outcome = "killed"
	OutcomeDryRunSkipped Outcome = "dry-run-skipped"
	OutcomeFailed        Outcome = "failed"
)

// Report describes one kill attempt.
type Report struct {
	PID     int
	Reason  Reason
	Outcome Outcome
	At      time.Time
}

// Executor wraps Probe.Terminate with the dry-run gate. It is stateless and
// safe to share between watchers.
type Executor struct {
	probe  probe.Probe
	dryRun bool
	now    func() time.Time
}

// NewExecutor constructs an executor. When dryRun is set the probe is never
// asked to terminate anything.
func NewExecutor(p probe.Probe, dryRun bool) *Executor {
	return &Executor{probe: p, dryRun: dryRun, now: time.Now}
}

// Execute terminates pid forcefully unless running dry.
func (e *Executor) Execute(ctx context.Context, pid int, reason Reason) Report {
	report := Report{PID: pid, Reason: reason, At: e.now()}
	switch {
	case e.dryRun:
		report.Outcome = OutcomeDryRunSkipped
	case e.probe.Terminate(ctx, pid, true):
		report.Outcome = OutcomeKilled
	default:
		report.Outcome = OutcomeFailed
	}
	return report
}
