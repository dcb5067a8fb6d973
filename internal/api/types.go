package api

import (
	stdcontext "context"
	"errors"
	"time"

	"github.com/Paintersrp/zombie-watcher/internal/cliutil"
)

var (
	ErrInvalidLimit = errors.New("invalid limit")
	ErrUnavailable  = errors.New("status unavailable")
)

// ProcessReport describes one process tracked by the process watcher.
type ProcessReport struct {
	PID          int       `json:"pid"`
	Command      string    `json:"command"`
	FirstSeen    time.Time `json:"first_seen"`
	StartedAt    time.Time `json:"started_at"`
	CreationDate string    `json:"creation_date,omitempty"`
	Age          string    `json:"age"`
}

// PortReport describes one bound port tracked by the port watcher.
type PortReport struct {
	Port      int       `json:"port"`
	Base      int       `json:"base"`
	PID       int       `json:"pid"`
	FirstSeen time.Time `json:"first_seen"`
	Age       string    `json:"age"`
}

// Totals counts kill decisions since startup.
type Totals struct {
	Killed  int `json:"killed"`
	DryRun  int `json:"dry_run"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// StatusReport aggregates the state of every running watcher.
type StatusReport struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Mode        string          `json:"mode"`
	Strategy    string          `json:"strategy,omitempty"`
	DryRun      bool            `json:"dry_run"`
	Filter      []string        `json:"filter"`
	Processes   []ProcessReport `json:"processes"`
	Ports       []PortReport    `json:"ports"`
	Totals      Totals          `json:"totals"`
}

// Controller exposes watcher state to read-only servers.
type Controller interface {
	Status(stdcontext.Context) (*StatusReport, error)
	// Events returns up to limit of the most recent events, oldest first.
	Events(stdcontext.Context, int) ([]cliutil.LogRecord, error)
}
