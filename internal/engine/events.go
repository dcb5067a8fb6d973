package engine

import "time"

// EventType captures the notifications emitted by watchers during a tick.
type EventType string

const (
	// EventTypeTracked is emitted when a process or port is first observed.
	EventTypeTracked EventType = "tracked"
	// EventTypeReplaced is emitted when a tracked port changes owner.
	EventTypeReplaced EventType = "replaced"
	// EventTypeExited is emitted when a tracked entry is no longer observed.
	EventTypeExited EventType = "exited"
	// EventTypeKill reports the outcome of a kill decision.
	EventTypeKill EventType = "kill"
	// EventTypeSkipped reports a candidate that failed the filter check.
	EventTypeSkipped EventType = "skipped"
	// EventTypeDropped reports events discarded for a slow display consumer.
	EventTypeDropped EventType = "dropped"
)

// Watcher names used in events, metrics and the status API.
const (
	WatcherProcess = "process"
	WatcherPort    = "port"
)

// Event represents a single watcher notification.
type Event struct {
	Timestamp time.Time
	Watcher   string
	Type      EventType
	PID       int
	Port      int
	Command   string
	// Kind is the machine readable kill reason, Reason its rendering and
	// Detail the longer form shown on the dashboard.
	Kind    string
	Reason  string
	Detail  string
	Outcome string
	Message string
}

// Emit delivers evt when events is non-nil. The send blocks; consumers drain
// the channel until it is closed after every scheduler has returned.
func Emit(events chan<- Event, evt Event) {
	if events == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	events <- evt
}
