package cliutil

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/Paintersrp/zombie-watcher/internal/engine"
	"github.com/Paintersrp/zombie-watcher/internal/kill"
)

// LogRecord represents a structured watcher event ready for JSON encoding.
type LogRecord struct {
	Timestamp time.Time `json:"ts"`
	Watcher   string    `json:"watcher"`
	Event     string    `json:"event"`
	Level     string    `json:"level"`
	PID       int       `json:"pid,omitempty"`
	Port      int       `json:"port,omitempty"`
	Command   string    `json:"command,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Message   string    `json:"msg"`
}

// NewLogRecord converts an engine event into a structured log record. Command
// lines are redacted.
func NewLogRecord(event engine.Event) LogRecord {
	return LogRecord{
		Timestamp: event.Timestamp,
		Watcher:   event.Watcher,
		Event:     string(event.Type),
		Level:     EventLevel(event).String(),
		PID:       event.PID,
		Port:      event.Port,
		Command:   RedactSecrets(event.Command),
		Kind:      event.Kind,
		Reason:    event.Reason,
		Outcome:   event.Outcome,
		Message:   EventMessage(event),
	}
}

// EncodeLogEvent encodes an event to JSON, reporting errors to stderr if needed.
func EncodeLogEvent(enc *json.Encoder, stderr io.Writer, event engine.Event) {
	if enc == nil {
		return
	}
	record := NewLogRecord(event)
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	if err := enc.Encode(&record); err != nil {
		fmt.Fprintf(stderr, "error: encode log: %v\n", err)
	}
}

// EventLevel is the log level an event is reported at.
func EventLevel(event engine.Event) zapcore.Level {
	switch event.Type {
	case engine.EventTypeKill:
		switch kill.Outcome(event.Outcome) {
		case kill.OutcomeFailed:
			return zapcore.WarnLevel
		default:
			return zapcore.InfoLevel
		}
	case engine.EventTypeReplaced:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// EventMessage renders a one-line summary of an event.
func EventMessage(event engine.Event) string {
	if event.Message != "" && event.Type != engine.EventTypeKill {
		return event.Message
	}
	switch event.Type {
	case engine.EventTypeTracked:
		return "tracking"
	case engine.EventTypeReplaced:
		return "owner changed"
	case engine.EventTypeExited:
		return "no longer observed"
	case engine.EventTypeKill:
		switch kill.Outcome(event.Outcome) {
		case kill.OutcomeKilled:
			return "killed zombie"
		case kill.OutcomeDryRunSkipped:
			return "would kill zombie (dry run)"
		default:
			return "failed to kill zombie"
		}
	default:
		return string(event.Type)
	}
}

// LogEvent writes event to logger with the watcher fields attached.
func LogEvent(logger *zap.Logger, event engine.Event) {
	level := EventLevel(event)
	ce := logger.Check(level, EventMessage(event))
	if ce == nil {
		return
	}
	fields := []zap.Field{
		zap.String("watcher", event.Watcher),
		zap.String("event", string(event.Type)),
	}
	if event.PID != 0 {
		fields = append(fields, zap.Int("pid", event.PID))
	}
	if event.Port != 0 {
		fields = append(fields, zap.Int("port", event.Port))
	}
	if event.Command != "" {
		fields = append(fields, zap.String("command", RedactSecrets(event.Command)))
	}
	if event.Reason != "" {
		fields = append(fields, zap.String("reason", event.Reason))
	}
	if event.Outcome != "" {
		fields = append(fields, zap.String("outcome", event.Outcome))
	}
	ce.Write(fields...)
}

// EventLogger logs events, suppressing repeats of the same dry-run notice.
type EventLogger struct {
	logger *zap.Logger
	now    func() time.Time
	every  time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewEventLogger returns an EventLogger that reports a given pid and reason
// in dry-run at most once per minute.
func NewEventLogger(logger *zap.Logger) *EventLogger {
	return &EventLogger{
		logger:   logger,
		now:      time.Now,
		every:    time.Minute,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Log writes event unless it is a suppressed dry-run repeat.
func (l *EventLogger) Log(event engine.Event) {
	if event.Type == engine.EventTypeExited {
		l.forget(event.Watcher, event.PID)
	}
	if event.Type == engine.EventTypeKill && event.Outcome == string(kill.OutcomeDryRunSkipped) && !l.allow(event) {
		return
	}
	LogEvent(l.logger, event)
}

func (l *EventLogger) allow(event engine.Event) bool {
	key := fmt.Sprintf("%s/%d/%s", event.Watcher, event.PID, event.Kind)
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(l.every), 1)
		l.limiters[key] = limiter
	}
	return limiter.AllowN(l.now(), 1)
}

func (l *EventLogger) forget(watcher string, pid int) {
	prefix := fmt.Sprintf("%s/%d/", watcher, pid)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.limiters {
		if strings.HasPrefix(key, prefix) {
			delete(l.limiters, key)
		}
	}
}
