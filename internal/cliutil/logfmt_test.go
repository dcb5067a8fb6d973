package cliutil

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Paintersrp/zombie-watcher/internal/engine"
	"github.com/Paintersrp/zombie-watcher/internal/kill"
)

func killEvent(outcome kill.Outcome) engine.Event {
	return engine.Event{
		Timestamp: time.Unix(0, 0),
		Watcher:   engine.WatcherPort,
		Type:      engine.EventTypeKill,
		PID:       4121,
		Port:      5173,
		Command:   "node server.js --token abc123",
		Kind:      string(kill.KindChain),
		Reason:    "superseded by port 5176 (chain strategy)",
		Outcome:   string(outcome),
	}
}

func TestEncodeLogEvent(t *testing.T) {
	tests := []struct {
		name    string
		event   engine.Event
		level   string
		message string
	}{
		{name: "killed", event: killEvent(kill.OutcomeKilled), level: "info", message: "killed zombie"},
		{name: "dryRun", event: killEvent(kill.OutcomeDryRunSkipped), level: "info", message: "would kill zombie (dry run)"},
		{name: "failed", event: killEvent(kill.OutcomeFailed), level: "warn", message: "failed to kill zombie"},
		{name: "tracked", event: engine.Event{Type: engine.EventTypeTracked, PID: 1}, level: "debug", message: "tracking"},
		{name: "skipped", event: engine.Event{Type: engine.EventTypeSkipped, Message: "command does not match filter"}, level: "debug", message: "command does not match filter"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			var errBuf bytes.Buffer

			EncodeLogEvent(json.NewEncoder(&out), &errBuf, tc.event)

			if errBuf.Len() != 0 {
				t.Fatalf("unexpected stderr output: %s", errBuf.String())
			}
			var record LogRecord
			if err := json.Unmarshal(out.Bytes(), &record); err != nil {
				t.Fatalf("failed to unmarshal log record: %v", err)
			}
			if record.Level != tc.level {
				t.Fatalf("expected level %q, got %q", tc.level, record.Level)
			}
			if record.Message != tc.message {
				t.Fatalf("expected message %q, got %q", tc.message, record.Message)
			}
			if record.Timestamp.IsZero() {
				t.Fatalf("expected timestamp to be populated")
			}
		})
	}
}

func TestNewLogRecordRedactsCommand(t *testing.T) {
	record := NewLogRecord(killEvent(kill.OutcomeKilled))
	if strings.Contains(record.Command, "abc123") {
		t.Fatalf("command not redacted: %q", record.Command)
	}
	if record.Port != 5173 || record.PID != 4121 || record.Watcher != "port" || record.Event != "kill" {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestLogEventFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	LogEvent(zap.New(core), killEvent(kill.OutcomeKilled))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["watcher"] != "port" || fields["event"] != "kill" || fields["outcome"] != "killed" {
		t.Fatalf("unexpected fields: %v", fields)
	}
	if fields["pid"] != int64(4121) || fields["port"] != int64(5173) {
		t.Fatalf("unexpected pid/port fields: %v", fields)
	}
	if fields["reason"] != "superseded by port 5176 (chain strategy)" {
		t.Fatalf("unexpected reason: %v", fields["reason"])
	}
	if cmd, _ := fields["command"].(string); strings.Contains(cmd, "abc123") {
		t.Fatalf("command not redacted: %q", cmd)
	}
}

func TestEventLoggerRateLimitsDryRun(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	now := time.Unix(1_000, 0)
	l := NewEventLogger(zap.New(core))
	l.now = func() time.Time { return now }

	evt := killEvent(kill.OutcomeDryRunSkipped)
	l.Log(evt)
	l.Log(evt)
	if got := logs.Len(); got != 1 {
		t.Fatalf("expected repeat to be suppressed, got %d entries", got)
	}

	other := evt
	other.PID = 4122
	l.Log(other)
	if got := logs.Len(); got != 2 {
		t.Fatalf("different pid should log, got %d entries", got)
	}

	now = now.Add(time.Minute)
	l.Log(evt)
	if got := logs.Len(); got != 3 {
		t.Fatalf("notice should repeat after a minute, got %d entries", got)
	}

	l.Log(killEvent(kill.OutcomeKilled))
	l.Log(killEvent(kill.OutcomeKilled))
	if got := logs.Len(); got != 5 {
		t.Fatalf("real kills are never suppressed, got %d entries", got)
	}
}

func TestEventLoggerForgetsExitedPIDs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	now := time.Unix(1_000, 0)
	l := NewEventLogger(zap.New(core))
	l.now = func() time.Time { return now }

	evt := killEvent(kill.OutcomeDryRunSkipped)
	l.Log(evt)
	l.Log(engine.Event{Watcher: evt.Watcher, Type: engine.EventTypeExited, PID: evt.PID})
	l.Log(evt)
	if got := len(logs.FilterMessage("would kill zombie (dry run)").All()); got != 2 {
		t.Fatalf("expected notice to log again after exit, got %d", got)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("json", "warn", &buf)
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", zap.Int("pid", 7))
	_ = logger.Sync()

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info should be filtered at warn level: %s", out)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &entry); err != nil {
		t.Fatalf("expected a JSON line, got %q: %v", out, err)
	}
	if entry["msg"] != "shown" || entry["level"] != "warn" || entry["pid"] != float64(7) {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestNewLoggerRejectsInvalidInput(t *testing.T) {
	if _, err := NewLogger("xml", "info", &bytes.Buffer{}); err == nil {
		t.Fatalf("expected format error")
	}
	if _, err := NewLogger("text", "loud", &bytes.Buffer{}); err == nil {
		t.Fatalf("expected level error")
	}
}

func TestEventLoggerForgetKeepsOtherPIDs(t *testing.T) {
	l := NewEventLogger(zap.NewNop())
	for _, pid := range []int{4, 42} {
		l.allow(engine.Event{Watcher: "process", PID: pid, Kind: string(kill.KindDuplicate)})
	}
	l.allow(engine.Event{Watcher: "port", PID: 4, Kind: string(kill.KindChain)})

	l.forget("process", 4)

	if _, ok := l.limiters["process/4/duplicate"]; ok {
		t.Fatalf("limiter for pid 4 should be forgotten")
	}
	for _, key := range []string{"process/42/duplicate", "port/4/chain"} {
		if _, ok := l.limiters[key]; !ok {
			t.Fatalf("limiter %q should be kept, have %v", key, l.limiters)
		}
	}
}
