package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/Paintersrp/zombie-watcher/internal/cliutil"
	"github.com/Paintersrp/zombie-watcher/internal/engine"
	"github.com/Paintersrp/zombie-watcher/internal/kill"
)

const (
	tableTitle          = "Tracked"
	logsTitle           = "Events"
	filterPageName      = "filter"
	defaultLogRetention = 200
)

// Option configures UI behaviour.
type Option func(*UI)

// WithMaxLogs sets the maximum number of events retained per entry and in the
// global history.
func WithMaxLogs(n int) Option {
	return func(u *UI) {
		if n > 0 {
			u.maxLogs = n
		}
	}
}

// WithTitle overrides the table title, typically with the watcher settings.
func WithTitle(title string) Option {
	return func(u *UI) {
		if title != "" {
			u.title = title
		}
	}
}

// UI is a live dashboard of tracked ports and processes backed by tview.
type UI struct {
	app    *tview.Application
	pages  *tview.Pages
	table  *tview.Table
	logs   *tview.TextView
	events chan engine.Event

	entries map[string]*entryState
	recent  []cliutil.LogRecord

	title       string
	visible     []string
	selected    string
	logsPretty  bool
	filter      string
	filterExpr  *regexp.Regexp
	logsFocused bool
	maxLogs     int
	// selecting is set while refresh moves the cursor; both run on the
	// application goroutine.
	selecting bool

	mu sync.RWMutex

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	wg        sync.WaitGroup
	stopOnce  sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// entryState is one row of the table: a watched port or a watched process.
type entryState struct {
	key       string
	watcher   string
	pid       int
	port      int
	command   string
	firstSeen time.Time
	lastEvent time.Time
	state     engine.EventType
	message   string

	logs []cliutil.LogRecord
}

// New constructs a UI configured with the supplied options.
func New(opts ...Option) *UI {
	app := tview.NewApplication()
	table := tview.NewTable().SetFixed(1, 1).SetSelectable(true, false)
	table.SetBorder(true).SetTitle(tableTitle)

	logs := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	logs.SetBorder(true).SetTitle(logsTitle)
	logs.SetChangedFunc(func() {
		app.Draw()
	})

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(table, 0, 3, true).
		AddItem(logs, 0, 2, false)

	pages := tview.NewPages().AddPage("main", flex, true, true)

	ui := &UI{
		app:        app,
		pages:      pages,
		table:      table,
		logs:       logs,
		events:     make(chan engine.Event, 256),
		entries:    make(map[string]*entryState),
		title:      tableTitle,
		logsPretty: false,
		maxLogs:    defaultLogRetention,
		done:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(ui)
	}

	table.SetSelectionChangedFunc(func(row, column int) {
		if ui.selecting {
			return
		}
		ui.mu.Lock()
		defer ui.mu.Unlock()
		ui.syncSelection(row)
		ui.renderLogsLocked()
	})

	logs.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEnter {
			ui.toggleFocus()
			return nil
		}
		return event
	})

	app.SetRoot(pages, true)
	app.SetInputCapture(ui.handleKey)

	ui.mu.Lock()
	ui.refreshTableLocked()
	ui.mu.Unlock()

	return ui
}

// EventSink exposes the channel where watcher events should be delivered.
func (u *UI) EventSink() chan<- engine.Event {
	return u.events
}

// CloseEvents releases the event channel, allowing internal goroutines to exit cleanly.
func (u *UI) CloseEvents() {
	u.closeOnce.Do(func() {
		close(u.events)
	})
}

// Done returns a channel that is closed when the UI stops.
func (u *UI) Done() <-chan struct{} {
	return u.done
}

// Run starts the tview application and processes incoming events until Stop is invoked
// or the provided context is cancelled.
func (u *UI) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	u.cancelMu.Lock()
	u.cancel = cancel
	u.cancelMu.Unlock()

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.consumeEvents(ctx)
	}()

	go func() {
		<-ctx.Done()
		u.Stop()
	}()

	err := u.app.Run()

	u.cancelMu.Lock()
	cancel = u.cancel
	u.cancel = nil
	u.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}

	u.wg.Wait()
	u.Stop()

	return err
}

// Stop terminates the application loop and releases resources.
func (u *UI) Stop() {
	u.stopOnce.Do(func() {
		u.cancelMu.Lock()
		cancel := u.cancel
		u.cancel = nil
		u.cancelMu.Unlock()
		if cancel != nil {
			cancel()
		}
		u.app.Stop()
		close(u.done)
	})
}

// consumeEvents keeps reading until the channel is closed so producers never
// block on a stopped dashboard.
func (u *UI) consumeEvents(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	draining := false
	ctxDone := ctx.Done()

	for {
		var tick <-chan time.Time
		if !draining {
			tick = ticker.C
		}

		select {
		case <-ctxDone:
			if !draining {
				draining = true
				ticker.Stop()
			}
			ctxDone = nil
		case evt, ok := <-u.events:
			if !ok {
				return
			}
			if draining {
				continue
			}
			u.applyEvent(evt)
			u.queueRefresh(true)
		case <-tick:
			u.queueRefresh(false)
		}
	}
}

func (u *UI) overlayActive() bool {
	if !u.pages.HasPage(filterPageName) {
		return false
	}
	front, _ := u.pages.GetFrontPage()
	return front == filterPageName
}

func (u *UI) handleKey(event *tcell.EventKey) *tcell.EventKey {
	if u.overlayActive() {
		return event
	}
	switch event.Key() {
	case tcell.KeyEnter:
		u.toggleFocus()
		return nil
	case tcell.KeyUp, tcell.KeyDown:
		return event
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q', 'Q':
			go u.Stop()
			return nil
		case '/':
			u.showFilterPrompt()
			return nil
		case 'j', 'J':
			u.toggleJSON()
			return nil
		}
	}
	return event
}

func (u *UI) toggleFocus() {
	if u.logsFocused {
		u.app.SetFocus(u.table)
	} else {
		u.app.SetFocus(u.logs)
	}
	u.logsFocused = !u.logsFocused
}

func (u *UI) toggleJSON() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.logsPretty = !u.logsPretty
	u.renderLogsLocked()
}

func (u *UI) showFilterPrompt() {
	u.mu.RLock()
	current := u.filter
	u.mu.RUnlock()

	input := tview.NewInputField().
		SetLabel("Regex filter: ").
		SetText(current).
		SetFieldWidth(40)

	form := tview.NewForm().
		AddFormItem(input).
		AddButton("Apply", func() {
			u.applyFilter(input.GetText())
			u.pages.RemovePage(filterPageName)
			u.app.SetFocus(u.table)
		}).
		AddButton("Cancel", func() {
			u.pages.RemovePage(filterPageName)
			u.app.SetFocus(u.table)
		})

	form.SetBorder(true).SetTitle("Filter by command")

	grid := tview.NewGrid().
		SetColumns(0, 60, 0).
		SetRows(0, 7, 0).
		AddItem(form, 1, 1, 1, 1, 0, 0, true)

	u.pages.AddPage(filterPageName, grid, true, true)
	u.app.SetFocus(input)
}

func (u *UI) applyFilter(expr string) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		u.mu.Lock()
		u.filter = ""
		u.filterExpr = nil
		u.mu.Unlock()
		u.queueRefresh(true)
		return
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		u.showErrorModal(fmt.Sprintf("Invalid filter: %v", err))
		return
	}

	u.mu.Lock()
	u.filter = expr
	u.filterExpr = re
	u.mu.Unlock()
	u.queueRefresh(true)
}

func (u *UI) showErrorModal(message string) {
	modal := tview.NewModal().
		SetText(message).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(buttonIndex int, buttonLabel string) {
			u.pages.RemovePage(filterPageName)
			u.app.SetFocus(u.table)
		})

	u.pages.RemovePage(filterPageName)
	u.pages.AddPage(filterPageName, modal, true, true)
}

// applyEvent folds evt into the table state. A successful kill drops every
// row owned by the pid, mirroring how the watchers forget it.
func (u *UI) applyEvent(evt engine.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	record := cliutil.NewLogRecord(evt)

	u.mu.Lock()
	defer u.mu.Unlock()

	u.recent = appendBounded(u.recent, record, u.maxLogs)
	if evt.Type == engine.EventTypeDropped {
		return
	}

	if evt.Type == engine.EventTypeKill && kill.Outcome(evt.Outcome) == kill.OutcomeKilled {
		for key, state := range u.entries {
			if state.watcher == evt.Watcher && state.pid == evt.PID {
				delete(u.entries, key)
			}
		}
		return
	}

	key := entryKey(evt)
	if evt.Type == engine.EventTypeExited {
		delete(u.entries, key)
		return
	}

	state := u.entries[key]
	if state == nil {
		state = &entryState{key: key, watcher: evt.Watcher, port: evt.Port, firstSeen: evt.Timestamp}
		u.entries[key] = state
	}
	if evt.Type == engine.EventTypeReplaced {
		state.firstSeen = evt.Timestamp
	}
	state.pid = evt.PID
	if evt.Command != "" {
		state.command = cliutil.RedactSecrets(evt.Command)
	}
	state.lastEvent = evt.Timestamp
	state.state = evt.Type
	state.message = formatEventMessage(evt)
	state.logs = appendBounded(state.logs, record, u.maxLogs)
}

func (u *UI) queueRefresh(updateLogs bool) {
	u.app.QueueUpdateDraw(func() {
		u.mu.Lock()
		defer u.mu.Unlock()
		u.refreshTableLocked()
		if updateLogs {
			u.renderLogsLocked()
		}
	})
}

func (u *UI) refreshTableLocked() {
	u.table.Clear()

	headers := []string{"WATCHER", "PORT", "PID", "STATE", "AGE", "COMMAND", "MESSAGE"}
	for col, header := range headers {
		cell := tview.NewTableCell(header).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold)
		u.table.SetCell(0, col, cell)
	}

	keys := make([]string, 0, len(u.entries))
	for key, state := range u.entries {
		if u.filterExpr != nil && !u.filterExpr.MatchString(state.command) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := u.entries[keys[i]], u.entries[keys[j]]
		if a.watcher != b.watcher {
			return a.watcher < b.watcher
		}
		if a.port != b.port {
			return a.port < b.port
		}
		return a.pid < b.pid
	})
	u.visible = keys

	if u.filter != "" {
		u.table.SetTitle(fmt.Sprintf("%s /%s/", u.title, u.filter))
	} else {
		u.table.SetTitle(u.title)
	}

	for row, key := range keys {
		state := u.entries[key]
		port := "-"
		if state.port > 0 {
			port = fmt.Sprintf("%d", state.port)
		}
		age := "-"
		if !state.firstSeen.IsZero() {
			age = units.HumanDuration(time.Since(state.firstSeen))
		}
		values := []string{
			state.watcher,
			port,
			fmt.Sprintf("%d", state.pid),
			formatState(state.state),
			age,
			truncate(state.command, 60),
			truncate(state.message, 80),
		}
		for col, value := range values {
			cell := tview.NewTableCell(value)
			if col == 0 {
				cell = cell.SetReference(key)
			}
			u.table.SetCell(row+1, col, cell)
		}
	}

	u.ensureSelectionLocked()
}

func (u *UI) renderLogsLocked() {
	u.logs.Clear()
	records := u.recent
	title := logsTitle
	if state := u.entries[u.selected]; state != nil {
		records = state.logs
		title = fmt.Sprintf("%s (%s)", logsTitle, state.key)
	}
	u.logs.SetTitle(title)

	for _, record := range records {
		if !u.logsPretty {
			fmt.Fprintf(u.logs, "%s %-7s %-8s %s\n",
				record.Timestamp.Format("15:04:05"), record.Watcher, record.Event, tview.Escape(describeRecord(record)))
			continue
		}
		data, err := json.Marshal(record)
		if err != nil {
			fmt.Fprintf(u.logs, "{\"error\":\"%v\"}\n", err)
			continue
		}
		fmt.Fprintf(u.logs, "%s\n", tview.Escape(string(data)))
	}
	u.logs.ScrollToEnd()
}

func (u *UI) ensureSelectionLocked() {
	u.selecting = true
	defer func() { u.selecting = false }()

	if len(u.visible) == 0 {
		u.selected = ""
		u.table.Select(0, 0)
		return
	}

	idx := -1
	for i, key := range u.visible {
		if key == u.selected {
			idx = i
			break
		}
	}
	if idx < 0 {
		idx = 0
		u.selected = u.visible[0]
	}
	u.table.Select(idx+1, 0)
}

func (u *UI) syncSelection(row int) {
	if row <= 0 || row-1 >= len(u.visible) {
		return
	}
	u.selected = u.visible[row-1]
}

// entryKey identifies the table row an event belongs to. Port rows are keyed
// by port because ownership of a port can change hands.
func entryKey(evt engine.Event) string {
	if evt.Watcher == engine.WatcherPort {
		return fmt.Sprintf("port/%d", evt.Port)
	}
	return fmt.Sprintf("%s/%d", evt.Watcher, evt.PID)
}

func formatEventMessage(evt engine.Event) string {
	message := cliutil.EventMessage(evt)
	reason := evt.Reason
	if evt.Type == engine.EventTypeKill && evt.Detail != "" {
		reason = evt.Detail
	}
	if reason != "" {
		message = fmt.Sprintf("%s: %s", message, reason)
	}
	return message
}

func describeRecord(record cliutil.LogRecord) string {
	var b strings.Builder
	b.WriteString(record.Message)
	if record.PID != 0 {
		fmt.Fprintf(&b, " pid=%d", record.PID)
	}
	if record.Port != 0 {
		fmt.Fprintf(&b, " port=%d", record.Port)
	}
	if record.Reason != "" {
		fmt.Fprintf(&b, " reason=%q", record.Reason)
	}
	return b.String()
}

func appendBounded(records []cliutil.LogRecord, record cliutil.LogRecord, limit int) []cliutil.LogRecord {
	records = append(records, record)
	if len(records) > limit {
		trim := len(records) - limit
		records = append([]cliutil.LogRecord(nil), records[trim:]...)
	}
	return records
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func formatState(t engine.EventType) string {
	if t == "" {
		return "-"
	}
	s := string(t)
	return strings.ToUpper(s[:1]) + s[1:]
}
