package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	apihttp "github.com/Paintersrp/zombie-watcher/internal/api/http"
	"github.com/Paintersrp/zombie-watcher/internal/cliutil"
	"github.com/Paintersrp/zombie-watcher/internal/engine"
	"github.com/Paintersrp/zombie-watcher/internal/kill"
	"github.com/Paintersrp/zombie-watcher/internal/lock"
	"github.com/Paintersrp/zombie-watcher/internal/logmux"
	"github.com/Paintersrp/zombie-watcher/internal/probe"
	"github.com/Paintersrp/zombie-watcher/internal/tui"
	"github.com/Paintersrp/zombie-watcher/internal/watcher"
)

const eventBuffer = 256

var (
	newProbe     = func(logger *zap.Logger) probe.Probe { return probe.New(logger) }
	newAPIServer = apihttp.NewServer
	isTerminal   = func(w io.Writer) bool {
		f, ok := w.(*os.File)
		return ok && term.IsTerminal(int(f.Fd()))
	}
)

func runWatch(cmd *cobra.Command, s *settings) error {
	res, err := s.resolve(cmd, nil)
	if err != nil {
		return err
	}
	cfg := res.cfg

	if s.tui && !isTerminal(cmd.OutOrStdout()) {
		return errors.New("--tui requires an interactive terminal")
	}

	logOut := cmd.ErrOrStderr()
	if s.tui {
		logOut = io.Discard
	}
	logger, err := cliutil.NewLogger(res.logFormat, res.logLevel, logOut)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if !s.noLock {
		l, err := lock.Acquire(s.lockPorts)
		if err != nil {
			return err
		}
		defer func() { _ = l.Release() }()
		logger.Info("lock port bound", zap.Int("port", l.Port()))
	}

	if res.logFormat == cliutil.FormatText && !s.tui && isTerminal(cmd.OutOrStdout()) {
		fmt.Fprintln(cmd.OutOrStdout(), cliutil.Banner(cfg))
	}

	mux := logmux.New(eventBuffer)
	p := newProbe(logger)
	executor := kill.NewExecutor(p, cfg.DryRun)
	watcherOpts := func(source chan<- engine.Event) []watcher.Option {
		return []watcher.Option{watcher.WithEvents(source), watcher.WithLogger(logger)}
	}

	type scheduled struct {
		watcher engine.Watcher
		events  chan engine.Event
	}
	var (
		watchers  []scheduled
		processes *watcher.ProcessWatcher
		ports     *watcher.PortWatcher
	)
	if cfg.RunsPortWatcher() {
		source := make(chan engine.Event, eventBuffer)
		ports = watcher.NewPortWatcher(cfg, p, executor, watcherOpts(source)...)
		watchers = append(watchers, scheduled{watcher: ports, events: source})
	}
	if cfg.RunsProcessWatcher() {
		source := make(chan engine.Event, eventBuffer)
		processes, err = watcher.NewProcessWatcher(cfg, p, executor, watcherOpts(source)...)
		if err != nil {
			return err
		}
		watchers = append(watchers, scheduled{watcher: processes, events: source})
	}

	tracker := newStatusTracker(cfg, defaultHistory)
	tracker.attach(processes, ports)

	var server *apihttp.Server
	if res.apiAddr != "" {
		server, err = newAPIServer(apihttp.Config{Addr: res.apiAddr, Controller: tracker})
		if err != nil {
			return err
		}
	}

	ctx, cancel := stdcontext.WithCancel(cmd.Context())
	defer cancel()

	var ui *tui.UI
	uiErr := make(chan error, 1)
	if s.tui {
		ui = tui.New(tui.WithTitle(fmt.Sprintf("zombie-watcher (%s)", cfg.Mode)))
		go func() {
			uiErr <- ui.Run(ctx)
			cancel()
		}()
		mux.Tap(ui.EventSink())
	}
	for _, w := range watchers {
		mux.Add(w.events)
	}

	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		eventLogger := cliutil.NewEventLogger(logger)
		for evt := range mux.Output() {
			tracker.Apply(evt)
			eventLogger.Log(evt)
		}
	}()

	group, groupCtx := errgroup.WithContext(ctx)
	for _, w := range watchers {
		w := w
		scheduler := engine.NewScheduler(w.watcher, cfg.Interval, logger)
		group.Go(func() error {
			defer close(w.events)
			return scheduler.Run(groupCtx)
		})
	}
	if server != nil {
		group.Go(func() error {
			if err := server.Run(groupCtx); err != nil {
				return fmt.Errorf("status api: %w", err)
			}
			return nil
		})
		logger.Info("status api listening", zap.String("addr", server.Addr()))
	}
	logger.Info("watching", zap.String("mode", string(cfg.Mode)), zap.Bool("dry_run", cfg.DryRun))

	runErr := group.Wait()
	mux.Close()
	<-consumed

	if ui != nil {
		ui.CloseEvents()
		ui.Stop()
		if err := <-uiErr; err != nil && runErr == nil {
			runErr = err
		}
	}
	if runErr == nil {
		logger.Info("stopped")
	}
	return runErr
}
