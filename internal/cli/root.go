package cli

import (
	stdcontext "context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/zombie-watcher/internal/cliutil"
	"github.com/Paintersrp/zombie-watcher/internal/config"
	"github.com/Paintersrp/zombie-watcher/internal/lock"
)

// NewRootCmd returns the zombie-watcher command tree.
func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

// settings holds raw flag values. Only flags the user changed override the
// config file and environment.
type settings struct {
	base       string
	rangeSize  int
	intervalMS int
	strategy   string
	filter     string
	dryRun     bool
	maxAgeMin  int
	mode       string

	configPath string
	envFile    string
	logFormat  string
	logLevel   string

	apiAddr   string
	tui       bool
	noLock    bool
	lockPorts string
}

// resolved is the outcome of layering defaults, file, environment and flags.
type resolved struct {
	cfg       *config.WatcherConfig
	logFormat string
	logLevel  string
	apiAddr   string
}

func newRootCommand() (*cobra.Command, *settings) {
	defaults := config.DefaultOptions()
	s := &settings{}

	root := &cobra.Command{
		Use:   "zombie-watcher",
		Short: "Kill zombie dev-server processes holding ports or running twice",
		Long: "zombie-watcher polls the listening sockets and process table and kills\n" +
			"stale dev servers: lower ports of a chain, occupants of a base port,\n" +
			"duplicate instances and processes older than a maximum age.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, s)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&s.base, "base", "b", defaults.Base, "Base ports to watch (comma-separated, ranges like 3000-3002 allowed)")
	flags.IntVarP(&s.rangeSize, "range", "r", defaults.Range, "Ports scanned above each base port")
	flags.IntVarP(&s.intervalMS, "interval", "i", int(defaults.Interval/time.Millisecond), "Polling interval in milliseconds")
	flags.StringVarP(&s.strategy, "strategy", "s", defaults.Strategy, "Kill strategy: 'chain' (keep the highest port) or 'kill-base'")
	flags.StringVarP(&s.filter, "filter", "f", defaults.Filter, "Semicolon-separated process names allowed to be killed")
	flags.BoolVarP(&s.dryRun, "dry-run", "d", false, "Log what would be killed without killing")
	flags.IntVar(&s.maxAgeMin, "max-age", 0, "Kill matching processes older than this many minutes (0 disables)")
	flags.StringVarP(&s.mode, "mode", "m", defaults.Mode, "Watcher mode: port, process or both")
	flags.StringVarP(&s.configPath, "config", "c", "", "Path to a YAML or TOML config file")
	flags.StringVar(&s.envFile, "env-file", "", "Dotenv file with ZOMBIE_WATCHER_* overrides")
	flags.StringVar(&s.logFormat, "log-format", cliutil.FormatText, "Log format: text or json")
	flags.StringVar(&s.logLevel, "log-level", "info", "Log level: debug, info, warn or error")

	root.Flags().StringVar(&s.apiAddr, "api", "", "Address for the read-only status API (disabled when empty)")
	root.Flags().BoolVar(&s.tui, "tui", false, "Show a live dashboard instead of log output")
	root.Flags().BoolVar(&s.noLock, "no-lock", false, "Skip binding a loopback lock port")
	root.Flags().StringVar(&s.lockPorts, "lock-ports", lock.DefaultPorts, "Loopback port range tried for the lock port (a single port makes it exclusive)")

	root.AddCommand(newPortsCmd(s))
	root.AddCommand(newPsCmd(s))
	root.AddCommand(newConfigCmd(s))

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, s
}

// Execute runs the CLI entrypoint.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

// resolve layers defaults < config file < environment < changed flags and
// validates the result.
func (s *settings) resolve(cmd *cobra.Command, lookup config.LookupFunc) (*resolved, error) {
	opts := config.DefaultOptions()
	out := &resolved{logFormat: cliutil.FormatText, logLevel: "info"}

	if s.configPath != "" {
		file, err := config.Load(s.configPath)
		if err != nil {
			return nil, err
		}
		file.ApplyTo(&opts)
		if file.Logging != nil {
			if file.Logging.Format != "" {
				out.logFormat = file.Logging.Format
			}
			if file.Logging.Level != "" {
				out.logLevel = file.Logging.Level
			}
		}
		if file.API != nil {
			out.apiAddr = file.API.Addr
		}
	}

	if lookup == nil {
		var err error
		lookup, err = config.EnvLookup(s.envFile)
		if err != nil {
			return nil, err
		}
	}
	if err := config.ApplyEnv(&opts, lookup); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("base") {
		opts.Base = s.base
	}
	if flags.Changed("range") {
		opts.Range = s.rangeSize
	}
	if flags.Changed("interval") {
		opts.Interval = time.Duration(s.intervalMS) * time.Millisecond
	}
	if flags.Changed("strategy") {
		opts.Strategy = s.strategy
	}
	if flags.Changed("filter") {
		opts.Filter = s.filter
	}
	if flags.Changed("dry-run") {
		opts.DryRun = s.dryRun
	}
	if flags.Changed("max-age") {
		opts.MaxAge = time.Duration(s.maxAgeMin) * time.Minute
	}
	if flags.Changed("mode") {
		opts.Mode = s.mode
	}
	if flags.Changed("log-format") {
		out.logFormat = s.logFormat
	}
	if flags.Changed("log-level") {
		out.logLevel = s.logLevel
	}
	if f := flags.Lookup("api"); f != nil && f.Changed {
		out.apiAddr = s.apiAddr
	}

	cfg, err := opts.Build()
	if err != nil {
		return nil, err
	}
	out.cfg = cfg
	return out, nil
}
