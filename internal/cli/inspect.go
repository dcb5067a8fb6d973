package cli

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/Paintersrp/zombie-watcher/internal/cliutil"
	"github.com/Paintersrp/zombie-watcher/internal/watcher"
)

func newPortsCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List listeners inside the configured port ranges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := s.resolve(cmd, nil)
			if err != nil {
				return err
			}
			logger, err := cliutil.NewLogger(res.logFormat, res.logLevel, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			p := newProbe(logger)
			listeners := p.Listeners(cmd.Context())

			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PORT\tBASE\tPID\tMATCH\tCOMMAND")
			found := 0
			for _, r := range res.cfg.Ranges() {
				ports := make([]int, 0)
				for port := range listeners {
					if r.Contains(port) {
						ports = append(ports, port)
					}
				}
				sort.Ints(ports)
				for _, port := range ports {
					pid := listeners[port]
					command, ok := p.Command(cmd.Context(), pid)
					match := "no"
					if ok && res.cfg.MatchesFilter(command) {
						match = "yes"
					}
					if !ok {
						command = "-"
					}
					fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\n", port, r.Base, pid, match, cliutil.RedactSecrets(command))
					found++
				}
			}
			w.Flush()
			if found == 0 {
				fmt.Fprintln(out, "\nNo listeners in the configured ranges.")
			}
			return nil
		},
	}
}

func newPsCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "ps",
		Short: "List processes matching the filter with their age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := s.resolve(cmd, nil)
			if err != nil {
				return err
			}
			logger, err := cliutil.NewLogger(res.logFormat, res.logLevel, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			p := newProbe(logger)
			procs := p.MatchingProcesses(cmd.Context(), res.cfg.Filter)
			sort.Slice(procs, func(i, j int) bool { return procs[i].PID < procs[j].PID })

			now := time.Now()
			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PID\tSTARTED\tAGE\tCOMMAND")
			for _, info := range procs {
				started := "-"
				age := "-"
				if info.CreationDate != "" {
					at := watcher.StartTime(info.CreationDate, now)
					started = at.Format(time.DateTime)
					age = units.HumanDuration(now.Sub(at))
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", info.PID, started, age, cliutil.RedactSecrets(info.Command))
			}
			w.Flush()
			if len(procs) == 0 {
				fmt.Fprintln(out, "\nNo matching processes.")
			}
			return nil
		},
	}
}
