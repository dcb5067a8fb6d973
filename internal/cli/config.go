package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/zombie-watcher/internal/config"
)

func newConfigCmd(s *settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with watcher configuration files",
	}
	cmd.AddCommand(newConfigLintCmd(s))
	return cmd
}

func newConfigLintCmd(s *settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint [path]",
		Short: "Validate a watcher configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := s.configPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no config file given; pass a path or --config")
			}

			file, err := config.Load(path)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}
			opts := config.DefaultOptions()
			file.ApplyTo(&opts)
			if _, err := opts.Build(); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}

			if abs, err := filepath.Abs(path); err == nil {
				path = abs
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", path)
			return nil
		},
	}
	return cmd
}
