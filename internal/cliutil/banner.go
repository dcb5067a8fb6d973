package cliutil

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Paintersrp/zombie-watcher/internal/config"
)

var (
	bannerTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	bannerKey   = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(10)
	bannerWarn  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	bannerBox   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
)

// Banner renders the startup summary printed in text mode.
func Banner(cfg *config.WatcherConfig) string {
	var lines []string
	lines = append(lines, bannerTitle.Render("zombie-watcher"))
	row := func(key, value string) {
		lines = append(lines, bannerKey.Render(key)+value)
	}
	row("mode", string(cfg.Mode))
	if cfg.RunsPortWatcher() {
		ranges := make([]string, 0, len(cfg.BasePorts))
		for _, r := range cfg.Ranges() {
			ranges = append(ranges, fmt.Sprintf("%d-%d", r.Low, r.High))
		}
		row("ports", strings.Join(ranges, ", "))
		row("strategy", string(cfg.Strategy))
	}
	row("filter", strings.Join(cfg.Filter, ";"))
	row("interval", cfg.Interval.String())
	if cfg.MaxAge > 0 {
		row("max age", cfg.MaxAge.String())
	}
	if cfg.DryRun {
		lines = append(lines, bannerWarn.Render("dry run: nothing will be killed"))
	}
	return bannerBox.Render(strings.Join(lines, "\n"))
}
