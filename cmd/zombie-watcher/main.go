package main

import (
	"github.com/Paintersrp/zombie-watcher/internal/cli"
	"github.com/Paintersrp/zombie-watcher/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
