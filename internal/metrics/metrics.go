package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	ticks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zombie_watcher",
		Name:      "ticks_total",
		Help:      "Total number of completed poll ticks per watcher.",
	}, []string{"watcher"})

	tickDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zombie_watcher",
		Name:      "tick_duration_seconds",
		Help:      "Wall-clock duration of poll ticks in seconds.",
	}, []string{"watcher"})

	tracked = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "zombie_watcher",
		Name:      "tracked",
		Help:      "Number of records currently tracked by each watcher.",
	}, []string{"watcher"})

	kills = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zombie_watcher",
		Name:      "kills_total",
		Help:      "Kill decisions by watcher, reason and outcome.",
	}, []string{"watcher", "reason", "outcome"})

	probeLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zombie_watcher",
		Name:      "probe_latency_seconds",
		Help:      "Latency of OS probe operations in seconds.",
	}, []string{"operation"})

	probeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zombie_watcher",
		Name:      "probe_failures_total",
		Help:      "OS probe operations that failed or timed out.",
	}, []string{"operation"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "zombie_watcher",
		Name:      "build_info",
		Help:      "Build metadata for the running zombie-watcher binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(ticks, tickDuration, tracked, kills, probeLatency, probeFailures, buildInfo)
}

// Registry returns the Prometheus registry containing all zombie-watcher metrics.
func Registry() *prometheus.Registry {
	return registry
}

// ObserveTick records one completed tick for a watcher.
func ObserveTick(watcher string, d time.Duration) {
	label := labelOrUnknown(watcher)
	ticks.WithLabelValues(label).Inc()
	tickDuration.WithLabelValues(label).Observe(d.Seconds())
}

// SetTracked publishes the size of a watcher's table.
func SetTracked(watcher string, n int) {
	tracked.WithLabelValues(labelOrUnknown(watcher)).Set(float64(n))
}

// IncrementKill counts a kill decision.
func IncrementKill(watcher, reason, outcome string) {
	kills.WithLabelValues(labelOrUnknown(watcher), labelOrUnknown(reason), labelOrUnknown(outcome)).Inc()
}

// ObserveProbe records the latency of a probe operation and counts it as a
// failure when err is non-nil.
func ObserveProbe(operation string, d time.Duration, err error) {
	label := labelOrUnknown(operation)
	probeLatency.WithLabelValues(label).Observe(d.Seconds())
	if err != nil {
		probeFailures.WithLabelValues(label).Inc()
	}
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}

func labelOrUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
