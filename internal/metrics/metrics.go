// Package metrics holds the Prometheus collectors exported by the workflow server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry is served on /metrics. Collectors below register against it, not the
// global default registry.
var Registry = prometheus.NewRegistry()

var (
	// MirrorEntriesTotal counts mirrored keys by class (directory or object).
	MirrorEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guideseq",
			Subsystem: "mirror",
			Name:      "entries_total",
			Help:      "Keys reproduced locally by the storage mirror",
		},
		[]string{"class"},
	)

	// MirrorFailuresTotal counts mirror calls that failed, by failure kind.
	MirrorFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guideseq",
			Subsystem: "mirror",
			Name:      "failures_total",
			Help:      "Storage mirror calls that failed",
		},
		[]string{"kind"},
	)

	// UploadedBytesTotal counts bytes pushed back to object storage.
	UploadedBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "guideseq",
			Subsystem: "upload",
			Name:      "bytes_total",
			Help:      "Bytes uploaded from run output directories",
		},
	)

	// RunsTotal counts finished runs by pipeline kind and terminal status.
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guideseq",
			Subsystem: "run",
			Name:      "finished_total",
			Help:      "Runs that reached a terminal status",
		},
		[]string{"kind", "status"},
	)

	// RunDurationSeconds observes wall-clock duration of finished runs.
	RunDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "guideseq",
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of runs from start to terminal status",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		},
		[]string{"kind"},
	)

	// RunsInProgress tracks runs currently holding an executor slot.
	RunsInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "guideseq",
			Subsystem: "run",
			Name:      "in_progress",
			Help:      "Runs currently executing",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		MirrorEntriesTotal,
		MirrorFailuresTotal,
		UploadedBytesTotal,
		RunsTotal,
		RunDurationSeconds,
		RunsInProgress,
	)
}
