// Package stats exposes the board's operational counters.
package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "railboard",
		Name:      "fetches_total",
		Help:      "Departure feed fetch attempts by result.",
	}, []string{"result"})

	FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "railboard",
		Name:      "fetch_duration_seconds",
		Help:      "Time spent fetching one departures snapshot.",
		Buckets:   prometheus.DefBuckets,
	})

	SnapshotServices = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "railboard",
		Name:      "snapshot_services",
		Help:      "Services carried by the most recent snapshot.",
	})

	SnapshotVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "railboard",
		Name:      "snapshot_version",
		Help:      "Feed version of the most recent snapshot.",
	})

	FramesRendered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "railboard",
		Name:      "frames_rendered_total",
		Help:      "Frames drawn and swapped onto the matrix.",
	})

	RowErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "railboard",
		Name:      "row_errors_total",
		Help:      "Row refresh failures by row.",
	}, []string{"row"})
)
