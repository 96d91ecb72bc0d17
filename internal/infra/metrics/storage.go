package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(storageWritesTotal, storageWriteSeconds) }

var (
	storageWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_writes_total",
			Help: "Table file replacements by table and success.",
		},
		[]string{"table", "success"},
	)

	storageWriteSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storage_write_seconds",
			Help:    "Latency of atomic table writes.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"table"},
	)
)

func ObserveStorageWrite(table string, ok bool, d time.Duration) {
	storageWritesTotal.WithLabelValues(norm(table), boolLabel(ok)).Inc()
	storageWriteSeconds.WithLabelValues(norm(table)).Observe(d.Seconds())
}
