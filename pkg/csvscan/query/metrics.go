package query

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics of the scan executor.
type Metrics struct {
	RecordsScanned  prometheus.Counter
	BytesRead       prometheus.Counter
	SplitsCompleted *prometheus.CounterVec
	CastErrors      prometheus.Counter
}

// NewMetrics creates and registers all metrics with the provided registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	recordsScanned := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "csvscan_records_scanned_total",
		Help: "Total records produced by range scans",
	})

	bytesRead := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "csvscan_bytes_read_total",
		Help: "Total bytes consumed from input streams, including skipped and overflow bytes",
	})

	splitsCompleted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "csvscan_splits_completed_total",
		Help: "Splits finished, by outcome",
	}, []string{"status"})

	castErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "csvscan_cast_errors_total",
		Help: "Fields that did not parse as their declared type",
	})

	reg.MustRegister(recordsScanned, bytesRead, splitsCompleted, castErrors)

	return &Metrics{
		RecordsScanned:  recordsScanned,
		BytesRead:       bytesRead,
		SplitsCompleted: splitsCompleted,
		CastErrors:      castErrors,
	}
}
