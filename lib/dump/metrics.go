package dump

import (
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// Metrics of the replication. They are registered in the default
// VictoriaMetrics set and shared by all callbacks of the process.
var (
	passesTotal        = metrics.GetOrCreateCounter("dstudy_dump_passes_total")
	skippedTotal       = metrics.GetOrCreateCounter("dstudy_dump_skipped_total")
	errorsTotal        = metrics.GetOrCreateCounter("dstudy_dump_errors_total")
	trialsCreatedTotal = metrics.GetOrCreateCounter("dstudy_dump_trials_created_total")
	writesTotal        = metrics.GetOrCreateCounter("dstudy_dump_writes_total")
	passDuration       = metrics.GetOrCreateHistogram("dstudy_dump_duration_seconds")
)

// WriteMetrics writes all metrics in Prometheus text format to w.
func WriteMetrics(w io.Writer) {
	metrics.WritePrometheus(w, false)
}
