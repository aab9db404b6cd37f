package docstore

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
)

// documentSizes holds the committed size per store name. The size gauge is
// registered once per name, so a reopened store reports through the same
// value.
var documentSizes = xsync.NewMapOf[string, *atomic.Int64]()

// storeMetrics holds the Prometheus series of one store. The series live in
// the default VictoriaMetrics set and are exposed by the admin server.
type storeMetrics struct {
	writes    *metrics.Counter
	failures  *metrics.Counter
	timeouts  *metrics.Counter
	emergency *metrics.Counter
	size      *atomic.Int64
	duration  *metrics.Histogram
}

func newStoreMetrics(name string) *storeMetrics {
	label := fmt.Sprintf(`{store=%q}`, name)
	size, _ := documentSizes.LoadOrCompute(name, func() *atomic.Int64 { return new(atomic.Int64) })
	metrics.GetOrCreateGauge("docstore_document_size_bytes"+label, func() float64 {
		return float64(size.Load())
	})
	return &storeMetrics{
		writes:    metrics.GetOrCreateCounter("docstore_writes_total" + label),
		failures:  metrics.GetOrCreateCounter("docstore_write_failures_total" + label),
		timeouts:  metrics.GetOrCreateCounter("docstore_write_timeouts_total" + label),
		emergency: metrics.GetOrCreateCounter("docstore_emergency_saves_total" + label),
		size:      size,
		duration:  metrics.GetOrCreateHistogram("docstore_write_duration_seconds" + label),
	}
}

func (m *storeMetrics) observeWrite(start time.Time) {
	m.writes.Inc()
	m.duration.UpdateDuration(start)
}

// setSize updates the size gauge to the committed document.
func (m *storeMetrics) setSize(size int) {
	m.size.Store(int64(size))
}
