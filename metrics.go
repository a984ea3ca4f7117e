package docjar

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts persistence activity. A nil *Metrics records nothing.
type Metrics struct {
	StoreOps          *prometheus.CounterVec
	SkippedWrites     prometheus.Counter
	Conflicts         prometheus.Counter
	ResolvedConflicts prometheus.Counter
	Aborts            prometheus.Counter
	SkippedRestores   prometheus.Counter
}

// NewMetrics creates the counters and registers them with r (if not nil).
func NewMetrics(r prometheus.Registerer) *Metrics {
	f := promauto.With(r)
	return &Metrics{
		StoreOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docjar",
			Name:      "store_operations_total",
			Help:      "Number of document store calls by operation",
		}, []string{"op"}),
		SkippedWrites: f.NewCounter(prometheus.CounterOpts{
			Namespace: "docjar",
			Name:      "skipped_writes_total",
			Help:      "Number of stores skipped because the document did not change",
		}),
		Conflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "docjar",
			Name:      "conflicts_total",
			Help:      "Number of write conflicts detected",
		}),
		ResolvedConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "docjar",
			Name:      "resolved_conflicts_total",
			Help:      "Number of write conflicts resolved by merging",
		}),
		Aborts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "docjar",
			Name:      "aborts_total",
			Help:      "Number of aborted transactions",
		}),
		SkippedRestores: f.NewCounter(prometheus.CounterOpts{
			Namespace: "docjar",
			Name:      "skipped_restores_total",
			Help:      "Number of objects abort left alone because they were changed concurrently",
		}),
	}
}

func (m *Metrics) storeOp(op string) {
	if m != nil {
		m.StoreOps.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) skippedWrite() {
	if m != nil {
		m.SkippedWrites.Inc()
	}
}

func (m *Metrics) conflict() {
	if m != nil {
		m.Conflicts.Inc()
	}
}

func (m *Metrics) resolvedConflict() {
	if m != nil {
		m.ResolvedConflicts.Inc()
	}
}

func (m *Metrics) abort() {
	if m != nil {
		m.Aborts.Inc()
	}
}

func (m *Metrics) skippedRestore() {
	if m != nil {
		m.SkippedRestores.Inc()
	}
}
