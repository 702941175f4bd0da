package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "runkeeper"

// Metrics exports engine counters to Prometheus. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	resultsRecorded    *prometheus.CounterVec
	placeholdersAdded  prometheus.Counter
	transitions        *prometheus.CounterVec
	reportEntries      *prometheus.CounterVec
	bulkItemFailures   *prometheus.CounterVec
	digestsDispatched  *prometheus.CounterVec
	storageUnavailable prometheus.Counter
}

// New registers the engine metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		resultsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_recorded_total",
			Help:      "Count of recorded test results by outcome",
		}, []string{"status"}),
		placeholdersAdded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "placeholders_added_total",
			Help:      "Count of test cases added to runs without an outcome",
		}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_transitions_total",
			Help:      "Count of run lifecycle transitions",
		}, []string{"from", "to"}),
		reportEntries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_entries_total",
			Help:      "Count of imported report entries by reconciliation result",
		}, []string{"result"}),
		bulkItemFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_item_failures_total",
			Help:      "Count of failed items in bulk operations",
		}, []string{"operation"}),
		digestsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "digests_dispatched_total",
			Help:      "Count of completion digests handed to sinks",
		}, []string{"sink", "result"}),
		storageUnavailable: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Count of operations that failed in the persistence layer",
		}),
	}
}

func (m *Metrics) ResultRecorded(status string) {
	if m == nil {
		return
	}

	m.resultsRecorded.WithLabelValues(status).Inc()
}

func (m *Metrics) PlaceholdersAdded(n int) {
	if m == nil || n <= 0 {
		return
	}

	m.placeholdersAdded.Add(float64(n))
}

func (m *Metrics) RunTransitioned(from, to string) {
	if m == nil {
		return
	}

	m.transitions.WithLabelValues(from, to).Inc()
}

// ReportEntries counts reconciled report entries. result is one of
// "matched", "unmatched" or "failed".
func (m *Metrics) ReportEntries(result string, n int) {
	if m == nil || n <= 0 {
		return
	}

	m.reportEntries.WithLabelValues(result).Add(float64(n))
}

func (m *Metrics) BulkItemFailures(operation string, n int) {
	if m == nil || n <= 0 {
		return
	}

	m.bulkItemFailures.WithLabelValues(operation).Add(float64(n))
}

func (m *Metrics) DigestDispatched(sink string, err error) {
	if m == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
	}

	m.digestsDispatched.WithLabelValues(sink, result).Inc()
}

func (m *Metrics) StorageError() {
	if m == nil {
		return
	}

	m.storageUnavailable.Inc()
}
