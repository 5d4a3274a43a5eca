// Package metrics exposes extraction counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the extraction counters. A nil *Metrics records nothing, so
// callers never need to check whether metrics are enabled.
//
// Metrics:
//   - docket_documents_total{status} - documents processed, ok or failed
//   - docket_chunks_total - chunks produced by the chunker
//   - docket_candidates_total{origin} - candidates from rules or the normalizer
//   - docket_gate_decisions_total{decision} - accepted or needs_normalization
//   - docket_normalizer_calls_total{result} - ok, error or empty
//   - docket_records_total - records surviving the resolver
//   - docket_document_duration_seconds - per-document processing time
type Metrics struct {
	registry *prometheus.Registry

	DocumentsTotal       *prometheus.CounterVec
	ChunksTotal          prometheus.Counter
	CandidatesTotal      *prometheus.CounterVec
	GateDecisionsTotal   *prometheus.CounterVec
	NormalizerCallsTotal *prometheus.CounterVec
	RecordsTotal         prometheus.Counter
	DocumentDuration     prometheus.Histogram
}

// New registers the counters on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		DocumentsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docket_documents_total",
				Help: "Total number of documents processed",
			},
			[]string{"status"},
		),
		ChunksTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "docket_chunks_total",
				Help: "Total number of chunks produced",
			},
		),
		CandidatesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docket_candidates_total",
				Help: "Total number of event candidates by origin",
			},
			[]string{"origin"},
		),
		GateDecisionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docket_gate_decisions_total",
				Help: "Total number of confidence gate decisions",
			},
			[]string{"decision"},
		),
		NormalizerCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docket_normalizer_calls_total",
				Help: "Total number of normalizer calls by result",
			},
			[]string{"result"},
		),
		RecordsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "docket_records_total",
				Help: "Total number of records emitted after resolution",
			},
		),
		DocumentDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "docket_document_duration_seconds",
				Help:    "Duration of per-document processing in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
		),
	}
}

// Registry returns the registry the counters live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordDocument records one finished document.
func (m *Metrics) RecordDocument(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.DocumentsTotal.WithLabelValues(status).Inc()
	m.DocumentDuration.Observe(d.Seconds())
}

// RecordChunks adds n chunks.
func (m *Metrics) RecordChunks(n int) {
	if m == nil {
		return
	}
	m.ChunksTotal.Add(float64(n))
}

// RecordCandidates adds n candidates of the given origin.
func (m *Metrics) RecordCandidates(origin string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.CandidatesTotal.WithLabelValues(origin).Add(float64(n))
}

// RecordGateDecision counts one gate decision.
func (m *Metrics) RecordGateDecision(decision string) {
	if m == nil {
		return
	}
	m.GateDecisionsTotal.WithLabelValues(decision).Inc()
}

// RecordNormalizerCall counts one normalizer call. result is ok, error or empty.
func (m *Metrics) RecordNormalizerCall(result string) {
	if m == nil {
		return
	}
	m.NormalizerCallsTotal.WithLabelValues(result).Inc()
}

// RecordRecords adds n resolved records.
func (m *Metrics) RecordRecords(n int) {
	if m == nil {
		return
	}
	m.RecordsTotal.Add(float64(n))
}
