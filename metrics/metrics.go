// Package metrics exposes Prometheus counters for HTTP traffic and for the
// outcomes of reconciliation operations.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/freight-core/finance"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	documents     *prometheus.CounterVec
	syncFailures  *prometheus.CounterVec
	clubChanges   *prometheus.CounterVec
	ledgerEntries prometheus.Counter
	ledgerSkipped prometheus.Counter
	driftFindings *prometheus.CounterVec
}

var _ finance.Recorder = (*Metrics)(nil)

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "freight_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "freight_http_request_duration_seconds",
			Help:    "HTTP request duration by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "freight_documents_total",
			Help: "Financial document mutations by kind, operation and result status.",
		}, []string{"kind", "op", "status"}),
		syncFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "freight_shipment_sync_failures_total",
			Help: "Shipment writes that failed after the owning record was persisted.",
		}, []string{"op", "reason"}),
		clubChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "freight_club_assignments_total",
			Help: "Shipments added to or removed from club batches.",
		}, []string{"direction"}),
		ledgerEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "freight_ledger_entries_replayed_total",
			Help: "Ledger entries folded by balance replays.",
		}),
		ledgerSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "freight_ledger_entries_skipped_total",
			Help: "Malformed ledger entries skipped during replay.",
		}),
		driftFindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "freight_drift_findings_total",
			Help: "Drift sweep findings by kind and whether they were repaired.",
		}, []string{"kind", "repaired"}),
	}
	registry.MustRegister(
		m.requestsTotal, m.requestDuration,
		m.documents, m.syncFailures, m.clubChanges,
		m.ledgerEntries, m.ledgerSkipped, m.driftFindings,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler serves /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// =============================================================================
// HTTP
// =============================================================================

// Middleware records request count and duration per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}

// =============================================================================
// finance.Recorder
// =============================================================================

func (m *Metrics) DocumentProcessed(kind finance.DocumentKind, op string, status finance.Status) {
	m.documents.WithLabelValues(string(kind), op, string(status)).Inc()
}

func (m *Metrics) ShipmentSyncFailed(op, reason string) {
	m.syncFailures.WithLabelValues(op, reason).Inc()
}

func (m *Metrics) ClubSynced(added, removed int) {
	m.clubChanges.WithLabelValues("added").Add(float64(added))
	m.clubChanges.WithLabelValues("removed").Add(float64(removed))
}

func (m *Metrics) LedgerReplayed(entries, skipped int) {
	m.ledgerEntries.Add(float64(entries))
	m.ledgerSkipped.Add(float64(skipped))
}

// DriftReported counts the findings of one sweep.
func (m *Metrics) DriftReported(report finance.DriftReport) {
	for _, f := range report.Findings {
		m.driftFindings.WithLabelValues(string(f.Kind), strconv.FormatBool(f.Repaired)).Inc()
	}
}
