package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/freight-core/finance"
)

func TestRecorder_CountsOutcomes(t *testing.T) {
	m := New()

	m.DocumentProcessed(finance.DocInvoice, "create", finance.StatusApplied)
	m.DocumentProcessed(finance.DocInvoice, "create", finance.StatusPartial)
	m.DocumentProcessed(finance.DocInvoice, "create", finance.StatusApplied)
	m.ShipmentSyncFailed("bill", finance.FailConflict)
	m.ClubSynced(2, 1)
	m.LedgerReplayed(10, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.documents.WithLabelValues("Invoice", "create", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncFailures.WithLabelValues("bill", "conflict")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.clubChanges.WithLabelValues("added")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.clubChanges.WithLabelValues("removed")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.ledgerEntries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerSkipped))
}

func TestDriftReported(t *testing.T) {
	m := New()
	m.DriftReported(finance.DriftReport{Findings: []finance.DriftFinding{
		{Kind: finance.DriftClubOrphaned, AWB: "A", Repaired: true},
		{Kind: finance.DriftClubOrphaned, AWB: "B"},
	}})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.driftFindings.WithLabelValues("club_orphaned", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.driftFindings.WithLabelValues("club_orphaned", "false")))
}

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/documents/{number}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/documents/INV-1", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("/api/documents/{number}", "404")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "freight_http_requests_total")
}
