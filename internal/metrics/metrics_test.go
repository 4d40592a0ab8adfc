package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sellerledger/backend/internal/events"
)

func TestEventHandlerCountsByKind(t *testing.T) {
	m := New()
	h := m.EventHandler()

	h(context.Background(), events.Event{Kind: events.PayoutCompleted, Amount: decimal.RequireFromString("7.92")})
	h(context.Background(), events.Event{Kind: events.PayoutCompleted, Amount: decimal.RequireFromString("2.08")})
	h(context.Background(), events.Event{Kind: events.TierCreated})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ledgerEvents.WithLabelValues(events.PayoutCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerEvents.WithLabelValues(events.TierCreated)))
	assert.InDelta(t, 10.0, testutil.ToFloat64(m.ledgerAmount.WithLabelValues(events.PayoutCompleted)), 1e-9)
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/payouts/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	handler := m.Middleware(mux)

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/payouts/"+id, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues(http.MethodGet, "GET /api/v1/payouts/{id}", "404")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.AutoApproved(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "ledger_auto_approved_total 3"))
}
