package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	m := New()
	r := mux.NewRouter()
	r.Use(m.Middleware)
	r.HandleFunc("/api/leads/{id}", func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["id"] == "404" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, "ok")
	})

	for _, path := range []string{"/api/leads/1", "/api/leads/2", "/api/leads/404"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, float64(2), testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/api/leads/{id}", "GET", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/api/leads/{id}", "GET", "404")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.HTTPDuration))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.LeadsAssigned.Add(3)
	m.GeocodeOutcomes.WithLabelValues("ok").Inc()
	m.WebsocketClients.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	for _, want := range []string{
		"crm_leads_assigned_total 3",
		`crm_geocode_lookups_total{outcome="ok"} 1`,
		"crm_websocket_clients 1",
		"go_goroutines",
	} {
		assert.True(t, strings.Contains(body, want), "missing %q", want)
	}
}

func TestMiddlewareSkipsMetricsPath(t *testing.T) {
	m := New()
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, 0, testutil.CollectAndCount(m.HTTPRequests))
}
