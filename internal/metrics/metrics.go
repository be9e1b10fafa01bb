// Package metrics provides Prometheus instrumentation for the pool engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OperationsTotal counts pool operations by name and outcome
	// (committed, rejected, noop).
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hicpool_operations_total",
		Help: "Total number of pool operations",
	}, []string{"op", "outcome"})

	// OperationLatency tracks the time spent inside the pool lock.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hicpool_operation_latency_seconds",
		Help:    "Pool operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	PoolDay = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hicpool_pool_day",
		Help: "Current pool day",
	})

	// AccountBalance tracks the pooled account balances in currency units.
	AccountBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hicpool_account_balance_cu",
		Help: "Balance of the pooled accounts",
	}, []string{"account"})

	// WorkingCapital tracks the working-capital figures of the pool
	// (bond, expenses, locked, transit).
	WorkingCapital = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hicpool_working_capital_cu",
		Help: "Working capital figures",
	}, []string{"figure"})

	BondYield = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hicpool_bond_yield_ppb",
		Help: "Current pool bond yield in parts per billion",
	})

	TotalRiskPoints = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hicpool_issued_risk_points",
		Help: "Sum of risk points over issued policies",
	})

	// ActiveEntities tracks active registry entries by entity kind.
	ActiveEntities = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hicpool_active_entities",
		Help: "Number of active entities",
	}, []string{"kind"})

	AdviceOutstanding = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hicpool_advice_outstanding_cu",
		Help: "Queued payment advice not yet processed",
	})

	// EventsPublished counts audit events handed to sinks.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hicpool_events_published_total",
		Help: "Audit events delivered to sinks",
	}, []string{"sink", "outcome"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hicpool_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hicpool_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hicpool_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrade pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
