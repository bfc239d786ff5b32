// Package metrics provides Prometheus instrumentation for the ledger engine.
package metrics

import (
	"bufio"
	"fmt"
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
	// TradesTotal counts trades executed, partitioned by type and origin
	// ("order" or "proposal").
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketx_trades_total",
		Help: "Total number of trades executed",
	}, []string{"type", "origin"})

	// TradeLatency measures ledger execution latency.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ticketx_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	// TicketVolume tracks cumulative traded tickets per event.
	TicketVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketx_ticket_volume_total",
		Help: "Cumulative traded tickets",
	}, []string{"event_id", "type"})

	// LedgerRejections counts ledger operations refused by a domain rule,
	// partitioned by error kind.
	LedgerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketx_ledger_rejections_total",
		Help: "Ledger operations rejected by validation",
	}, []string{"kind"})

	// ProposalTransitions counts proposal lifecycle transitions by target status.
	ProposalTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketx_proposal_transitions_total",
		Help: "Proposal status transitions",
	}, []string{"status"})

	// OpenProposals tracks proposals currently awaiting a response.
	OpenProposals = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ticketx_open_proposals",
		Help: "Number of proposals in SENT status",
	})

	// NotificationsTotal counts notifications recorded, by kind.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketx_notifications_total",
		Help: "Notifications recorded",
	}, []string{"kind"})

	// EventsPublished counts domain events sent to the broker.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketx_events_published_total",
		Help: "Domain events published",
	}, []string{"topic", "status"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ticketx_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketx_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ticketx_http_request_duration_seconds",
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

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern returns the matched chi pattern (e.g. /api/v1/proposals/{id}/accept)
// so ids do not explode label cardinality. Falls back to the raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
