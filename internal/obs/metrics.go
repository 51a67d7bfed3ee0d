package obs

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Console metrics.
var (
	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voidmod_logins_total",
			Help: "Session key login attempts by result.",
		},
		[]string{"result"},
	)

	hubConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "voidmod_hub_connections",
		Help: "Live dashboard connections attached to the broadcast hub.",
	})

	hubStaffOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "voidmod_hub_staff_online",
		Help: "Distinct session keys with at least one live connection.",
	})

	hubDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voidmod_hub_dropped_events_total",
			Help: "Events dropped because a viewer buffer was full.",
		},
		[]string{"event"},
	)

	providerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voidmod_provider_calls_total",
			Help: "Member provider calls by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)
)

var initOnce sync.Once

// Init registers every collector in the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			loginsTotal, hubConnections, hubStaffOnline, hubDropped, providerCalls,
		)
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument measures request count, latency and in-flight requests. The path label
// is the matched chi route pattern so member and ticket ids do not explode cardinality.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := CanonicalPath(r.URL.Path)
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// CanonicalPath strips the query and replaces resource ids with placeholders for
// requests that never reached a route.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(raw, "/")
	for i := 1; i < len(parts); i++ {
		switch parts[i-1] {
		case "member", "tickets", "keys", "ban-requests":
			if parts[i] != "" {
				parts[i] = ":id"
			}
		}
	}
	return strings.Join(parts, "/")
}

// ObserveLogin counts a login attempt. result is "success", "rejected" or "error".
func ObserveLogin(result string) {
	loginsTotal.WithLabelValues(result).Inc()
}

// SetHubGauges publishes the hub connection and distinct staff counts.
func SetHubGauges(connections, staff int) {
	hubConnections.Set(float64(connections))
	hubStaffOnline.Set(float64(staff))
}

// ObserveDroppedEvent counts an event a slow viewer did not receive.
func ObserveDroppedEvent(event string) {
	hubDropped.WithLabelValues(event).Inc()
}

// ObserveProviderCall counts a member provider call.
func ObserveProviderCall(op, outcome string) {
	providerCalls.WithLabelValues(op, outcome).Inc()
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack hands the connection to the websocket transport. A hijacked request is
// counted as 101.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(w.ResponseWriter).Hijack()
	if err == nil {
		w.code = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func (w *statusWriter) Flush() {
	_ = http.NewResponseController(w.ResponseWriter).Flush()
}
