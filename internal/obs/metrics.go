// Package obs carries the service's cross-cutting observability: Prometheus
// metrics and structured JSON logging, following the teacher's
// registry-plus-instrumented-handler pattern.
package obs

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

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

// Init registers every metric in the default registry.
func Init() {
	prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration)
}

// Handler serves /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument measures in-flight count, request count, and latency, keyed on
// the canonicalized route rather than the raw path, since raw paths carry
// unbounded-cardinality ids (tez/team/conversation/peer ids) that would
// otherwise blow up the Prometheus label space.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

var canonicalPatterns = []struct {
	re      *regexp.Regexp
	repl    string
	exclude map[string]bool
}{
	{regexp.MustCompile(`^/teams/[^/]+/members/[^/]+$`), "/teams/:id/members/:userId", nil},
	{regexp.MustCompile(`^/teams/[^/]+/members$`), "/teams/:id/members", nil},
	{regexp.MustCompile(`^/contacts/[^/]+$`), "/contacts/:userId", map[string]bool{
		"/contacts/me": true, "/contacts/register": true, "/contacts/search": true,
	}},
	{regexp.MustCompile(`^/conversations/[^/]+/messages$`), "/conversations/:id/messages", nil},
	{regexp.MustCompile(`^/conversations/[^/]+/read$`), "/conversations/:id/read", nil},
	{regexp.MustCompile(`^/tez/[^/]+/reply$`), "/tez/:id/reply", nil},
	{regexp.MustCompile(`^/tez/[^/]+/thread$`), "/tez/:id/thread", nil},
	{regexp.MustCompile(`^/tez/[^/]+$`), "/tez/:id", map[string]bool{
		"/tez/share": true, "/tez/stream": true,
	}},
	{regexp.MustCompile(`^/admin/federation/servers/[^/]+$`), "/admin/federation/servers/:host", nil},
}

// CanonicalPath collapses a request path's dynamic id segments into a
// bounded set of route labels, and strips any query string. Unrecognized
// paths pass through unchanged (their cardinality is already bounded, being
// fixed route strings).
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	for _, p := range canonicalPatterns {
		if p.exclude[path] {
			continue
		}
		if p.re.MatchString(path) {
			return p.repl
		}
	}
	return path
}
