package status

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// httpMetrics instruments the status server itself.
type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	m := &httpMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "persona",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"path", "method", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "persona",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"path", "method", "status"},
		),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}

// statusRecorder wraps http.ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (m *httpMetrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sr, r)
		path := routePatternOrPath(r)
		code := strconv.Itoa(sr.status)
		m.requests.WithLabelValues(path, r.Method, code).Inc()
		m.duration.WithLabelValues(path, r.Method, code).Observe(time.Since(start).Seconds())
	})
}

// routePatternOrPath returns the chi route pattern if available, otherwise
// falls back to URL path. This avoids high-cardinality label values.
func routePatternOrPath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

var (
	agentUpDesc = prometheus.NewDesc(
		"persona_agent_up", "Whether the persona service is active (1) or not (0).",
		[]string{"profile"}, nil)
	agentInstalledDesc = prometheus.NewDesc(
		"persona_agent_installed", "Whether the profile has been installed under the root.",
		[]string{"profile", "variant"}, nil)
)

// agentCollector reports installed profiles at scrape time.
type agentCollector struct {
	c       *Collector
	timeout time.Duration
}

func (a *agentCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- agentUpDesc
	ch <- agentInstalledDesc
}

func (a *agentCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	for _, e := range a.c.Collect(ctx) {
		ch <- prometheus.MustNewConstMetric(agentUpDesc, prometheus.GaugeValue, boolFloat(e.Active), e.Profile)
		ch <- prometheus.MustNewConstMetric(agentInstalledDesc, prometheus.GaugeValue, boolFloat(e.Installed), e.Profile, e.Variant)
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
