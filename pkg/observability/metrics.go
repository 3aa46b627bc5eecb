package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Role resolution metrics
	RoleResolutionsTotal   *prometheus.CounterVec
	RoleResolutionDuration *prometheus.HistogramVec
	RoleLookupErrorsTotal  *prometheus.CounterVec

	// Role mutation metrics
	RoleMutationsTotal *prometheus.CounterVec

	// Access guard metrics
	GuardDecisionsTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge

	// Background jobs
	ReconcileRepairsTotal  prometheus.Counter
	ReconcileRunsTotal     *prometheus.CounterVec
	RouteTableReloadsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campus_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "campus_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		RoleResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campus_role_resolutions_total",
				Help: "Role resolutions by the stage that produced the result",
			},
			[]string{"source"},
		),
		RoleResolutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "campus_role_resolution_duration_seconds",
				Help:    "Role resolution duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"source"},
		),
		RoleLookupErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campus_role_lookup_errors_total",
				Help: "Authoritative role lookups that degraded to a fallback stage",
			},
			[]string{"reason"},
		),

		RoleMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campus_role_mutations_total",
				Help: "Role mutations by operation and result",
			},
			[]string{"op", "result"},
		),

		GuardDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campus_guard_decisions_total",
				Help: "Access guard decisions by outcome and reason",
			},
			[]string{"outcome", "reason"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campus_cache_hits_total",
				Help: "Total number of role state cache hits",
			},
			[]string{"tier"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campus_cache_misses_total",
				Help: "Total number of role state cache misses",
			},
			[]string{"tier"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "campus_active_sessions",
				Help: "Sessions with a resolved role state held in this process",
			},
		),

		ReconcileRepairsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "campus_reconcile_repairs_total",
				Help: "Role assignment rows inserted to match a profile's primary role",
			},
		),
		ReconcileRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campus_reconcile_runs_total",
				Help: "Reconciliation runs by status",
			},
			[]string{"status"},
		),
		RouteTableReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campus_route_table_reloads_total",
				Help: "Route table reloads by status",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RoleResolutionsTotal,
		m.RoleResolutionDuration,
		m.RoleLookupErrorsTotal,
		m.RoleMutationsTotal,
		m.GuardDecisionsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.ActiveSessions,
		m.ReconcileRepairsTotal,
		m.ReconcileRunsTotal,
		m.RouteTableReloadsTotal,
	)

	return m
}

// The recorders below are safe to call on a nil *Metrics so that components
// can run without a registry (tests, tools).

// RecordResolution counts a finished role resolution
func (m *Metrics) RecordResolution(source string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RoleResolutionsTotal.WithLabelValues(source).Inc()
	m.RoleResolutionDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordLookupError counts an authoritative lookup that fell through
func (m *Metrics) RecordLookupError(reason string) {
	if m == nil {
		return
	}
	m.RoleLookupErrorsTotal.WithLabelValues(reason).Inc()
}

// RecordMutation counts a role mutation attempt
func (m *Metrics) RecordMutation(op, result string) {
	if m == nil {
		return
	}
	m.RoleMutationsTotal.WithLabelValues(op, result).Inc()
}

// RecordGuardDecision counts an access guard decision
func (m *Metrics) RecordGuardDecision(outcome, reason string) {
	if m == nil {
		return
	}
	m.GuardDecisionsTotal.WithLabelValues(outcome, reason).Inc()
}

// RecordCacheHit counts a hit on a cache tier
func (m *Metrics) RecordCacheHit(tier string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(tier).Inc()
}

// RecordCacheMiss counts a miss on a cache tier
func (m *Metrics) RecordCacheMiss(tier string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(tier).Inc()
}

// SetActiveSessions reports how many sessions are held in process
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// RecordReconcile counts a reconciliation run and its repairs
func (m *Metrics) RecordReconcile(status string, repaired int) {
	if m == nil {
		return
	}
	m.ReconcileRunsTotal.WithLabelValues(status).Inc()
	m.ReconcileRepairsTotal.Add(float64(repaired))
}

// RecordRouteTableReload counts a route table reload
func (m *Metrics) RecordRouteTableReload(status string) {
	if m == nil {
		return
	}
	m.RouteTableReloadsTotal.WithLabelValues(status).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// routeName maps a request to a low-cardinality label; nil uses the URL path.
func HTTPMetricsMiddleware(metrics *Metrics, routeName func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if routeName != nil {
				route = routeName(r)
			}
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler returns the Prometheus scrape handler for registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
