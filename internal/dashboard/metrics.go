package dashboard

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the dashboard's Prometheus collectors, kept on their own
// registry so several servers can coexist in one process. A nil *Metrics
// records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	wsClients         prometheus.Gauge
	liveReadings      prometheus.Counter
	reloads           *prometheus.CounterVec
	savingsEnergy     prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_ws_clients",
			Help: "Connected WebSocket clients.",
		}),
		liveReadings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_occupancy_readings_total",
			Help: "Occupancy readings accepted from the live feed.",
		}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dataset_reloads_total",
			Help: "Dataset reloads by result.",
		}, []string{"result"}),
		savingsEnergy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "savings_potential_energy_kwh",
			Help: "Energy spent conditioning unoccupied zones in the loaded dataset.",
		}),
	}

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpDuration,
		m.wsClients,
		m.liveReadings,
		m.reloads,
		m.savingsEnergy,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Middleware records request counts and latency by route template.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		// WebSocket sessions are not timed.
		if route == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

func (m *Metrics) setClients(n int) {
	if m != nil {
		m.wsClients.Set(float64(n))
	}
}

// LiveReading counts one accepted live occupancy reading.
func (m *Metrics) LiveReading() {
	if m != nil {
		m.liveReadings.Inc()
	}
}

func (m *Metrics) reload(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "error"
	}
	m.reloads.WithLabelValues(result).Inc()
}

func (m *Metrics) setSavingsEnergy(kwh float64) {
	if m != nil {
		m.savingsEnergy.Set(kwh)
	}
}
