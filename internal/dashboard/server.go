// Package dashboard serves savings analysis to browser clients over
// WebSocket and a small JSON API.
package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"hvac_savings/internal/control"
	"hvac_savings/internal/report"
	"hvac_savings/internal/store"
)

var ErrLiveDisabled = errors.New("live occupancy is not enabled")

// defaultLiveWindow is how much recent history /api/live/{zone} returns.
const defaultLiveWindow = 24 * time.Hour

// Server wires the analyzer, hub and metrics into HTTP routes.
type Server struct {
	Analyzer *Analyzer
	Hub      *Hub
	Handler  *Handler
	Metrics  *Metrics
	// Live holds streamed sensor readings; nil disables the live API.
	Live *store.Store

	allowedOrigins []string
	logger         *zap.Logger
}

func NewServer(analyzer *Analyzer, metrics *Metrics, allowedOrigins []string, logger *zap.Logger) *Server {
	hub := NewHub(logger, metrics)
	return &Server{
		Analyzer:       analyzer,
		Hub:            hub,
		Handler:        NewHandler(hub, analyzer, allowedOrigins, logger),
		Metrics:        metrics,
		allowedOrigins: allowedOrigins,
		logger:         logger,
	}
}

// Router returns the routed handler with CORS and access logging applied.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.Metrics.Middleware)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	}).Methods(http.MethodGet)
	r.Handle("/ws", s.Handler)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/zones", s.zones).Methods(http.MethodGet)
	api.HandleFunc("/potential", s.potential).Methods(http.MethodGet)
	api.HandleFunc("/daily", s.daily).Methods(http.MethodGet)
	api.HandleFunc("/heatmap", s.heatmap).Methods(http.MethodGet)
	api.HandleFunc("/policies/{policy}", s.simulate).Methods(http.MethodGet)
	api.HandleFunc("/live", s.liveLatest).Methods(http.MethodGet)
	api.HandleFunc("/live/{zone}", s.liveZone).Methods(http.MethodGet)

	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler()).Methods(http.MethodGet)
	}

	cors := handlers.CORS(
		handlers.AllowedOrigins(s.allowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
	)
	return handlers.CustomLoggingHandler(io.Discard, cors(r), s.logRequest)
}

func (s *Server) logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	s.logger.Info("http request",
		zap.String("method", p.Request.Method),
		zap.String("path", p.URL.Path),
		zap.Int("status", p.StatusCode),
		zap.Int("size", p.Size),
		zap.String("remote_addr", p.Request.RemoteAddr),
	)
}

func (s *Server) zones(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Analyzer.Zones())
}

func (s *Server) potential(w http.ResponseWriter, r *http.Request) {
	threshold := s.Analyzer.Threshold()
	if v := r.URL.Query().Get("occupancy_threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid occupancy_threshold %q", v))
			return
		}
		threshold = f
	}
	p, err := s.Analyzer.PotentialAt(threshold)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) daily(w http.ResponseWriter, r *http.Request) {
	d, err := s.Analyzer.Daily()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) heatmap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hm, err := s.Analyzer.Heatmap(q.Get("zone"), q.Get("agg"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, heatmapPayload(hm))
}

func (s *Server) simulate(w http.ResponseWriter, r *http.Request) {
	policy := mux.Vars(r)["policy"]
	summary, err := s.Analyzer.Simulate(policy)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PolicyResultPayload{Policy: policy, Summary: summary})
}

// liveLatest returns the newest reading of every zone.
func (s *Server) liveLatest(w http.ResponseWriter, r *http.Request) {
	if s.Live == nil {
		s.fail(w, ErrLiveDisabled)
		return
	}
	out := []OccupancyLivePayload{}
	for _, zone := range s.Live.Zones() {
		tr, ok := s.Live.TimeRange(zone)
		if !ok {
			continue
		}
		if rec, ok := s.Live.OccupancyAt(zone, tr.End); ok {
			out = append(out, occupancyLivePayload(rec))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// liveZone returns one zone's readings since ?since (RFC 3339), defaulting
// to the last day before its newest reading.
func (s *Server) liveZone(w http.ResponseWriter, r *http.Request) {
	if s.Live == nil {
		s.fail(w, ErrLiveDisabled)
		return
	}
	zone := mux.Vars(r)["zone"]
	tr, ok := s.Live.TimeRange(zone)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no readings for zone %q", zone))
		return
	}
	since := tr.End.Add(-defaultLiveWindow)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid since %q", v))
			return
		}
		since = t
	}
	recs := s.Live.OccupancyInRange(zone, since, tr.End.Add(time.Nanosecond))
	out := make([]OccupancyLivePayload, len(recs))
	for i, rec := range recs {
		out[i] = occupancyLivePayload(rec)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNoDataset), errors.Is(err, ErrLiveDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, control.ErrInvalidPolicy), errors.Is(err, report.ErrInvalidAggFunc):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, report.ErrNoData), errors.Is(err, control.ErrMissingForecast):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("dashboard request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
