// Package api exposes the operator HTTP surface: starting and stopping
// synthetic traffic and failure scenarios, and reporting their status.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tracewright/internal/coordinator"
	"tracewright/internal/core"
	"tracewright/internal/failure"
	"tracewright/internal/journey"
	"tracewright/internal/metrics"
)

// Traffic is the part of the coordinator the API drives.
type Traffic interface {
	Start(ctx context.Context, req coordinator.StartRequest) ([]string, error)
	StopAll() int
	Snapshot() []core.Activity
	Sessions() []core.SessionSummary
	ActiveUsers() int
	LiveUsers() int
	Catalog() journey.Catalog
}

// Failures is the part of the failure simulator the API drives.
type Failures interface {
	Start(scenario failure.Scenario, duration time.Duration) failure.StartResult
	Stop() failure.StopResult
	Status() failure.Status
}

type Server struct {
	router   chi.Router
	base     context.Context
	traffic  Traffic
	failures Failures
	logger   *zap.Logger
	gatherer prometheus.Gatherer
	metrics  *metrics.Server
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.logger = l } }

// WithRegistry serves reg on /metrics and instruments the API's own
// handlers into it.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.gatherer = reg
		s.metrics = metrics.NewServer(reg, "api")
	}
}

// NewServer builds the router. Users started through the API run under
// base, not under the request that started them.
func NewServer(base context.Context, traffic Traffic, failures Failures, opts ...Option) *Server {
	s := &Server{
		base:     base,
		traffic:  traffic,
		failures: failures,
		logger:   zap.NewNop(),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/journeys", s.handleJourneys)
		r.Route("/traffic", func(r chi.Router) {
			r.Post("/start", s.handleTrafficStart)
			r.Post("/stop", s.handleTrafficStop)
			r.Get("/status", s.handleTrafficStatus)
		})
		r.Route("/failures", func(r chi.Router) {
			r.Post("/start", s.handleFailureStart)
			r.Post("/stop", s.handleFailureStop)
			r.Get("/status", s.handleFailureStatus)
			r.Get("/scenarios", s.handleScenarios)
		})
	})
	s.router = r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/metrics" || r.URL.Path == "/healthz" {
			return
		}
		s.logger.Info("api request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, errorResponse{Error: msg, Code: code})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type journeyView struct {
	Name    string           `json:"name"`
	Weight  float64          `json:"weight"`
	Actions []journey.Action `json:"actions"`
}

func (s *Server) handleJourneys(w http.ResponseWriter, _ *http.Request) {
	cat := s.traffic.Catalog()
	out := make([]journeyView, 0, len(cat))
	for _, j := range cat {
		v := journeyView{Name: j.Name, Weight: j.Weight, Actions: make([]journey.Action, 0, len(j.Steps))}
		for _, st := range j.Steps {
			v.Actions = append(v.Actions, st.Action)
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"journeys": out})
}

// trafficRequest accepts journeyWeights either as an object keyed by journey
// name or as an array in catalog order.
type trafficRequest struct {
	Users          int             `json:"users"`
	JourneyWeights json.RawMessage `json:"journeyWeights"`
	Concurrency    int             `json:"concurrency"`
}

func (t trafficRequest) startRequest() (coordinator.StartRequest, error) {
	req := coordinator.StartRequest{Users: t.Users, Concurrency: t.Concurrency}
	raw := bytes.TrimSpace(t.JourneyWeights)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
	case raw[0] == '[':
		if err := json.Unmarshal(raw, &req.Weights); err != nil {
			return req, errors.New("journeyWeights: " + err.Error())
		}
	default:
		if err := json.Unmarshal(raw, &req.Mix); err != nil {
			return req, errors.New("journeyWeights: " + err.Error())
		}
	}
	return req, nil
}

func (s *Server) handleTrafficStart(w http.ResponseWriter, r *http.Request) {
	var body trafficRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	req, err := body.startRequest()
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ids, err := s.traffic.Start(s.base, req)
	if err != nil {
		if errors.Is(err, coordinator.ErrInvalidRequest) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("traffic start failed", zap.Error(err))
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":    true,
		"users":      len(ids),
		"sessionIds": ids,
	})
}

func (s *Server) handleTrafficStop(w http.ResponseWriter, _ *http.Request) {
	n := s.traffic.StopAll()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stopped": n})
}

type trafficStatus struct {
	ActiveUsers int             `json:"activeUsers"`
	LiveUsers   int             `json:"liveUsers"`
	Sessions    int             `json:"sessions"`
	EndReasons  map[string]int  `json:"endReasons"`
	Journeys    map[string]int  `json:"journeys"`
	Users       []core.Activity `json:"users"`
}

func (s *Server) handleTrafficStatus(w http.ResponseWriter, _ *http.Request) {
	sessions := s.traffic.Sessions()
	st := trafficStatus{
		ActiveUsers: s.traffic.ActiveUsers(),
		LiveUsers:   s.traffic.LiveUsers(),
		Sessions:    len(sessions),
		EndReasons:  make(map[string]int),
		Journeys:    make(map[string]int),
		Users:       s.traffic.Snapshot(),
	}
	for _, sum := range sessions {
		st.EndReasons[sum.EndReason]++
	}
	for _, a := range st.Users {
		st.Journeys[a.Journey]++
	}
	writeJSON(w, http.StatusOK, st)
}

type failureRequest struct {
	Scenario        string  `json:"scenario"`
	DurationSeconds float64 `json:"durationSeconds"`
}

func (s *Server) handleFailureStart(w http.ResponseWriter, r *http.Request) {
	var body failureRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	d := time.Duration(body.DurationSeconds * float64(time.Second))
	res := s.failures.Start(failure.Scenario(body.Scenario), d)
	writeJSON(w, failureStatusCode(res.Err), res)
}

func (s *Server) handleFailureStop(w http.ResponseWriter, _ *http.Request) {
	res := s.failures.Stop()
	writeJSON(w, failureStatusCode(res.Err), res)
}

func (s *Server) handleFailureStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.failures.Status())
}

func (s *Server) handleScenarios(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": failure.Scenarios})
}

func failureStatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, failure.ErrAlreadyActive), errors.Is(err, failure.ErrNotActive):
		return http.StatusConflict
	case errors.Is(err, failure.ErrUnknownScenario), errors.Is(err, failure.ErrInvalidDuration):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
