// Package testserver is a demo restaurant API for the traffic engine to
// drive. Its handlers consult a failure.SystemState, so injected faults show
// up as latency, 5xx responses and bad data on the wire.
package testserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"tracewright/internal/core"
	"tracewright/internal/data"
	"tracewright/internal/failure"
	tracehttp "tracewright/internal/http"
	"tracewright/internal/metrics"
)

var errGatewayUnreachable = errors.New("payment gateway unreachable: dial tcp: i/o timeout")

// Server serves the demo API.
type Server struct {
	router   chi.Router
	state    *failure.SystemState
	products *data.Store
	logger   *zap.Logger
	clock    core.Clock
	tracer   trace.Tracer
	prop     propagation.TextMapPropagator
	gateway  *gobreaker.CircuitBreaker
	metrics  *metrics.Server
	registry *prometheus.Registry

	// queueDelay is how long each queued request waits while the
	// connection pool is exhausted.
	queueDelay time.Duration

	mu           sync.Mutex
	orders       map[string]Order
	reservations []Reservation
	seq          atomic.Int64
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.logger = l } }
func WithClock(c core.Clock) Option   { return func(s *Server) { s.clock = c } }

// WithTracer makes the server continue incoming traceparent headers in
// server spans.
func WithTracer(t trace.Tracer, p propagation.TextMapPropagator) Option {
	return func(s *Server) {
		s.tracer = t
		s.prop = p
	}
}

func WithQueueDelay(d time.Duration) Option { return func(s *Server) { s.queueDelay = d } }

// NewServer creates the demo API over state and products. A nil store serves
// the built-in demo menu.
func NewServer(state *failure.SystemState, products *data.Store, opts ...Option) *Server {
	if products == nil {
		products = data.DemoMenu()
	}
	s := &Server{
		state:      state,
		products:   products,
		logger:     zap.NewNop(),
		clock:      core.RealClock{},
		tracer:     noop.NewTracerProvider().Tracer("testserver"),
		prop:       propagation.TraceContext{},
		registry:   prometheus.NewRegistry(),
		queueDelay: 50 * time.Millisecond,
		orders:     make(map[string]Order),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics = metrics.NewServer(s.registry, "testserver")
	s.gateway = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			s.metrics.SetBreakerState(name, float64(to))
		},
	})
	s.routes()
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(s.metrics.Middleware)
	r.Use(s.correlate)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	// Everything below is backed by the database and the service mesh, so
	// it feels injected faults.
	r.Group(func(r chi.Router) {
		r.Use(s.injectLatency)
		r.Use(s.requireService("api-gateway"))

		r.Group(func(r chi.Router) {
			r.Use(s.requireService("inventory"))
			r.Use(s.connectionPool)
			r.Get("/products", s.handleListProducts)
			r.Get("/products/{id}", s.handleGetProduct)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.requireService("orders", "payment"))
			r.Use(s.connectionPool)
			r.Post("/orders", s.handleCreateOrder)
			r.Get("/orders/{id}", s.handleGetOrder)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.requireService("notifications"))
			r.Use(s.connectionPool)
			r.Get("/reservations", s.handleListReservations)
			r.Post("/reservations", s.handleCreateReservation)
		})
	})
	s.router = r
}

// correlate logs the engine's correlation headers and continues the caller's
// trace in a server span.
func (s *Server) correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := s.prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := s.tracer.Start(ctx, r.Method+" "+r.URL.Path, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))

		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("trace_id", r.Header.Get(tracehttp.HeaderTraceID)),
			zap.String("session_id", r.Header.Get(tracehttp.HeaderSessionID)),
		)
	})
}

func (s *Server) injectLatency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d := s.state.AddedLatency(); d > 0 {
			if err := s.clock.Sleep(r.Context(), d); err != nil {
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// requireService answers 503 while any of the named services is down.
func (s *Server) requireService(names ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, name := range names {
				if s.state.ServiceDown(name) {
					s.logger.Warn("dependency down", zap.String("service", name), zap.String("path", r.URL.Path))
					writeJSON(w, http.StatusServiceUnavailable, map[string]string{
						"error":   "service unavailable",
						"service": name,
					})
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// connectionPool makes the request wait its turn in the pool queue and then
// fail while the pool is exhausted.
func (s *Server) connectionPool(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exhausted, queue := s.state.PoolExhausted()
		if !exhausted {
			next.ServeHTTP(w, r)
			return
		}
		wait := s.queueDelay * time.Duration(queue+1)
		if err := s.clock.Sleep(r.Context(), wait); err != nil {
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":       "timeout acquiring database connection",
			"queueLength": queue,
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	flags := s.state.Flags()
	status := "ok"
	if flags.Any() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"servicesDown": flags.ServicesDown,
		"breaker":      s.gateway.State().String(),
	})
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"products": s.products.All()})
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	row, ok := s.products.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "product not found"})
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// authorize charges the order through the payment gateway breaker.
func (s *Server) authorize(ctx context.Context, amount float64) (string, error) {
	res, err := s.gateway.Execute(func() (interface{}, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.state.GatewayUnreachable() {
			return nil, errGatewayUnreachable
		}
		return "auth_" + uuid.NewString()[:8], nil
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
