package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"tracewright/internal/config"
	"tracewright/internal/coordinator"
	"tracewright/internal/core"
	"tracewright/internal/data"
	"tracewright/internal/failure"
	tracehttp "tracewright/internal/http"
	"tracewright/internal/journey"
	"tracewright/internal/metrics"
	"tracewright/internal/ratelimit"
	"tracewright/internal/telemetry"
	"tracewright/internal/vuser"
	"tracewright/testserver"
)

// engine is everything both modes share: users, failures and telemetry.
type engine struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	recorder *metrics.Recorder
	state    *failure.SystemState
	sim      *failure.Simulator
	coord    *coordinator.Coordinator
	products *data.Store
	target   *http.Server
	shutdown telemetry.ShutdownFunc
}

type engineOptions struct {
	reporters []core.Reporter
	onEnd     []func(core.SessionSummary)
	verbose   bool
}

func newEngine(ctx context.Context, cfg *config.Config, opts engineOptions) (*engine, error) {
	logger, err := telemetry.NewLogger(cfg.Telemetry.LogFormat, cfg.Telemetry.LogLevel)
	if err != nil {
		return nil, err
	}

	tp, shutdown, err := telemetry.NewTracerProvider(ctx, telemetry.TracingConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return nil, err
	}

	e := &engine{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		state:    failure.NewSystemState(),
		shutdown: shutdown,
	}
	e.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	e.recorder = metrics.NewRecorder(e.registry)

	e.products = data.DemoMenu()
	if cfg.Target.Products != "" {
		if e.products, err = data.LoadFile("products", cfg.Target.Products, cfg.Dir); err != nil {
			return nil, err
		}
	}

	e.sim = failure.NewSimulator(e.state,
		failure.WithLogger(logger.Named("failure")),
		failure.WithConfig(cfg.Failure),
		failure.WithRecords(e.products),
		failure.WithObserver(e.recorder),
	)

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}

	tracer := tp.Tracer("tracewright")
	clock := core.RealClock{}
	client := &tracehttp.Client{
		HTTP:       &http.Client{Timeout: cfg.Target.Timeout},
		BaseURL:    cfg.Target.BaseURL,
		Tracer:     tracer,
		Propagator: otel.GetTextMapPropagator(),
		Clock:      clock,
		Logger:     logger.Named("http"),
		Observer:   e.recorder,
	}
	if cfg.Target.Debug || opts.verbose {
		client.Debug = tracehttp.NewDebugLogger(os.Stderr)
	}

	users := vuserConfig(cfg, client, tracer, clock, logger.Named("vuser"), append(core.MultiReporter{e.recorder}, opts.reporters...))

	coordOpts := []coordinator.Option{
		coordinator.WithCatalog(catalog),
		coordinator.WithHooks(e.recorder),
	}
	if cfg.Traffic.Seed != 0 {
		coordOpts = append(coordOpts, coordinator.WithSeed(uint64(cfg.Traffic.Seed)))
	}
	if cfg.Traffic.SpawnRate > 0 {
		coordOpts = append(coordOpts, coordinator.WithRateLimiter(ratelimit.NewRateLimiter(cfg.Traffic.SpawnRate)))
	}
	for _, fn := range opts.onEnd {
		coordOpts = append(coordOpts, coordinator.OnSessionEnd(fn))
	}
	e.coord = coordinator.NewCoordinator(users.Reporter, users.Factory(), logger.Named("coordinator"), coordOpts...)

	if cfg.Target.Embed != "" {
		srv := testserver.NewServer(e.state, e.products,
			testserver.WithLogger(logger.Named("testserver")),
			testserver.WithTracer(tracer, otel.GetTextMapPropagator()),
		)
		e.target = &http.Server{
			Addr:              cfg.Target.Embed,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("embedded collaborator listening", zap.String("addr", cfg.Target.Embed))
			if err := e.target.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("embedded collaborator failed", zap.Error(err))
			}
		}()
	}
	return e, nil
}

func loadCatalog(cfg *config.Config) (journey.Catalog, error) {
	catalog := journey.Default()
	if path := cfg.JourneysPath(); path != "" {
		var err error
		if catalog, err = journey.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if len(cfg.Traffic.Weights) > 0 {
		mixed, err := catalog.WithMix(cfg.Traffic.Weights)
		if err != nil {
			return nil, fmt.Errorf("traffic.weights: %w", err)
		}
		catalog = mixed
	}
	return catalog, nil
}

func vuserConfig(cfg *config.Config, client *tracehttp.Client, tracer trace.Tracer, clock core.Clock, logger *zap.Logger, reporter core.Reporter) vuser.Config {
	return vuser.Config{
		Client:     client,
		Tracer:     tracer,
		Clock:      clock,
		Logger:     logger,
		Reporter:   reporter,
		Payment:    cfg.Payment,
		Retry:      cfg.Network,
		ThinkScale: cfg.Traffic.ThinkScale,
		Seed:       uint64(cfg.Traffic.Seed),
	}
}

// drain stops traffic and failures, then flushes telemetry.
func (e *engine) drain(timeout time.Duration) {
	if n := e.coord.StopAll(); n > 0 {
		e.logger.Info("waiting for users to finish", zap.Int("users", n))
	}
	e.coord.Wait()
	if st := e.sim.Status(); st.Active {
		e.sim.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if e.target != nil {
		if err := e.target.Shutdown(ctx); err != nil {
			e.logger.Warn("embedded collaborator shutdown", zap.Error(err))
		}
	}
	if err := e.shutdown(ctx); err != nil {
		e.logger.Warn("tracer shutdown", zap.Error(err))
	}
	_ = e.logger.Sync()
}
