// Command testserver runs the demo restaurant collaborator API that
// tracewright's virtual users call.
//
// Usage:
//
//	testserver [flags]
//
// Flags:
//
//	-port              Port to listen on (default: 8080)
//	-host              Host to bind to (default: localhost)
//	-products          CSV or JSON product catalogue (default: built-in menu)
//	-failure           Failure scenario to run at startup
//	-failure-duration  How long the startup scenario lasts (default: 1m)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"tracewright/internal/data"
	"tracewright/internal/failure"
	"tracewright/internal/telemetry"
	"tracewright/testserver"
)

func main() {
	port := flag.Int("port", 8080, "port to listen on")
	host := flag.String("host", "localhost", "host to bind to")
	products := flag.String("products", "", "CSV or JSON product catalogue")
	scenario := flag.String("failure", "", "failure scenario to run at startup")
	failureDuration := flag.Duration("failure-duration", time.Minute, "how long the startup scenario lasts")
	logFormat := flag.String("log-format", "console", "log format: json, console, nop")
	exporter := flag.String("exporter", telemetry.ExporterNone, "trace exporter: none, stdout, otlp")
	endpoint := flag.String("otlp-endpoint", "", "OTLP/HTTP collector endpoint")
	flag.Parse()

	logger, err := telemetry.NewLogger(*logFormat, "info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, shutdown, err := telemetry.NewTracerProvider(ctx, telemetry.TracingConfig{
		ServiceName: "tracewright-testserver",
		Exporter:    *exporter,
		Endpoint:    *endpoint,
		SampleRate:  1,
	})
	if err != nil {
		logger.Fatal("tracing setup failed", zap.Error(err))
	}

	store := data.DemoMenu()
	if *products != "" {
		if store, err = data.LoadFile("products", *products, ""); err != nil {
			logger.Fatal("loading products", zap.Error(err))
		}
	}

	state := failure.NewSystemState()
	sim := failure.NewSimulator(state,
		failure.WithLogger(logger.Named("failure")),
		failure.WithRecords(store),
	)
	if *scenario != "" {
		if res := sim.Start(failure.Scenario(*scenario), *failureDuration); !res.Success {
			logger.Fatal("failure scenario not started", zap.String("scenario", *scenario), zap.String("error", res.Error))
		}
	}

	server := testserver.NewServer(state, store,
		testserver.WithLogger(logger),
		testserver.WithTracer(tp.Tracer("testserver"), otel.GetTextMapPropagator()),
	)
	addr := fmt.Sprintf("%s:%d", *host, *port)

	fmt.Println("Tracewright Test Server")
	fmt.Println("=======================")
	fmt.Printf("Listening on http://%s\n\n", addr)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health              - Health and degraded services")
	fmt.Println("  GET  /products            - Product catalogue")
	fmt.Println("  GET  /products/{id}       - One product")
	fmt.Println("  POST /orders              - Create an order (payment authorised first)")
	fmt.Println("  GET  /orders/{id}         - Fetch an order")
	fmt.Println("  GET  /reservations        - List reservations")
	fmt.Println("  POST /reservations        - Create a reservation")
	fmt.Println("  GET  /metrics             - Prometheus metrics")
	fmt.Println()

	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	fmt.Println("\nShutting down...")
	sim.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
	if err := shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown", zap.Error(err))
	}
}
