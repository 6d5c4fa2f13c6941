// Package http is the traced client virtual users use to call the
// collaborator API. Failed calls are returned as Result values with
// Failed set, never as errors.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"tracewright/internal/core"
	"tracewright/internal/fakedata"
)

// Correlation headers carried on every collaborator call.
const (
	HeaderTraceID   = "X-Trace-Id"
	HeaderSessionID = "X-Session-Id"
)

const (
	// maxResponseBody limits the response body kept for callers.
	maxResponseBody = 1 << 20

	tracerName = "tracewright/http"
)

// errSyntheticNetwork is the injected first-attempt failure.
var errSyntheticNetwork = errors.New("network error: connection reset by peer")

// Observer receives one callback per collaborator call.
type Observer interface {
	ObserveHTTP(method, path string, status int, failed bool, d time.Duration)
}

// Correlation identifies the session making a call.
type Correlation struct {
	UserID    int
	TraceID   string
	SessionID string
}

type Request struct {
	Method string
	Path   string
	// Body is JSON encoded when non-nil.
	Body any
	// Timing, when set, is slept through phase by phase before the real
	// call and recorded as span events.
	Timing *fakedata.NetworkTiming
}

type Result struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
	Attempts   int
	Failed     bool
	Error      string
}

// RetryPolicy configures FetchWithRetries.
type RetryPolicy struct {
	MaxRetries int `yaml:"maxRetries"`
	// Backoff before retry n is Backoff*n plus up to Jitter.
	Backoff time.Duration `yaml:"backoff"`
	Jitter  time.Duration `yaml:"jitter"`
	// SyntheticErrorRate is the chance the first attempt fails with a
	// fabricated network error before any request is sent.
	SyntheticErrorRate float64 `yaml:"syntheticErrorRate"`
}

// DefaultRetryPolicy matches the collaborator client used by the demo.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:         2,
		Backoff:            500 * time.Millisecond,
		Jitter:             250 * time.Millisecond,
		SyntheticErrorRate: 0.02,
	}
}

type Client struct {
	HTTP       *http.Client
	BaseURL    string
	Tracer     trace.Tracer
	Propagator propagation.TextMapPropagator
	Clock      core.Clock
	Logger     *zap.Logger
	Debug      *DebugLogger
	Observer   Observer
}

// FetchWithTracing performs one call under an HTTP client span that is a
// child of the span active in ctx.
func (c *Client) FetchWithTracing(ctx context.Context, ids Correlation, req Request) Result {
	clock := c.clock()
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	ctx, span := c.tracer().Start(ctx, "HTTP "+method+" "+req.Path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(clock.Now()),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(method),
			semconv.URLPath(req.Path),
			attribute.String("session.id", ids.SessionID),
		),
	)

	var simulated time.Duration
	if req.Timing != nil {
		var err error
		simulated, err = c.simulateNetwork(ctx, span, *req.Timing)
		if err != nil {
			return c.finish(span, ids, method, req.Path, Result{Duration: simulated, Attempts: 1, Failed: true, Error: err.Error()})
		}
	}

	var body io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return c.finish(span, ids, method, req.Path, Result{Attempts: 1, Failed: true, Error: fmt.Sprintf("encoding body: %v", err)})
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+req.Path, body)
	if err != nil {
		return c.finish(span, ids, method, req.Path, Result{Attempts: 1, Failed: true, Error: err.Error()})
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set(HeaderTraceID, ids.TraceID)
	httpReq.Header.Set(HeaderSessionID, ids.SessionID)
	c.propagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	c.Debug.LogRequest(ids, httpReq)

	start := time.Now()
	resp, err := c.httpClient().Do(httpReq)
	rtt := time.Since(start)
	if err != nil {
		c.Debug.LogError(ids, httpReq, err, rtt)
		return c.finish(span, ids, method, req.Path, Result{Duration: simulated + rtt, Attempts: 1, Failed: true, Error: err.Error()})
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	_, _ = io.Copy(io.Discard, resp.Body)

	c.Debug.LogResponse(ids, resp, respBody, rtt)

	result := Result{
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Duration:   simulated + rtt,
		Attempts:   1,
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.Failed = true
		result.Error = resp.Status
	}
	return c.finish(span, ids, method, req.Path, result)
}

// FetchWithRetries retries failed calls with linear backoff. A 4xx status
// is not retried since the collaborator rejected the request itself.
func (c *Client) FetchWithRetries(ctx context.Context, rng *rand.Rand, ids Correlation, req Request, policy RetryPolicy) Result {
	clock := c.clock()
	var result Result
	var elapsed time.Duration
	attempts := 0

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := policy.Backoff * time.Duration(attempt)
			if policy.Jitter > 0 {
				wait += time.Duration(rng.Int64N(int64(policy.Jitter)))
			}
			c.logger().Warn("retrying collaborator call",
				zap.Int("user_id", ids.UserID),
				zap.String("session_id", ids.SessionID),
				zap.String("trace_id", ids.TraceID),
				zap.String("path", req.Path),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", wait),
				zap.String("last_error", result.Error),
			)
			if err := clock.Sleep(ctx, wait); err != nil {
				result.Error = err.Error()
				break
			}
			elapsed += wait
		}

		attempts++
		if attempt == 0 && policy.SyntheticErrorRate > 0 && rng.Float64() < policy.SyntheticErrorRate {
			result = c.syntheticFailure(ctx, ids, req)
		} else {
			result = c.FetchWithTracing(ctx, ids, req)
		}
		elapsed += result.Duration

		if !result.Failed || isClientError(result.StatusCode) || ctx.Err() != nil {
			break
		}
	}

	result.Attempts = attempts
	result.Duration = elapsed
	return result
}

func isClientError(status int) bool {
	return status >= 400 && status < 500
}

// syntheticFailure records a failed client span without sending anything.
func (c *Client) syntheticFailure(ctx context.Context, ids Correlation, req Request) Result {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	_, span := c.tracer().Start(ctx, "HTTP "+method+" "+req.Path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(c.clock().Now()),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(method),
			semconv.URLPath(req.Path),
			attribute.Bool("network.synthetic_error", true),
		),
	)
	return c.finish(span, ids, method, req.Path, Result{Attempts: 1, Failed: true, Error: errSyntheticNetwork.Error()})
}

// simulateNetwork sleeps through each connection phase in order.
func (c *Client) simulateNetwork(ctx context.Context, span trace.Span, timing fakedata.NetworkTiming) (time.Duration, error) {
	clock := c.clock()
	phases := []struct {
		name string
		d    time.Duration
	}{
		{"dns_lookup", timing.DNS},
		{"tcp_connect", timing.Connect},
		{"tls_handshake", timing.TLS},
		{"request_sent", timing.Request},
		{"response_wait", timing.Response},
	}

	span.SetAttributes(attribute.String("network.connection_type", timing.ConnectionType))
	var total time.Duration
	for _, p := range phases {
		if p.d <= 0 {
			continue
		}
		if err := clock.Sleep(ctx, p.d); err != nil {
			return total, err
		}
		total += p.d
		span.AddEvent(p.name,
			trace.WithTimestamp(clock.Now()),
			trace.WithAttributes(attribute.Int64("duration_ms", p.d.Milliseconds())),
		)
	}
	return total, nil
}

func (c *Client) finish(span trace.Span, ids Correlation, method, path string, result Result) Result {
	if result.StatusCode > 0 {
		span.SetAttributes(semconv.HTTPResponseStatusCode(result.StatusCode))
	}
	if result.Failed {
		span.SetStatus(codes.Error, result.Error)
		c.logger().Warn("collaborator call failed",
			zap.Int("user_id", ids.UserID),
			zap.String("session_id", ids.SessionID),
			zap.String("trace_id", ids.TraceID),
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", result.StatusCode),
			zap.String("error", result.Error),
		)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(c.clock().Now()))

	if c.Observer != nil {
		c.Observer.ObserveHTTP(method, path, result.StatusCode, result.Failed, result.Duration)
	}
	return result
}

func (c *Client) clock() core.Clock {
	if c.Clock == nil {
		return core.RealClock{}
	}
	return c.Clock
}

func (c *Client) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c *Client) tracer() trace.Tracer {
	if c.Tracer == nil {
		return otel.Tracer(tracerName)
	}
	return c.Tracer
}

func (c *Client) propagator() propagation.TextMapPropagator {
	if c.Propagator == nil {
		return propagation.TraceContext{}
	}
	return c.Propagator
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}
