package http

import (
	"context"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"tracewright/internal/core"
	"tracewright/internal/fakedata"
)

type recordingObserver struct {
	calls atomic.Int32
	fails atomic.Int32
}

func (o *recordingObserver) ObserveHTTP(_, _ string, _ int, failed bool, _ time.Duration) {
	o.calls.Add(1)
	if failed {
		o.fails.Add(1)
	}
}

func newTestClient(t *testing.T, h http.Handler) (*Client, *tracetest.InMemoryExporter, *core.FakeClock) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	clock := core.NewFakeClock(time.Unix(0, 0))
	return &Client{
		HTTP:    srv.Client(),
		BaseURL: srv.URL,
		Tracer:  tp.Tracer("test"),
		Clock:   clock,
	}, exp, clock
}

var ids = Correlation{UserID: 7, TraceID: "0123456789abcdef0123456789abcdef", SessionID: "sess-7"}

func TestFetchWithTracing_CorrelationHeaders(t *testing.T) {
	var got http.Header
	c, exp, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`{"status":"ok"}`))
	}))

	res := c.FetchWithTracing(context.Background(), ids, Request{Path: "/health"})
	require.False(t, res.Failed, res.Error)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(res.Body))

	assert.Equal(t, ids.TraceID, got.Get(HeaderTraceID))
	assert.Equal(t, ids.SessionID, got.Get(HeaderSessionID))
	assert.NotEmpty(t, got.Get("traceparent"))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "HTTP GET /health", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
}

func TestFetchWithTracing_SoftFailure(t *testing.T) {
	obs := &recordingObserver{}
	c, exp, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	c.Observer = obs

	res := c.FetchWithTracing(context.Background(), ids, Request{Method: http.MethodPost, Path: "/orders", Body: map[string]any{"total": 1}})
	assert.True(t, res.Failed)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, int32(1), obs.fails.Load())
	assert.Equal(t, codes.Error, exp.GetSpans()[0].Status.Code)
}

func TestFetchWithTracing_TransportError(t *testing.T) {
	c := &Client{BaseURL: "http://127.0.0.1:1", Clock: core.NewFakeClock(time.Unix(0, 0))}
	res := c.FetchWithTracing(context.Background(), ids, Request{Path: "/health"})
	assert.True(t, res.Failed)
	assert.NotEmpty(t, res.Error)
	assert.Zero(t, res.StatusCode)
}

func TestFetchWithTracing_SimulatedTiming(t *testing.T) {
	c, exp, clock := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	timing := fakedata.NetworkTiming{
		ConnectionType: "wifi",
		DNS:            10 * time.Millisecond,
		Connect:        20 * time.Millisecond,
		TLS:            30 * time.Millisecond,
		Request:        5 * time.Millisecond,
		Response:       35 * time.Millisecond,
	}
	res := c.FetchWithTracing(context.Background(), ids, Request{Path: "/products", Timing: &timing})
	require.False(t, res.Failed)

	assert.Equal(t, timing.Total(), clock.Slept())
	assert.GreaterOrEqual(t, res.Duration, timing.Total())
	assert.Len(t, exp.GetSpans()[0].Events, 5)
}

func TestFetchWithRetries_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	c, _, clock := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	policy := RetryPolicy{MaxRetries: 3, Backoff: 100 * time.Millisecond}
	res := c.FetchWithRetries(context.Background(), rand.New(rand.NewPCG(1, 1)), ids, Request{Method: http.MethodPost, Path: "/orders"}, policy)

	assert.False(t, res.Failed)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), hits.Load())
	// backoff is linear: 100ms then 200ms
	assert.Equal(t, 300*time.Millisecond, clock.Slept())
}

func TestFetchWithRetries_GivesUp(t *testing.T) {
	var hits atomic.Int32
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	res := c.FetchWithRetries(context.Background(), rand.New(rand.NewPCG(1, 1)), ids, Request{Path: "/health"}, RetryPolicy{MaxRetries: 2})
	assert.True(t, res.Failed)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchWithRetries_NoRetryOnClientError(t *testing.T) {
	var hits atomic.Int32
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))

	res := c.FetchWithRetries(context.Background(), rand.New(rand.NewPCG(1, 1)), ids, Request{Path: "/products/999"}, RetryPolicy{MaxRetries: 3})
	assert.True(t, res.Failed)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchWithRetries_SyntheticFirstAttemptError(t *testing.T) {
	var hits atomic.Int32
	c, exp, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))

	policy := RetryPolicy{MaxRetries: 1, Backoff: time.Millisecond, SyntheticErrorRate: 1}
	res := c.FetchWithRetries(context.Background(), rand.New(rand.NewPCG(1, 1)), ids, Request{Path: "/health"}, policy)

	assert.False(t, res.Failed)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int32(1), hits.Load())

	spans := exp.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
}
