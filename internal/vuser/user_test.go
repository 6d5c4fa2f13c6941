package vuser

import (
	"context"
	"encoding/json"
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
	tracehttp "tracewright/internal/http"
	"tracewright/internal/journey"
)

type fakeAPI struct {
	orders       atomic.Int32
	reservations atomic.Int32
	orderStatus  int
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/products":
		json.NewEncoder(w).Encode(map[string]any{"products": []map[string]any{
			{"id": "p1", "name": "Soup", "price": 4.0},
			{"id": "p2", "name": "Pie", "price": 6.0},
		}})
	case r.Method == http.MethodPost && r.URL.Path == "/orders":
		f.orders.Add(1)
		status := f.orderStatus
		if status == 0 {
			status = http.StatusCreated
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{"id": "o1"})
	case r.Method == http.MethodPost && r.URL.Path == "/reservations":
		f.reservations.Add(1)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": "r1"})
	default:
		json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	}
}

type harness struct {
	cfg  Config
	api  *fakeAPI
	exp  *tracetest.InMemoryExporter
	evts *eventLog
}

type eventLog struct {
	events []core.Event
}

func (l *eventLog) Report(e core.Event) { l.events = append(l.events, e) }

func newHarness(t *testing.T) *harness {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	clock := core.NewFakeClock(time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC))
	tracer := tp.Tracer("test")
	evts := &eventLog{}
	return &harness{
		api:  api,
		exp:  exp,
		evts: evts,
		cfg: Config{
			Client:   &tracehttp.Client{HTTP: srv.Client(), BaseURL: srv.URL, Tracer: tracer, Clock: clock},
			Tracer:   tracer,
			Clock:    clock,
			Reporter: evts,
			Seed:     42,
		},
	}
}

func countSpans(spans tracetest.SpanStubs, name string) int {
	n := 0
	for _, s := range spans {
		if s.Name == name {
			n++
		}
	}
	return n
}

func neverDecline() PaymentConfig {
	p := DefaultPaymentConfig()
	p.DeclineProbability = 0
	return p
}

func alwaysDecline() PaymentConfig {
	p := DefaultPaymentConfig()
	p.DeclineProbability = 1
	p.RetrySuccessMin, p.RetrySuccessMax = 0, 0
	return p
}

func TestUser_QuickBuyerCompletes(t *testing.T) {
	h := newHarness(t)
	h.cfg.Payment = neverDecline()
	qb, _ := journey.Default().Find(journey.QuickBuyer)

	u := New(1, "", qb, h.cfg)
	require.NoError(t, u.Run(context.Background()))

	s := u.Summary()
	assert.Equal(t, "completed", s.EndReason)
	assert.Len(t, s.TraceID, 32)
	assert.Equal(t, 1, s.Orders)
	assert.Equal(t, int32(1), h.api.orders.Load())
	assert.True(t, u.Cart().Empty())
	assert.Equal(t, core.StateCompleted, u.Activity().State)

	spans := h.exp.GetSpans()
	assert.Equal(t, 1, countSpans(spans, "user_session"))
	assert.Equal(t, 1, countSpans(spans, "checkout"))
	for _, sp := range spans {
		assert.Equal(t, s.TraceID, sp.SpanContext.TraceID().String())
	}

	require.NotEmpty(t, h.evts.events)
	for i := 1; i < len(h.evts.events); i++ {
		assert.Greater(t, h.evts.events[i].StepIndex, h.evts.events[i-1].StepIndex)
	}
}

func TestUser_ProductsComeFromMenu(t *testing.T) {
	h := newHarness(t)
	j := journey.Journey{Name: "t", Weight: 1, Steps: []journey.Step{
		{Action: journey.Navigate, Target: "/menu"},
		{Action: journey.AddToCart},
	}}
	u := New(1, "", j, h.cfg)
	require.NoError(t, u.Run(context.Background()))

	for _, id := range u.Cart().IDs() {
		assert.Contains(t, []string{"p1", "p2"}, id)
	}
}

func TestUser_CheckoutDeclineLeavesCartUnchanged(t *testing.T) {
	h := newHarness(t)
	h.cfg.Payment = alwaysDecline()
	u := New(1, "", journey.Journey{Name: "t"}, h.cfg)
	ctx := u.tracker.Start(context.Background())
	u.tracker.StartNavigation("/checkout")

	u.addToCart()
	u.addToCart()
	before := u.Cart().Snapshot()

	out, err := u.checkout(ctx)
	require.NoError(t, err)
	assert.False(t, out.ok)
	assert.Equal(t, before, u.Cart().Snapshot())
	assert.Equal(t, int32(0), h.api.orders.Load())

	u.tracker.EndSession("completed")
	for _, sp := range h.exp.GetSpans() {
		if sp.Name == "checkout" {
			assert.Equal(t, codes.Error, sp.Status.Code)
		}
	}
}

func TestUser_CheckoutDeclineFromEmptyCartLeavesCartEmpty(t *testing.T) {
	h := newHarness(t)
	h.cfg.Payment = alwaysDecline()
	u := New(1, "", journey.Journey{Name: "t"}, h.cfg)
	ctx := u.tracker.Start(context.Background())
	require.True(t, u.Cart().Empty())

	out, err := u.checkout(ctx)
	require.NoError(t, err)
	assert.False(t, out.ok)
	assert.True(t, u.Cart().Empty())
	assert.Equal(t, 1, u.Summary().Checkouts)
	assert.Equal(t, int32(0), h.api.orders.Load())
}

func TestUser_CheckoutOrderFailureFromEmptyCartLeavesCartEmpty(t *testing.T) {
	h := newHarness(t)
	h.cfg.Payment = neverDecline()
	h.api.orderStatus = http.StatusServiceUnavailable
	u := New(1, "", journey.Journey{Name: "t"}, h.cfg)
	ctx := u.tracker.Start(context.Background())

	out, err := u.checkout(ctx)
	require.NoError(t, err)
	assert.False(t, out.ok)
	assert.True(t, u.Cart().Empty())
	assert.Equal(t, int32(1), h.api.orders.Load())
}

func TestUser_CheckoutOrderFailureLeavesCartUnchanged(t *testing.T) {
	h := newHarness(t)
	h.cfg.Payment = neverDecline()
	h.api.orderStatus = http.StatusServiceUnavailable
	u := New(1, "", journey.Journey{Name: "t"}, h.cfg)
	ctx := u.tracker.Start(context.Background())
	u.tracker.StartNavigation("/checkout")

	u.addToCart()
	before := u.Cart().Snapshot()

	out, err := u.checkout(ctx)
	require.NoError(t, err)
	assert.False(t, out.ok)
	assert.Equal(t, http.StatusServiceUnavailable, out.status)
	assert.Equal(t, before, u.Cart().Snapshot())
	assert.Equal(t, 0, u.Summary().Orders)
}

func TestUser_CheckoutSuccessClearsCart(t *testing.T) {
	h := newHarness(t)
	h.cfg.Payment = neverDecline()
	u := New(1, "", journey.Journey{Name: "t"}, h.cfg)
	ctx := u.tracker.Start(context.Background())

	// empty cart gets an item first, and no navigation is recovered
	out, err := u.checkout(ctx)
	require.NoError(t, err)
	assert.True(t, out.ok)
	assert.True(t, u.Cart().Empty())
	assert.Equal(t, 1, u.Summary().Orders)
	assert.Equal(t, 1, u.Summary().Checkouts)
}

func TestUser_RemoveFromEmptyCart(t *testing.T) {
	h := newHarness(t)
	j := journey.Journey{Name: "t", Weight: 1, Steps: []journey.Step{
		{Action: journey.RemoveFromCart},
		{Action: journey.RemoveFromCart},
	}}
	u := New(1, "", j, h.cfg)
	require.NoError(t, u.Run(context.Background()))
	assert.True(t, u.Cart().Empty())
	for _, e := range h.evts.events {
		assert.True(t, e.Success)
	}
}

func TestUser_MakeReservation(t *testing.T) {
	h := newHarness(t)
	rm, _ := journey.Default().Find(journey.ReservationMaker)
	u := New(3, "", rm, h.cfg)
	require.NoError(t, u.Run(context.Background()))
	assert.Equal(t, int32(1), h.api.reservations.Load())
	assert.Equal(t, 1, u.Summary().Reservations)
}

func TestUser_AbortBeforeRun(t *testing.T) {
	h := newHarness(t)
	qb, _ := journey.Default().Find(journey.QuickBuyer)
	u := New(1, "sess-x", qb, h.cfg)

	u.Abort()
	err := u.Run(context.Background())
	assert.ErrorIs(t, err, ErrAborted)
	assert.Empty(t, h.exp.GetSpans())
	assert.Equal(t, "aborted", u.Summary().EndReason)
	assert.Equal(t, "sess-x", u.Summary().SessionID)
}

// blockingClock blocks think-time sleeps until their context is cancelled.
type blockingClock struct {
	*core.FakeClock
	sleeping chan struct{}
}

func (c *blockingClock) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case c.sleeping <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestUser_AbortDuringThinkTime(t *testing.T) {
	h := newHarness(t)
	clock := &blockingClock{FakeClock: core.NewFakeClock(time.Unix(0, 0)), sleeping: make(chan struct{}, 1)}
	h.cfg.Clock = clock
	j := journey.Journey{Name: "t", Weight: 1, Steps: []journey.Step{
		{Action: journey.Navigate, Target: "/"},
		{Action: journey.Navigate, Target: "/menu"},
	}}
	u := New(1, "", j, h.cfg)

	done := make(chan error, 1)
	go func() { done <- u.Run(context.Background()) }()

	select {
	case <-clock.sleeping:
	case <-time.After(5 * time.Second):
		t.Fatal("user never reached think time")
	}
	u.Abort()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrAborted)
	case <-time.After(5 * time.Second):
		t.Fatal("abort did not interrupt think time")
	}

	s := u.Summary()
	assert.Equal(t, "aborted", s.EndReason)
	assert.Equal(t, 1, s.StepsExecuted)
	assert.Equal(t, core.StateAborted, u.Activity().State)
	assert.Equal(t, 1, countSpans(h.exp.GetSpans(), "user_session"))
}

func TestUser_UnknownActionIsFatal(t *testing.T) {
	h := newHarness(t)
	j := journey.Journey{Name: "t", Weight: 1, Steps: []journey.Step{
		{Action: journey.Navigate, Target: "/"},
		{Action: "teleport"},
		{Action: journey.Navigate, Target: "/menu"},
	}}
	u := New(1, "", j, h.cfg)

	err := u.Run(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAborted)

	s := u.Summary()
	assert.Equal(t, "error", s.EndReason)
	assert.Equal(t, 1, s.StepsExecuted)
	assert.Equal(t, core.StateFailed, u.Activity().State)

	spans := h.exp.GetSpans()
	assert.Equal(t, 1, countSpans(spans, "user_session"))
	for _, sp := range spans {
		if sp.Name == "step.teleport" {
			assert.Equal(t, codes.Error, sp.Status.Code)
		}
	}
}

func TestUser_SameSeedSameCustomer(t *testing.T) {
	h := newHarness(t)
	a := New(5, "", journey.Journey{Name: "t"}, h.cfg)
	b := New(5, "", journey.Journey{Name: "t"}, h.cfg)
	c := New(6, "", journey.Journey{Name: "t"}, h.cfg)

	assert.Equal(t, a.customer, b.customer)
	assert.NotEqual(t, a.customer, c.customer)
	assert.NotEqual(t, a.SessionID(), b.SessionID())
}
