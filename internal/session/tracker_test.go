package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"tracewright/internal/core"
)

func newTestTracker(t *testing.T) (*Tracker, *tracetest.InMemoryExporter, *core.FakeClock) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	clock := core.NewFakeClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	return NewTracker(tp.Tracer("test"), clock, nil, "sess-1"), exp, clock
}

func spanByName(t *testing.T, spans tracetest.SpanStubs, name string) tracetest.SpanStub {
	t.Helper()
	for _, s := range spans {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("span %q not found", name)
	return tracetest.SpanStub{}
}

func attrValue(s tracetest.SpanStub, key string) (attribute.Value, bool) {
	for _, kv := range s.Attributes {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracker_Hierarchy(t *testing.T) {
	tr, exp, clock := newTestTracker(t)

	tr.Start(context.Background())
	require.Len(t, tr.TraceID(), 32)

	tr.StartNavigation("/menu")
	clock.Advance(2 * time.Second)
	_, span := tr.StartCheckout("order-1", 42.5, 3)
	tr.End(span, nil)
	tr.StartNavigation("/reservations")
	summary := tr.EndSession(ReasonCompleted)

	spans := exp.GetSpans()
	require.Len(t, spans, 4)

	root := spanByName(t, spans, "user_session")
	menu := spanByName(t, spans, "navigation /menu")
	checkout := spanByName(t, spans, "checkout")
	resv := spanByName(t, spans, "navigation /reservations")

	assert.False(t, root.Parent.IsValid())
	assert.Equal(t, root.SpanContext.SpanID(), menu.Parent.SpanID())
	assert.Equal(t, root.SpanContext.SpanID(), resv.Parent.SpanID())
	assert.Equal(t, menu.SpanContext.SpanID(), checkout.Parent.SpanID())
	for _, s := range spans {
		assert.Equal(t, tr.TraceID(), s.SpanContext.TraceID().String())
	}

	assert.Equal(t, 2, summary.PageViews)
	assert.Equal(t, ReasonCompleted, summary.Reason)
	assert.Equal(t, 2*time.Second, summary.Duration)
	v, ok := attrValue(root, "session.end_reason")
	require.True(t, ok)
	assert.Equal(t, "completed", v.AsString())
}

func TestTracker_NavigationFinalizesInteractions(t *testing.T) {
	tr, exp, clock := newTestTracker(t)
	tr.Start(context.Background())

	tr.StartNavigation("/menu")
	for i := 0; i < 4; i++ {
		clock.Advance(100 * time.Millisecond)
		tr.RecordInteraction("product_view", attribute.Int("n", i))
	}
	tr.StartNavigation("/cart")

	last := tr.LastNavigation()
	assert.Equal(t, "/menu", last.Path)
	assert.Equal(t, 4, last.Interactions)
	assert.Equal(t, 400*time.Millisecond, last.Duration)

	menu := spanByName(t, exp.GetSpans(), "navigation /menu")
	assert.Len(t, menu.Events, 4)
	v, ok := attrValue(menu, "navigation.interactions")
	require.True(t, ok)
	assert.Equal(t, int64(4), v.AsInt64())
	d, ok := attrValue(menu, "navigation.duration_ms")
	require.True(t, ok)
	assert.GreaterOrEqual(t, d.AsInt64(), int64(0))
}

func TestTracker_RecordInteractionWithoutNavigation(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	tr.Start(context.Background())

	tr.RecordInteraction("click")
	summary := tr.EndSession(ReasonCompleted)
	assert.Equal(t, 0, summary.Interactions)
}

func TestTracker_CheckoutWithoutNavigation(t *testing.T) {
	tr, exp, _ := newTestTracker(t)
	tr.Start(context.Background())

	_, span := tr.StartCheckout("order-2", 10, 1)
	tr.End(span, errors.New("declined"))
	tr.EndSession(ReasonCompleted)

	spans := exp.GetSpans()
	nav := spanByName(t, spans, "navigation /checkout")
	checkout := spanByName(t, spans, "checkout")
	assert.Equal(t, nav.SpanContext.SpanID(), checkout.Parent.SpanID())
	assert.Equal(t, codes.Error, checkout.Status.Code)
}

func TestTracker_EndSessionOnce(t *testing.T) {
	tr, exp, _ := newTestTracker(t)
	tr.Start(context.Background())
	tr.StartNavigation("/")

	first := tr.EndSession(ReasonAborted)
	second := tr.EndSession(ReasonCompleted)

	assert.Equal(t, first.TraceID, second.TraceID)
	assert.Len(t, exp.GetSpans(), 2)
}

func TestTracker_ErrorReasonMarksRoot(t *testing.T) {
	tr, exp, _ := newTestTracker(t)
	tr.Start(context.Background())
	tr.EndSession(ReasonError)

	root := spanByName(t, exp.GetSpans(), "user_session")
	assert.Equal(t, codes.Error, root.Status.Code)
}

func TestTracker_NoopProviderStillHasTraceID(t *testing.T) {
	tr := NewTracker(noop.NewTracerProvider().Tracer("x"), nil, nil, "")
	assert.NotEmpty(t, tr.SessionID())
	assert.Empty(t, tr.TraceID())

	tr.Start(context.Background())
	id := tr.TraceID()
	assert.Len(t, id, 32)

	tr.StartNavigation("/")
	tr.EndSession(ReasonCompleted)
	assert.Equal(t, id, tr.TraceID())
}

func TestTracker_EndSessionBeforeStart(t *testing.T) {
	tr, exp, _ := newTestTracker(t)
	summary := tr.EndSession(ReasonAborted)
	assert.Equal(t, "sess-1", summary.SessionID)
	assert.Empty(t, exp.GetSpans())
}
