// Package session owns the trace of one synthetic user session: a root
// session span, at most one active navigation span beneath it, and operation
// spans nested under whichever navigation is active.
package session

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"tracewright/internal/core"
)

// EndReason records why a session finished.
type EndReason string

const (
	ReasonCompleted EndReason = "completed"
	ReasonAborted   EndReason = "aborted"
	ReasonError     EndReason = "error"
)

// Attribute keys shared with the virtual user and HTTP client.
const (
	AttrSessionID = attribute.Key("session.id")
	AttrUserID    = attribute.Key("user.id")
	AttrJourney   = attribute.Key("journey.name")
)

// NavigationSummary is the finalized state of an ended navigation span.
type NavigationSummary struct {
	Path         string
	Duration     time.Duration
	Interactions int
}

// Summary is stamped on the root span when the session ends.
type Summary struct {
	SessionID    string
	TraceID      string
	Duration     time.Duration
	PageViews    int
	Interactions int
	Reason       EndReason
}

type navigation struct {
	path         string
	ctx          context.Context
	span         trace.Span
	start        time.Time
	interactions int
}

// Tracker is owned by a single virtual user and is not safe for concurrent use.
type Tracker struct {
	tracer    trace.Tracer
	clock     core.Clock
	logger    *zap.Logger
	sessionID string
	traceID   string

	rootCtx      context.Context
	root         trace.Span
	start        time.Time
	nav          *navigation
	last         NavigationSummary
	pageViews    int
	interactions int
	ended        bool
}

func NewTracker(tracer trace.Tracer, clock core.Clock, logger *zap.Logger, sessionID string) *Tracker {
	if clock == nil {
		clock = core.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &Tracker{
		tracer:    tracer,
		clock:     clock,
		logger:    logger,
		sessionID: sessionID,
	}
}

// Start opens the root session span. It returns the session context.
func (t *Tracker) Start(ctx context.Context, attrs ...attribute.KeyValue) context.Context {
	t.start = t.clock.Now()
	attrs = append([]attribute.KeyValue{AttrSessionID.String(t.sessionID)}, attrs...)
	t.rootCtx, t.root = t.tracer.Start(ctx, "user_session",
		trace.WithNewRoot(),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithTimestamp(t.start),
		trace.WithAttributes(attrs...),
	)

	if sc := t.root.SpanContext(); sc.TraceID().IsValid() {
		t.traceID = sc.TraceID().String()
	} else {
		// Non-recording providers still need a stable correlation key.
		t.traceID = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return t.rootCtx
}

// Started reports whether Start has been called.
func (t *Tracker) Started() bool {
	return t.root != nil
}

func (t *Tracker) SessionID() string { return t.sessionID }

// TraceID is empty until Start is called and stable afterwards.
func (t *Tracker) TraceID() string { return t.traceID }

// PageViews returns the number of navigations started so far.
func (t *Tracker) PageViews() int { return t.pageViews }

// LastNavigation returns the summary of the most recently ended navigation.
func (t *Tracker) LastNavigation() NavigationSummary { return t.last }

// Context returns the active navigation context, falling back to the session
// context, or context.Background before Start.
func (t *Tracker) Context() context.Context {
	if t.nav != nil {
		return t.nav.ctx
	}
	if t.rootCtx != nil {
		return t.rootCtx
	}
	return context.Background()
}

// StartNavigation ends the active navigation, if any, and starts a new one
// as a child of the session span.
func (t *Tracker) StartNavigation(path string) context.Context {
	t.endNavigation()

	now := t.clock.Now()
	ctx, span := t.tracer.Start(t.rootContext(), "navigation "+path,
		trace.WithTimestamp(now),
		trace.WithAttributes(
			AttrSessionID.String(t.sessionID),
			attribute.String("page.path", path),
		),
	)
	t.pageViews++
	span.SetAttributes(attribute.Int("page.view_number", t.pageViews))
	t.nav = &navigation{path: path, ctx: ctx, span: span, start: now}
	return ctx
}

// StartCheckout starts a checkout operation under the active navigation.
// The caller must end the returned span, usually through End.
func (t *Tracker) StartCheckout(orderID string, amount float64, itemCount int) (context.Context, trace.Span) {
	if t.nav == nil {
		t.logger.Warn("checkout started without active navigation",
			zap.String("session_id", t.sessionID),
			zap.String("trace_id", t.traceID),
		)
		t.StartNavigation("/checkout")
	}
	return t.StartOperation("checkout",
		attribute.String("order.id", orderID),
		attribute.Float64("order.amount", amount),
		attribute.Int("order.item_count", itemCount),
	)
}

// StartOperation starts a span under the active navigation or, when none is
// active, under the session span.
func (t *Tracker) StartOperation(name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append([]attribute.KeyValue{AttrSessionID.String(t.sessionID)}, attrs...)
	return t.tracer.Start(t.Context(), name,
		trace.WithTimestamp(t.clock.Now()),
		trace.WithAttributes(attrs...),
	)
}

// End closes a span started by this tracker, marking it failed when err is
// non-nil and OK otherwise.
func (t *Tracker) End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(t.clock.Now()))
}

// RecordInteraction counts an interaction against the active navigation and
// annotates its span. No-op when no navigation is active.
func (t *Tracker) RecordInteraction(kind string, attrs ...attribute.KeyValue) {
	if t.nav == nil {
		return
	}
	t.nav.interactions++
	t.interactions++
	t.nav.span.AddEvent("interaction."+kind,
		trace.WithTimestamp(t.clock.Now()),
		trace.WithAttributes(attrs...),
	)
}

// EndSession finalizes any open navigation and closes the session span.
// Calls after the first return the same summary without touching spans.
func (t *Tracker) EndSession(reason EndReason) Summary {
	summary := Summary{
		SessionID:    t.sessionID,
		TraceID:      t.traceID,
		PageViews:    t.pageViews,
		Interactions: t.interactions,
		Reason:       reason,
	}
	if t.root == nil {
		return summary
	}
	summary.Duration = t.clock.Since(t.start)
	if t.ended {
		return summary
	}
	t.ended = true

	t.endNavigation()
	summary.PageViews = t.pageViews
	summary.Interactions = t.interactions

	t.root.SetAttributes(
		attribute.Int64("session.duration_ms", summary.Duration.Milliseconds()),
		attribute.Int("session.page_views", t.pageViews),
		attribute.Int("session.interactions", t.interactions),
		attribute.String("session.end_reason", string(reason)),
	)
	if reason == ReasonError {
		t.root.SetStatus(codes.Error, "session ended with error")
	}
	t.root.End(trace.WithTimestamp(t.clock.Now()))
	return summary
}

func (t *Tracker) rootContext() context.Context {
	if t.rootCtx != nil {
		return t.rootCtx
	}
	return context.Background()
}

func (t *Tracker) endNavigation() {
	if t.nav == nil {
		return
	}
	nav := t.nav
	t.nav = nil

	d := t.clock.Since(nav.start)
	if d < 0 {
		d = 0
	}
	nav.span.SetAttributes(
		attribute.Int64("navigation.duration_ms", d.Milliseconds()),
		attribute.Int("navigation.interactions", nav.interactions),
	)
	nav.span.End(trace.WithTimestamp(t.clock.Now()))
	t.last = NavigationSummary{Path: nav.path, Duration: d, Interactions: nav.interactions}
}
