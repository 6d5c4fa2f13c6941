// Package vuser implements the virtual user: one goroutine-owned state
// machine that walks a journey step by step, tracing every step and calling
// the collaborator API along the way.
package vuser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"tracewright/internal/core"
	"tracewright/internal/data"
	"tracewright/internal/fakedata"
	tracehttp "tracewright/internal/http"
	"tracewright/internal/journey"
	"tracewright/internal/session"
	"tracewright/internal/template"
)

// ErrAborted is returned by Run when the user was stopped before finishing.
var ErrAborted = errors.New("virtual user aborted")

// Config is shared by every user a factory creates.
type Config struct {
	Client   *tracehttp.Client
	Tracer   trace.Tracer
	Clock    core.Clock
	Logger   *zap.Logger
	Reporter core.Reporter
	Payment  PaymentConfig
	Retry    tracehttp.RetryPolicy
	// ThinkScale multiplies every think time; 0 means 1.
	ThinkScale float64
	// Seed makes a user's randomness a function of Seed and its id.
	Seed uint64
}

// Factory returns a constructor suitable for the coordinator.
func (cfg Config) Factory() func(id int, sessionID string, j journey.Journey) core.Actor {
	return func(id int, sessionID string, j journey.Journey) core.Actor {
		return New(id, sessionID, j, cfg)
	}
}

// User is one synthetic shopper. Everything but Abort, Activity and
// Summary must be called from the goroutine running Run.
type User struct {
	id      int
	journey journey.Journey
	cfg     Config
	clock   core.Clock
	log     *zap.Logger

	gen      *fakedata.Generator
	customer fakedata.CustomerProfile
	browser  fakedata.BrowserFingerprint
	connType string
	tracker  *session.Tracker
	cart     *Cart
	vars     core.MapVariables
	products []template.Item

	aborted     atomic.Bool
	mu          sync.Mutex
	cancelThink context.CancelFunc
	activity    core.Activity
	summary     core.SessionSummary
}

func New(id int, sessionID string, j journey.Journey, cfg Config) *User {
	if cfg.Clock == nil {
		cfg.Clock = core.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Reporter == nil {
		cfg.Reporter = core.NullReporter
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("tracewright/vuser")
	}
	if cfg.Client == nil {
		cfg.Client = &tracehttp.Client{Clock: cfg.Clock, Logger: cfg.Logger, Tracer: cfg.Tracer}
	}
	if cfg.Payment == (PaymentConfig{}) {
		cfg.Payment = DefaultPaymentConfig()
	}
	if cfg.ThinkScale <= 0 {
		cfg.ThinkScale = 1
	}

	gen := fakedata.New(cfg.Seed + uint64(id))
	browser := gen.Browser()
	tracker := session.NewTracker(cfg.Tracer, cfg.Clock, cfg.Logger, sessionID)
	u := &User{
		id:       id,
		journey:  j,
		cfg:      cfg,
		clock:    cfg.Clock,
		gen:      gen,
		customer: gen.Customer(),
		browser:  browser,
		connType: gen.Network("").ConnectionType,
		tracker:  tracker,
		cart:     NewCart(),
		vars:     core.NewVariables(),
	}
	u.log = cfg.Logger.With(
		zap.Int("user_id", id),
		zap.String("session_id", tracker.SessionID()),
		zap.String("journey", j.Name),
	)
	u.activity = core.Activity{
		UserID:     id,
		SessionID:  tracker.SessionID(),
		Journey:    j.Name,
		State:      core.StateIdle,
		TotalSteps: len(j.Steps),
		Label:      "waiting to start",
	}
	u.summary = core.SessionSummary{UserID: id, SessionID: tracker.SessionID(), Journey: j.Name}
	return u
}

func (u *User) ID() int           { return u.id }
func (u *User) SessionID() string { return u.tracker.SessionID() }

// Cart exposes the user's cart for inspection after Run returns.
func (u *User) Cart() *Cart { return u.cart }

func (u *User) Activity() core.Activity {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.activity
}

func (u *User) Summary() core.SessionSummary {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.summary
}

// Abort asks the user to stop. A step in flight runs to completion; a think
// time sleep is cut short.
func (u *User) Abort() {
	u.aborted.Store(true)
	u.mu.Lock()
	cancel := u.cancelThink
	u.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run executes the journey. It returns ErrAborted if stopped early and a
// wrapped step error if a step failed fatally. The session span is always
// closed before Run returns or panics.
func (u *User) Run(ctx context.Context) (err error) {
	if u.aborted.Load() {
		u.finish(session.Summary{SessionID: u.SessionID(), Reason: session.ReasonAborted}, core.StateAborted, nil)
		return ErrAborted
	}

	thinkCtx, cancelThink := context.WithCancel(ctx)
	defer cancelThink()
	u.mu.Lock()
	u.cancelThink = cancelThink
	u.mu.Unlock()
	if u.aborted.Load() {
		cancelThink()
	}

	u.tracker.Start(ctx,
		session.AttrUserID.Int(u.id),
		session.AttrJourney.String(u.journey.Name),
		attribute.String("browser.platform", u.browser.Platform),
		attribute.String("browser.language", u.browser.Language),
		attribute.String("network.connection_type", u.connType),
	)
	u.log = u.log.With(zap.String("trace_id", u.tracker.TraceID()))
	u.log.Info("session started",
		zap.String("customer", u.customer.FullName()),
		zap.String("platform", u.browser.Platform),
		zap.Int("steps", len(u.journey.Steps)),
	)

	reason := session.ReasonCompleted
	defer func() {
		if r := recover(); r != nil {
			u.finish(u.tracker.EndSession(session.ReasonError), core.StateFailed, fmt.Errorf("panic: %v", r))
			panic(r)
		}
		state := core.StateCompleted
		switch reason {
		case session.ReasonAborted:
			state = core.StateAborted
		case session.ReasonError:
			state = core.StateFailed
		}
		u.finish(u.tracker.EndSession(reason), state, err)
	}()

	steps := u.journey.Steps
	for i, step := range steps {
		if u.aborted.Load() || ctx.Err() != nil {
			reason = session.ReasonAborted
			return ErrAborted
		}
		if !journey.ShouldExecute(u.gen.Rand(), step) {
			u.record(func(s *core.SessionSummary) { s.StepsSkipped++ })
			continue
		}

		if err := u.runStep(ctx, i, step); err != nil {
			if ctx.Err() != nil {
				reason = session.ReasonAborted
				return ErrAborted
			}
			reason = session.ReasonError
			return fmt.Errorf("step %d (%s): %w", i, step.Action, err)
		}
		u.record(func(s *core.SessionSummary) { s.StepsExecuted++ })

		if i == len(steps)-1 {
			break
		}
		think := time.Duration(float64(journey.ThinkTime(u.gen.Rand(), step)) * u.cfg.ThinkScale)
		u.setActivity(core.StateThinking, i, fmt.Sprintf("thinking after %s", step.Action))
		if err := u.clock.Sleep(thinkCtx, think); err != nil {
			reason = session.ReasonAborted
			return ErrAborted
		}
	}
	return nil
}

// runStep traces one step and reports it. Panics still close the span.
func (u *User) runStep(ctx context.Context, index int, step journey.Step) (err error) {
	u.setActivity(core.StateRunning, index, stepLabel(step))

	stepCtx, span := u.tracker.StartOperation("step."+string(step.Action),
		attribute.Int("step.index", index),
		attribute.String("step.action", string(step.Action)),
		attribute.String("step.target", step.Target),
	)
	start := u.clock.Now()
	var out outcome
	defer func() {
		if r := recover(); r != nil {
			u.tracker.End(span, fmt.Errorf("panic: %v", r))
			panic(r)
		}
		if err == nil && !out.ok {
			span.SetAttributes(attribute.Bool("step.soft_failure", true))
		}
		u.tracker.End(span, err)

		ev := core.Event{
			UserID:     u.id,
			SessionID:  u.SessionID(),
			TraceID:    u.tracker.TraceID(),
			Journey:    u.journey.Name,
			StepIndex:  index,
			Action:     string(step.Action),
			Target:     step.Target,
			Timestamp:  start,
			Duration:   u.clock.Since(start),
			Success:    err == nil && out.ok,
			StatusCode: out.status,
		}
		switch {
		case err != nil:
			ev.Error = err.Error()
		case !out.ok:
			ev.Error = out.detail
		}
		u.cfg.Reporter.Report(ev)
	}()

	out, err = u.dispatch(stepCtx, step)
	return err
}

func (u *User) finish(s session.Summary, state core.State, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.summary.TraceID = s.TraceID
	u.summary.EndReason = string(s.Reason)
	u.summary.PageViews = s.PageViews
	u.summary.Duration = s.Duration
	if err != nil && !errors.Is(err, ErrAborted) {
		u.summary.Error = err.Error()
	}
	u.activity.State = state
	u.activity.TraceID = s.TraceID
	u.activity.Label = string(state)
	u.cancelThink = nil

	fields := []zap.Field{
		zap.String("reason", string(s.Reason)),
		zap.Int("steps_executed", u.summary.StepsExecuted),
		zap.Int("page_views", s.PageViews),
		zap.Duration("duration", s.Duration),
		zap.Int("orders", u.summary.Orders),
	}
	switch state {
	case core.StateFailed:
		u.log.Error("session ended", append(fields, zap.Error(err))...)
	default:
		u.log.Info("session ended", fields...)
	}
}

func (u *User) record(fn func(s *core.SessionSummary)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	fn(&u.summary)
}

func (u *User) setActivity(state core.State, index int, label string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.activity.State = state
	u.activity.StepIndex = index + 1
	u.activity.TraceID = u.tracker.TraceID()
	u.activity.Label = label
}

func stepLabel(step journey.Step) string {
	switch step.Action {
	case journey.Navigate:
		return "viewing " + step.Target
	case journey.Browse:
		return "browsing products"
	case journey.ViewDetails:
		return "reading product details"
	case journey.AddToCart:
		return "adding to cart"
	case journey.RemoveFromCart:
		return "removing from cart"
	case journey.Checkout:
		return "checking out"
	case journey.MakeReservation:
		return "booking a table"
	}
	return string(step.Action)
}

func (u *User) correlation() tracehttp.Correlation {
	return tracehttp.Correlation{UserID: u.id, TraceID: u.tracker.TraceID(), SessionID: u.SessionID()}
}

// fetch issues a collaborator call with simulated network timing and the
// configured retry policy.
func (u *User) fetch(ctx context.Context, req tracehttp.Request) tracehttp.Result {
	timing := u.gen.Network(u.connType)
	req.Timing = &timing
	return u.cfg.Client.FetchWithRetries(ctx, u.gen.Rand(), u.correlation(), req, u.cfg.Retry)
}

// fallbackProducts is used until the user has loaded the menu.
var fallbackProducts = func() []template.Item {
	rows := data.DemoMenu().All()
	items := make([]template.Item, 0, len(rows))
	for _, r := range rows {
		price, _ := r["price"].(float64)
		name, _ := r["name"].(string)
		items = append(items, template.Item{ID: fmt.Sprint(r[data.IDField]), Name: name, Price: price})
	}
	return items
}()

func (u *User) pickProduct() template.Item {
	pool := u.products
	if len(pool) == 0 {
		pool = fallbackProducts
	}
	return pool[u.gen.Rand().IntN(len(pool))]
}
