package vuser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"tracewright/internal/core"
	"tracewright/internal/fakedata"
	tracehttp "tracewright/internal/http"
	"tracewright/internal/journey"
	"tracewright/internal/template"
)

// outcome is the non-fatal result of a step. ok false is a soft failure:
// the journey continues.
type outcome struct {
	ok     bool
	status int
	detail string
}

var success = outcome{ok: true}

func softFailure(res tracehttp.Result) outcome {
	return outcome{ok: !res.Failed, status: res.StatusCode, detail: res.Error}
}

// pageReads maps a page route to the collaborator reads it performs.
var pageReads = map[string]string{
	"/":             "/health",
	"/menu":         "/products",
	"/reservations": "/reservations",
}

var errPaymentDeclined = errors.New("payment declined")

func (u *User) dispatch(ctx context.Context, step journey.Step) (outcome, error) {
	switch step.Action {
	case journey.Navigate:
		return u.navigate(step)
	case journey.Browse:
		return u.browse(ctx)
	case journey.ViewDetails:
		return u.viewDetails(ctx, step)
	case journey.AddToCart:
		return u.addToCart(), nil
	case journey.RemoveFromCart:
		return u.removeFromCart(), nil
	case journey.Checkout:
		return u.checkout(ctx)
	case journey.MakeReservation:
		return u.makeReservation(ctx)
	}
	return outcome{}, fmt.Errorf("unknown action %q", step.Action)
}

func (u *User) navigate(step journey.Step) (outcome, error) {
	page := step.Target
	if page == "" {
		page = "/"
	}
	navCtx := u.tracker.StartNavigation(page)

	read, ok := pageReads[page]
	if !ok {
		read = "/health"
	}
	res := u.fetch(navCtx, tracehttp.Request{Method: http.MethodGet, Path: read})
	u.tracker.RecordInteraction("page_load",
		attribute.String("page.path", page),
		attribute.Int("http.status_code", res.StatusCode),
	)

	if read == "/products" && !res.Failed {
		items, err := template.ExtractItems(res.Body, "$.products")
		if err != nil {
			u.log.Warn("product list unreadable", zap.Error(err))
		} else if len(items) > 0 {
			u.products = items
		}
	}

	u.log.Info("page viewed",
		zap.String("page", page),
		zap.Int("status", res.StatusCode),
		zap.Bool("failed", res.Failed),
		zap.Int("page_views", u.tracker.PageViews()),
	)
	return softFailure(res), nil
}

func (u *User) browse(ctx context.Context) (outcome, error) {
	rng := u.gen.Rand()
	n := 2 + rng.IntN(4)
	for i := 0; i < n; i++ {
		p := u.pickProduct()
		dwell := fakedata.Between(rng, 300*time.Millisecond, 1200*time.Millisecond)
		if err := u.clock.Sleep(ctx, dwell); err != nil {
			return outcome{}, err
		}
		u.tracker.RecordInteraction("product_view",
			attribute.String("product.id", p.ID),
			attribute.String("product.name", p.Name),
			attribute.Int64("dwell_ms", dwell.Milliseconds()),
		)
		if rng.Float64() < 0.4 {
			u.tracker.RecordInteraction("scroll", attribute.Int("scroll.depth_pct", 20+rng.IntN(81)))
		}
	}
	u.log.Debug("browsed products", zap.Int("viewed", n))
	return success, nil
}

func (u *User) viewDetails(ctx context.Context, step journey.Step) (outcome, error) {
	p := u.pickProduct()
	u.vars.Set("product_id", p.ID)

	target := step.Target
	if target == "" {
		target = "/products/${product_id}"
	}
	path, err := template.Resolver{Vars: u.vars, Rand: u.gen.Rand(), Clock: u.clock}.Substitute(target)
	if err != nil {
		return outcome{}, fmt.Errorf("resolving target: %w", err)
	}

	res := u.fetch(ctx, tracehttp.Request{Method: http.MethodGet, Path: path})
	dwell := fakedata.Jitter(u.gen.Rand(), 2*time.Second, 0.5)
	if err := u.clock.Sleep(ctx, dwell); err != nil {
		return outcome{}, err
	}
	u.tracker.RecordInteraction("view_details",
		attribute.String("product.id", p.ID),
		attribute.Int64("dwell_ms", dwell.Milliseconds()),
	)
	return softFailure(res), nil
}

func (u *User) addToCart() outcome {
	p := u.pickProduct()
	qty := 1 + u.gen.Rand().IntN(2)
	before, after := u.cart.Add(p, qty)

	u.tracker.RecordInteraction("add_to_cart",
		attribute.String("product.id", p.ID),
		attribute.Int("quantity.before", before),
		attribute.Int("quantity.after", after),
	)
	u.log.Info("cart updated",
		zap.String("change", "add"),
		zap.String("product_id", p.ID),
		zap.Int("quantity_before", before),
		zap.Int("quantity_after", after),
		zap.Float64("cart_total", u.cart.Total()),
	)
	return success
}

func (u *User) removeFromCart() outcome {
	if u.cart.Empty() {
		u.log.Debug("remove from empty cart ignored")
		return success
	}
	ids := u.cart.IDs()
	id := ids[u.gen.Rand().IntN(len(ids))]
	before, after, _ := u.cart.Remove(id)

	u.tracker.RecordInteraction("remove_from_cart",
		attribute.String("product.id", id),
		attribute.Int("quantity.before", before),
		attribute.Int("quantity.after", after),
	)
	u.log.Info("cart updated",
		zap.String("change", "remove"),
		zap.String("product_id", id),
		zap.Int("quantity_before", before),
		zap.Int("quantity_after", after),
		zap.Float64("cart_total", u.cart.Total()),
	)
	return success
}

type orderRequest struct {
	OrderID      string      `json:"orderId"`
	Items        []OrderLine `json:"items"`
	Total        float64     `json:"total"`
	OrderType    string      `json:"orderType"`
	Instructions string      `json:"instructions,omitempty"`
	Name         string      `json:"customerName"`
	Email        string      `json:"email"`
	Phone        string      `json:"phone"`
}

// checkout pays for the cart and places the order. The cart is cleared only
// once the order call succeeds. An item seeded into an empty cart is taken
// back out when the checkout fails.
func (u *User) checkout(ctx context.Context) (outcome, error) {
	seeded := u.cart.Empty()
	if seeded {
		u.addToCart()
	}
	rollback := func() {
		if seeded {
			u.cart.Clear()
		}
	}
	orderID := uuid.NewString()
	total := u.cart.Total()
	items := u.cart.Count()
	u.record(func(s *core.SessionSummary) { s.Checkouts++ })

	coCtx, span := u.tracker.StartCheckout(orderID, total, items)
	log := u.log.With(zap.String("order_id", orderID))

	if err := u.pay(ctx, span, log, total); err != nil {
		u.tracker.End(span, err)
		rollback()
		if !errors.Is(err, errPaymentDeclined) {
			return outcome{}, err
		}
		log.Warn("checkout failed", zap.Error(err), zap.Int("items", items))
		return outcome{detail: err.Error()}, nil
	}

	attrs := u.gen.Order()
	res := u.fetch(coCtx, tracehttp.Request{
		Method: http.MethodPost,
		Path:   "/orders",
		Body: orderRequest{
			OrderID:      orderID,
			Items:        u.cart.Lines(),
			Total:        total,
			OrderType:    attrs.OrderType,
			Instructions: attrs.Instructions,
			Name:         u.customer.FullName(),
			Email:        u.customer.Email,
			Phone:        u.customer.Phone,
		},
	})
	if res.Failed {
		err := fmt.Errorf("create order: %s", res.Error)
		log.Error("order not created", zap.Int("status", res.StatusCode), zap.String("error", res.Error))
		u.tracker.End(span, err)
		rollback()
		return softFailure(res), nil
	}

	span.AddEvent("order.created", trace.WithTimestamp(u.clock.Now()))
	u.tracker.End(span, nil)
	u.cart.Clear()
	u.record(func(s *core.SessionSummary) { s.Orders++ })
	log.Info("order created",
		zap.Float64("total", total),
		zap.Int("items", items),
		zap.String("order_type", attrs.OrderType),
		zap.Int("status", res.StatusCode),
	)
	return softFailure(res), nil
}

// pay runs initiated -> processing -> success|declined with one
// conditional retry after a decline.
func (u *User) pay(ctx context.Context, span trace.Span, log *zap.Logger, total float64) error {
	cfg := u.cfg.Payment
	rng := u.gen.Rand()
	card := u.customer.Payment

	span.AddEvent("payment.initiated", trace.WithTimestamp(u.clock.Now()), trace.WithAttributes(
		attribute.String("card.brand", card.Brand),
		attribute.String("card.last4", card.Last4()),
		attribute.Float64("amount", total),
	))
	log.Info("payment initiated", zap.String("card_brand", card.Brand), zap.String("card_last4", card.Last4()), zap.Float64("amount", total))

	if err := u.process(ctx, span, 1); err != nil {
		return err
	}
	if rng.Float64() >= cfg.DeclineProbability {
		span.AddEvent("payment.success", trace.WithTimestamp(u.clock.Now()))
		return nil
	}

	reason := fakedata.Pick(rng, declineReasons)
	span.AddEvent("payment.declined", trace.WithTimestamp(u.clock.Now()), trace.WithAttributes(attribute.String("reason", reason)))
	log.Warn("payment declined", zap.String("reason", reason))

	chance := cfg.RetrySuccessMin + rng.Float64()*(cfg.RetrySuccessMax-cfg.RetrySuccessMin)
	if err := u.process(ctx, span, 2); err != nil {
		return err
	}
	if rng.Float64() < chance {
		span.AddEvent("payment.success", trace.WithTimestamp(u.clock.Now()), trace.WithAttributes(attribute.Int("attempt", 2)))
		log.Info("payment retry succeeded")
		return nil
	}
	span.AddEvent("payment.failed", trace.WithTimestamp(u.clock.Now()), trace.WithAttributes(attribute.String("reason", reason)))
	return fmt.Errorf("%w: %s", errPaymentDeclined, reason)
}

func (u *User) process(ctx context.Context, span trace.Span, attempt int) error {
	span.AddEvent("payment.processing", trace.WithTimestamp(u.clock.Now()), trace.WithAttributes(attribute.Int("attempt", attempt)))
	d := fakedata.Between(u.gen.Rand(), u.cfg.Payment.ProcessingMin, u.cfg.Payment.ProcessingMax)
	return u.clock.Sleep(ctx, d)
}

type reservationRequest struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Date           string `json:"date"`
	Time           string `json:"time"`
	PartySize      int    `json:"partySize"`
	SpecialRequest string `json:"specialRequest,omitempty"`
}

// makeReservation fills the booking form field by field, then submits it.
func (u *User) makeReservation(ctx context.Context) (outcome, error) {
	party := u.gen.Party(u.clock.Now())
	req := reservationRequest{
		Name:           u.customer.FullName(),
		Email:          u.customer.Email,
		Phone:          u.customer.Phone,
		Date:           party.Date,
		Time:           party.Time,
		PartySize:      party.PartySize,
		SpecialRequest: party.SpecialRequest,
	}

	fields := []struct {
		name  string
		value string
	}{
		{"name", req.Name},
		{"email", req.Email},
		{"phone", req.Phone},
		{"date", req.Date},
		{"time", req.Time},
		{"party_size", fmt.Sprint(req.PartySize)},
		{"special_request", req.SpecialRequest},
	}
	rng := u.gen.Rand()
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		u.tracker.RecordInteraction("field_focus", attribute.String("form.field", f.name))
		// ~120ms per keystroke, plus a pause to move between fields.
		typing := time.Duration(len(f.value))*120*time.Millisecond + fakedata.Between(rng, 200*time.Millisecond, 800*time.Millisecond)
		if err := u.clock.Sleep(ctx, typing); err != nil {
			return outcome{}, err
		}
		u.tracker.RecordInteraction("field_blur",
			attribute.String("form.field", f.name),
			attribute.Int64("typing_ms", typing.Milliseconds()),
		)
	}

	res := u.fetch(ctx, tracehttp.Request{Method: http.MethodPost, Path: "/reservations", Body: req})
	if res.Failed {
		u.log.Warn("reservation not created", zap.Int("status", res.StatusCode), zap.String("error", res.Error))
		return softFailure(res), nil
	}

	id := ""
	if got, err := template.Extract(res.Body, map[string]string{"id": "$.id"}); err == nil {
		id = fmt.Sprint(got["id"])
	}
	u.record(func(s *core.SessionSummary) { s.Reservations++ })
	u.log.Info("reservation created",
		zap.String("reservation_id", id),
		zap.String("date", req.Date),
		zap.String("time", req.Time),
		zap.Int("party_size", req.PartySize),
	)
	return softFailure(res), nil
}
