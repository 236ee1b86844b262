package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/wichananm65/art-market-backend/internal/config"
)

// stripeSessions is the part of the Checkout Sessions API the adapter uses.
type stripeSessions interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// Stripe rejects a Checkout Session that closes sooner than 30 minutes after
// creation. The extra minute absorbs the request's transit time.
const stripeMinSessionTTL = 31 * time.Minute

type StripeGateway struct {
	sessions      stripeSessions
	webhookSecret string
	successURL    string
	cancelURL     string
	cb            *gobreaker.CircuitBreaker[any]
	now           func() time.Time
}

func NewStripeGateway(cfg config.StripeConfig) *StripeGateway {
	return newStripeGateway(&session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: cfg.SecretKey}, cfg)
}

func newStripeGateway(sessions stripeSessions, cfg config.StripeConfig) *StripeGateway {
	return &StripeGateway{
		sessions:      sessions,
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		cb:            newBreaker("stripe"),
		now:           time.Now,
	}
}

func (g *StripeGateway) Provider() Provider { return Stripe }

func (g *StripeGateway) Initiate(ctx context.Context, c Checkout) (Session, error) {
	currency := strings.ToLower(c.Currency)
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(g.successURL),
		CancelURL:          stripe.String(g.cancelURL),
		ClientReferenceID:  stripe.String(strconv.FormatInt(c.OrderID, 10)),
	}
	if c.Customer.Email != "" {
		params.CustomerEmail = stripe.String(c.Customer.Email)
	}
	for _, it := range c.Items {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(it.Title),
				},
				UnitAmount: stripe.Int64(toMinorUnits(it.UnitPrice)),
			},
			Quantity: stripe.Int64(int64(it.Quantity)),
		})
	}
	var expiresAt time.Time
	if !c.ExpiresAt.IsZero() {
		expiresAt = c.ExpiresAt
		if earliest := g.now().Add(stripeMinSessionTTL); expiresAt.Before(earliest) {
			expiresAt = earliest
		}
		params.ExpiresAt = stripe.Int64(expiresAt.Unix())
	}
	params.AddMetadata("orderId", strconv.FormatInt(c.OrderID, 10))
	params.Context = ctx

	s, err := execute(g.cb, func() (*stripe.CheckoutSession, error) {
		return g.sessions.New(params)
	})
	if err != nil {
		return Session{}, fmt.Errorf("stripe create session: %w", err)
	}
	if s.ExpiresAt > 0 {
		expiresAt = time.Unix(s.ExpiresAt, 0)
	}
	return Session{TrackingID: s.ID, RedirectURL: s.URL, Processing: true, ExpiresAt: expiresAt}, nil
}

func (g *StripeGateway) Verify(ctx context.Context, trackingID string) (Result, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := execute(g.cb, func() (*stripe.CheckoutSession, error) {
		return g.sessions.Get(trackingID, params)
	})
	if err != nil {
		return Result{}, fmt.Errorf("stripe get session: %w", err)
	}
	return stripeResult(s, sessionStatus(s)), nil
}

func (g *StripeGateway) SignatureHeader() string { return "Stripe-Signature" }

// ConstructEvent verifies the Stripe-Signature header over the raw body
// before anything in it is trusted.
func (g *StripeGateway) ConstructEvent(payload []byte, signature string) (Event, error) {
	if g.webhookSecret == "" {
		return Event{}, fmt.Errorf("%w: no webhook secret configured", ErrSignatureVerification)
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrSignatureVerification, err)
	}

	out := Event{Type: string(ev.Type)}
	var status Status
	switch out.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		status = StatusSuccess
	case "checkout.session.async_payment_failed", "checkout.session.expired":
		status = StatusFailed
	default:
		out.Ignored = true
		return out, nil
	}
	if ev.Data == nil {
		return Event{}, fmt.Errorf("stripe event %s has no data", ev.ID)
	}

	var s stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
		return Event{}, fmt.Errorf("decode checkout session: %w", err)
	}
	// A completed session for a delayed payment method is not paid yet.
	if out.Type == "checkout.session.completed" && s.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		status = StatusPending
	}
	r := stripeResult(&s, status)
	out.TrackingID = s.ID
	out.Result = &r
	return out, nil
}

func sessionStatus(s *stripe.CheckoutSession) Status {
	switch {
	case s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		return StatusSuccess
	case s.Status == stripe.CheckoutSessionStatusExpired:
		return StatusFailed
	default:
		return StatusPending
	}
}

func stripeResult(s *stripe.CheckoutSession, status Status) Result {
	orderID, _ := strconv.ParseInt(s.Metadata["orderId"], 10, 64)
	method := "card"
	if len(s.PaymentMethodTypes) > 0 {
		method = s.PaymentMethodTypes[0]
	}
	return Result{
		Provider:   Stripe,
		TrackingID: s.ID,
		OrderID:    orderID,
		Status:     status,
		Amount:     decimal.New(s.AmountTotal, -2),
		Currency:   strings.ToUpper(string(s.Currency)),
		Method:     method,
		Detail:     string(s.PaymentStatus),
	}
}

func toMinorUnits(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}
