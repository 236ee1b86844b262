// Package gateway adapts external payment providers to one contract:
// start a hosted checkout session and report a normalized verification
// result. Webhook-capable providers also parse signed callback payloads.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type Provider string

const (
	Stripe  Provider = "stripe"
	Pesapal Provider = "pesapal"
	DPO     Provider = "dpo"
	PayPal  Provider = "paypal"
	Mock    Provider = "mock"
)

// Status is the normalized verification outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusPending Status = "pending"
)

var (
	// ErrSignatureVerification is returned by ConstructEvent when the payload
	// signature does not verify. Callers answer it with HTTP 400.
	ErrSignatureVerification = errors.New("signature verification failed")
	ErrUnknownProvider       = errors.New("unknown payment provider")
)

type LineItem struct {
	ArtworkID int64
	Title     string
	Quantity  int
	UnitPrice decimal.Decimal
}

type Customer struct {
	ID        int64
	Email     string
	FirstName string
	LastName  string
	Phone     string
}

// Checkout is what a provider needs to open a payment session for an order.
// ExpiresAt, when set, is when the order's artwork hold lapses; providers
// that can bound their session lifetime close it by then.
type Checkout struct {
	OrderID     int64
	Amount      decimal.Decimal
	Currency    string
	Description string
	Items       []LineItem
	Customer    Customer
	ExpiresAt   time.Time
}

// Session is a created provider session. Processing reports whether the
// order moves to PROCESSING right away or waits for the callback. ExpiresAt
// is zero when the provider does not report a closing time.
type Session struct {
	TrackingID  string
	RedirectURL string
	Processing  bool
	ExpiresAt   time.Time
}

// Result is a provider verification normalized to three statuses. OrderID is
// zero when the provider payload does not carry it.
type Result struct {
	Provider   Provider
	TrackingID string
	OrderID    int64
	Status     Status
	Amount     decimal.Decimal
	Currency   string
	Method     string
	Detail     string
}

type Gateway interface {
	Provider() Provider
	Initiate(ctx context.Context, c Checkout) (Session, error)
	Verify(ctx context.Context, trackingID string) (Result, error)
}

// Event is a parsed webhook. A nil Result means the engine has to verify
// TrackingID with the provider. Ignored events are acknowledged and dropped.
type Event struct {
	Type       string
	TrackingID string
	Result     *Result
	Ignored    bool
}

type WebhookHandler interface {
	SignatureHeader() string
	ConstructEvent(payload []byte, signature string) (Event, error)
}

// Registry holds the configured gateways by provider.
type Registry struct {
	gateways map[Provider]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[Provider]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.Provider()] = g
	}
	return r
}

func (r *Registry) Get(p Provider) (Gateway, error) {
	g, ok := r.gateways[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, p)
	}
	return g, nil
}

// Webhook returns the provider's webhook handler when it has one.
func (r *Registry) Webhook(p Provider) (WebhookHandler, bool) {
	g, ok := r.gateways[p]
	if !ok {
		return nil, false
	}
	w, ok := g.(WebhookHandler)
	return w, ok
}

func (r *Registry) Providers() []Provider {
	out := make([]Provider, 0, len(r.gateways))
	for p := range r.gateways {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
