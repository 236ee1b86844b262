package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/plutov/paypal/v4"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"

	"github.com/wichananm65/art-market-backend/internal/config"
)

// paypalOrders is the subset of the Orders v2 API the adapter calls.
type paypalOrders interface {
	CreateOrder(ctx context.Context, intent string, units []paypal.PurchaseUnitRequest, source *paypal.PaymentSource, app *paypal.ApplicationContext) (*paypal.Order, error)
	GetOrder(ctx context.Context, orderID string) (*paypal.Order, error)
	CaptureOrder(ctx context.Context, orderID string, req paypal.CaptureOrderRequest) (*paypal.CaptureOrderResponse, error)
}

type PayPalGateway struct {
	orders    paypalOrders
	returnURL string
	cancelURL string
	cb        *gobreaker.CircuitBreaker[any]
}

func NewPayPalGateway(cfg config.PayPalConfig) (*PayPalGateway, error) {
	c, err := paypal.NewClient(cfg.ClientID, cfg.ClientSecret, cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("paypal client: %w", err)
	}
	return newPayPalGateway(c, cfg), nil
}

func newPayPalGateway(orders paypalOrders, cfg config.PayPalConfig) *PayPalGateway {
	return &PayPalGateway{
		orders:    orders,
		returnURL: cfg.ReturnURL,
		cancelURL: cfg.CancelURL,
		cb:        newBreaker("paypal"),
	}
}

func (g *PayPalGateway) Provider() Provider { return PayPal }

// Initiate creates a CAPTURE order. The order stays PENDING until the buyer
// approves it and the capture is verified.
func (g *PayPalGateway) Initiate(ctx context.Context, c Checkout) (Session, error) {
	units := []paypal.PurchaseUnitRequest{{
		ReferenceID: strconv.FormatInt(c.OrderID, 10),
		Description: c.Description,
		Amount: &paypal.PurchaseUnitAmount{
			Currency: strings.ToUpper(c.Currency),
			Value:    c.Amount.StringFixed(2),
		},
	}}
	app := &paypal.ApplicationContext{
		ReturnURL:  g.returnURL,
		CancelURL:  g.cancelURL,
		UserAction: "PAY_NOW",
	}
	o, err := execute(g.cb, func() (*paypal.Order, error) {
		return g.orders.CreateOrder(ctx, paypal.OrderIntentCapture, units, nil, app)
	})
	if err != nil {
		return Session{}, fmt.Errorf("paypal create order: %w", err)
	}
	approve := ""
	for _, l := range o.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			approve = l.Href
			break
		}
	}
	if approve == "" {
		return Session{}, fmt.Errorf("paypal create order %s: no approval link", o.ID)
	}
	return Session{TrackingID: o.ID, RedirectURL: approve}, nil
}

// Verify reads the PayPal order and captures it once the buyer approved it.
func (g *PayPalGateway) Verify(ctx context.Context, trackingID string) (Result, error) {
	o, err := execute(g.cb, func() (*paypal.Order, error) {
		return g.orders.GetOrder(ctx, trackingID)
	})
	if err != nil {
		return Result{}, fmt.Errorf("paypal get order: %w", err)
	}

	status := o.Status
	if status == "APPROVED" {
		captured, err := execute(g.cb, func() (*paypal.CaptureOrderResponse, error) {
			return g.orders.CaptureOrder(ctx, trackingID, paypal.CaptureOrderRequest{})
		})
		if err != nil {
			return Result{}, fmt.Errorf("paypal capture order: %w", err)
		}
		status = captured.Status
	}

	r := Result{
		Provider:   PayPal,
		TrackingID: trackingID,
		Method:     "paypal",
		Detail:     status,
	}
	switch status {
	case "COMPLETED":
		r.Status = StatusSuccess
	case "VOIDED", "DECLINED":
		r.Status = StatusFailed
	default:
		r.Status = StatusPending
	}
	if len(o.PurchaseUnits) > 0 {
		pu := o.PurchaseUnits[0]
		r.OrderID, _ = strconv.ParseInt(pu.ReferenceID, 10, 64)
		if pu.Amount != nil {
			r.Amount, _ = decimal.NewFromString(pu.Amount.Value)
			r.Currency = pu.Amount.Currency
		}
	}
	return r, nil
}

func (g *PayPalGateway) SignatureHeader() string { return "Paypal-Transmission-Sig" }

type paypalWebhook struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID                string `json:"id"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

// ConstructEvent extracts the PayPal order id from the notification. The
// payload is never trusted for the outcome: the returned event carries no
// Result, so the order is always re-read from the PayPal API.
func (g *PayPalGateway) ConstructEvent(payload []byte, _ string) (Event, error) {
	var w paypalWebhook
	if err := json.Unmarshal(payload, &w); err != nil {
		return Event{}, fmt.Errorf("decode paypal webhook: %w", err)
	}
	ev := Event{Type: w.EventType}
	switch w.EventType {
	case "CHECKOUT.ORDER.APPROVED", "CHECKOUT.ORDER.COMPLETED":
		ev.TrackingID = w.Resource.ID
	case "PAYMENT.CAPTURE.COMPLETED", "PAYMENT.CAPTURE.DENIED":
		ev.TrackingID = w.Resource.SupplementaryData.RelatedIDs.OrderID
	default:
		ev.Ignored = true
		return ev, nil
	}
	if ev.TrackingID == "" {
		return Event{}, fmt.Errorf("paypal webhook %s: missing order id", w.ID)
	}
	return ev, nil
}
