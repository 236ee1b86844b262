package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wichananm65/art-market-backend/internal/apperr"
	"github.com/wichananm65/art-market-backend/internal/artwork"
	"github.com/wichananm65/art-market-backend/internal/gateway"
	"github.com/wichananm65/art-market-backend/internal/order"
)

type Settings struct {
	ReservationTTL  time.Duration
	InitiateTimeout time.Duration
	// ReconcileAfter is how long an order waits on its provider before the
	// reconcile job asks the provider itself.
	ReconcileAfter time.Duration
	ReconcileBatch int
}

// Initiation is returned to the client, which redirects the buyer to
// RedirectURL.
type Initiation struct {
	OrderID     int64        `json:"orderId"`
	Provider    string       `json:"provider"`
	TrackingID  string       `json:"trackingId"`
	RedirectURL string       `json:"redirectUrl"`
	OrderStatus order.Status `json:"orderStatus"`
}

// WebhookAck is the body every provider callback is answered with.
type WebhookAck struct {
	Received bool   `json:"received"`
	Error    string `json:"error,omitempty"`
}

type Service struct {
	gateways *gateway.Registry
	engine   *Engine
	settings Settings
	opts     options
	log      *zap.Logger
	now      func() time.Time
}

func NewService(gateways *gateway.Registry, engine *Engine, settings Settings, opts ...Option) *Service {
	o := buildOptions(opts)
	if settings.ReconcileBatch <= 0 {
		settings.ReconcileBatch = 50
	}
	return &Service{
		gateways: gateways,
		engine:   engine,
		settings: settings,
		opts:     o,
		log:      o.log.Named("payment"),
		now:      time.Now,
	}
}

// InitiatePayment opens a provider session for a PENDING order owned by the
// customer, then records the reference and reserves the order's unique
// artworks.
func (s *Service) InitiatePayment(ctx context.Context, customerID, orderID int64, provider string) (Initiation, error) {
	gw, err := s.gateways.Get(gateway.Provider(strings.ToLower(strings.TrimSpace(provider))))
	if err != nil {
		return Initiation{}, apperr.Validation("Unsupported payment provider")
	}
	o, err := s.engine.orders.GetByID(ctx, orderID)
	if errors.Is(err, order.ErrNotFound) {
		return Initiation{}, apperr.Validation("Order not found")
	}
	if err != nil {
		return Initiation{}, apperr.Internal(err)
	}
	if o.CustomerID != customerID {
		return Initiation{}, apperr.Unauthorized("You do not have permission to pay for this order")
	}
	if !o.IsPayable() {
		return Initiation{}, apperr.Validation("Order is not payable")
	}
	c, err := s.engine.customers.GetByID(ctx, customerID)
	if err != nil {
		return Initiation{}, apperr.Internal(fmt.Errorf("load customer %d: %w", customerID, err))
	}

	holdUntil := s.now().Add(s.settings.ReservationTTL)
	checkout := gateway.Checkout{
		OrderID:     o.ID,
		Amount:      o.TotalAmount,
		Currency:    o.Currency,
		Description: fmt.Sprintf("Payment for order #%d", o.ID),
		ExpiresAt:   holdUntil,
		Customer: gateway.Customer{
			ID:        c.ID,
			Email:     c.Email,
			FirstName: c.FirstName,
			LastName:  c.LastName,
			Phone:     c.Phone,
		},
	}
	for _, it := range o.Items {
		checkout.Items = append(checkout.Items, gateway.LineItem{
			ArtworkID: it.ArtworkID,
			Title:     it.Title,
			Quantity:  it.Quantity,
			UnitPrice: it.Price,
		})
	}

	session, err := s.initiate(ctx, gw, checkout)
	if err != nil {
		s.log.Error("payment initiation failed",
			zap.Int64("order_id", o.ID),
			zap.String("provider", string(gw.Provider())),
			zap.Error(err))
		return Initiation{}, apperr.Provider("Payment failed, please retry", err)
	}

	next := order.StatusPending
	if session.Processing {
		next = order.StatusProcessing
	}
	// The hold must outlive the provider session or a late payment could
	// settle an artwork that was already released.
	if session.ExpiresAt.After(holdUntil) {
		holdUntil = session.ExpiresAt
	}
	updated, err := s.engine.orders.AttachPayment(ctx, order.PaymentAttachment{
		OrderID:      o.ID,
		Provider:     string(gw.Provider()),
		Reference:    session.TrackingID,
		Status:       next,
		ReserveUntil: holdUntil,
	})
	if err != nil {
		// The provider session is left unreferenced and expires on its own.
		s.log.Warn("provider session not attached",
			zap.Int64("order_id", o.ID),
			zap.String("reference", session.TrackingID),
			zap.Error(err))
		switch {
		case errors.Is(err, order.ErrNotPayable):
			return Initiation{}, apperr.Validation("Order is not payable")
		case errors.Is(err, artwork.ErrUnavailable):
			return Initiation{}, apperr.Validation("Artwork is no longer available")
		default:
			return Initiation{}, apperr.Internal(err)
		}
	}

	s.log.Info("payment initiated",
		zap.Int64("order_id", o.ID),
		zap.String("provider", string(gw.Provider())),
		zap.String("reference", session.TrackingID))
	return Initiation{
		OrderID:     updated.ID,
		Provider:    updated.PaymentProvider,
		TrackingID:  session.TrackingID,
		RedirectURL: session.RedirectURL,
		OrderStatus: updated.Status,
	}, nil
}

func (s *Service) initiate(ctx context.Context, gw gateway.Gateway, c gateway.Checkout) (gateway.Session, error) {
	ctx, span := s.engine.tracer.Start(ctx, "payment.initiate", trace.WithAttributes(
		attribute.String("payment.provider", string(gw.Provider())),
		attribute.Int64("order.id", c.OrderID),
	))
	defer span.End()
	if s.settings.InitiateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.settings.InitiateTimeout)
		defer cancel()
	}

	start := time.Now()
	session, err := gw.Initiate(ctx, c)
	s.opts.metrics.ObserveInitiate(string(gw.Provider()), err, time.Since(start))
	if err == nil && session.TrackingID == "" {
		err = errors.New("provider returned no tracking id")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "initiate failed")
	}
	return session, err
}

// VerifyPayment asks the order's provider for the current verdict and
// reconciles it.
func (s *Service) VerifyPayment(ctx context.Context, trackingID string) (Reconciliation, error) {
	o, err := s.orderByReference(ctx, trackingID)
	if err != nil {
		return Reconciliation{}, err
	}
	return s.verifyOrder(ctx, o, trackingID)
}

// VerifyCustomerPayment is VerifyPayment for the customer owning the order.
func (s *Service) VerifyCustomerPayment(ctx context.Context, trackingID string, customerID int64) (Reconciliation, error) {
	o, err := s.orderByReference(ctx, trackingID)
	if err != nil {
		return Reconciliation{}, err
	}
	if o.CustomerID != customerID {
		return Reconciliation{}, apperr.Unauthorized("You do not have permission to view this payment")
	}
	return s.verifyOrder(ctx, o, trackingID)
}

func (s *Service) orderByReference(ctx context.Context, trackingID string) (order.Order, error) {
	if strings.TrimSpace(trackingID) == "" {
		return order.Order{}, apperr.Validation("Missing tracking id")
	}
	o, err := s.engine.orders.GetByPaymentReference(ctx, trackingID)
	if errors.Is(err, order.ErrNotFound) {
		return order.Order{}, apperr.NotFound("Payment not found")
	}
	if err != nil {
		return order.Order{}, apperr.Internal(err)
	}
	return o, nil
}

func (s *Service) verifyOrder(ctx context.Context, o order.Order, trackingID string) (Reconciliation, error) {
	// A recorded payment is final, the provider is not asked again.
	if p, err := s.engine.repo.GetByReference(ctx, trackingID); err == nil {
		return Reconciliation{Status: gateway.StatusSuccess, OrderID: o.ID, OrderStatus: o.Status, Payment: &p}, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Reconciliation{}, apperr.Internal(err)
	}

	gw, err := s.gateways.Get(gateway.Provider(o.PaymentProvider))
	if err != nil {
		return Reconciliation{}, apperr.Validation("Unsupported payment provider")
	}
	res, err := s.verify(ctx, gw, trackingID)
	if err != nil {
		return Reconciliation{}, err
	}
	if res.OrderID == 0 {
		res.OrderID = o.ID
	}
	return s.engine.Reconcile(ctx, res)
}

func (s *Service) verify(ctx context.Context, gw gateway.Gateway, trackingID string) (gateway.Result, error) {
	if s.settings.InitiateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.settings.InitiateTimeout)
		defer cancel()
	}
	res, err := gw.Verify(ctx, trackingID)
	if err != nil {
		s.log.Error("payment verification failed",
			zap.String("provider", string(gw.Provider())),
			zap.String("reference", trackingID),
			zap.Error(err))
		return gateway.Result{}, apperr.Provider("Payment verification failed, please retry", err)
	}
	if res.TrackingID == "" {
		res.TrackingID = trackingID
	}
	if res.Provider == "" {
		res.Provider = gw.Provider()
	}
	return res, nil
}

// SignatureHeader names the request header carrying the provider's webhook
// signature, or "" when the provider has no webhooks.
func (s *Service) SignatureHeader(provider string) string {
	wh, ok := s.gateways.Webhook(gateway.Provider(provider))
	if !ok {
		return ""
	}
	return wh.SignatureHeader()
}

// HandleWebhook verifies and applies a provider webhook. Only an invalid
// signature or an unknown provider is returned as an error; every other
// failure is reported inside the acknowledgement so the provider stops
// retrying.
func (s *Service) HandleWebhook(ctx context.Context, provider string, payload []byte, signature string) (WebhookAck, error) {
	p := gateway.Provider(provider)
	wh, ok := s.gateways.Webhook(p)
	if !ok {
		s.opts.metrics.WebhookHandled(provider, "unknown_provider")
		return WebhookAck{}, apperr.NotFound("Unknown payment provider")
	}
	ev, err := wh.ConstructEvent(payload, signature)
	if errors.Is(err, gateway.ErrSignatureVerification) {
		s.log.Warn("webhook signature rejected", zap.String("provider", provider), zap.Error(err))
		s.opts.metrics.WebhookHandled(provider, "invalid_signature")
		return WebhookAck{}, apperr.Validation("Webhook signature verification failed")
	}
	if err != nil {
		return s.ackError(provider, "", err), nil
	}
	if ev.Ignored {
		s.opts.metrics.WebhookHandled(provider, "ignored")
		return WebhookAck{Received: true}, nil
	}

	var rec Reconciliation
	if ev.Result != nil {
		rec, err = s.engine.Reconcile(ctx, *ev.Result)
	} else {
		rec, err = s.VerifyPayment(ctx, ev.TrackingID)
	}
	if err != nil {
		return s.ackError(provider, ev.TrackingID, err), nil
	}
	s.log.Info("webhook processed",
		zap.String("provider", provider),
		zap.String("event", ev.Type),
		zap.Int64("order_id", rec.OrderID),
		zap.Bool("applied", rec.Applied))
	s.opts.metrics.WebhookHandled(provider, "processed")
	return WebhookAck{Received: true}, nil
}

// HandlePesapalIPN reconciles the transaction named by a Pesapal IPN.
func (s *Service) HandlePesapalIPN(ctx context.Context, trackingID string) WebhookAck {
	return s.handleCallback(ctx, gateway.Pesapal, trackingID)
}

// HandleDPOCallback reconciles the transaction token DPO redirects back with.
func (s *Service) HandleDPOCallback(ctx context.Context, token string) WebhookAck {
	return s.handleCallback(ctx, gateway.DPO, token)
}

func (s *Service) handleCallback(ctx context.Context, p gateway.Provider, trackingID string) WebhookAck {
	if _, err := s.VerifyPayment(ctx, trackingID); err != nil {
		return s.ackError(string(p), trackingID, err)
	}
	s.opts.metrics.WebhookHandled(string(p), "processed")
	return WebhookAck{Received: true}
}

func (s *Service) ackError(provider, reference string, err error) WebhookAck {
	s.log.Error("webhook handling failed",
		zap.String("provider", provider),
		zap.String("reference", reference),
		zap.Error(err))
	s.opts.metrics.WebhookHandled(provider, "error")
	return WebhookAck{Received: true, Error: apperr.Message(err)}
}

// GetPaymentReport returns the recorded payment with its order.
func (s *Service) GetPaymentReport(ctx context.Context, trackingID string, customerID int64) (Report, error) {
	p, err := s.engine.repo.GetByReference(ctx, trackingID)
	if errors.Is(err, ErrNotFound) {
		return Report{}, apperr.NotFound("Payment not found")
	}
	if err != nil {
		return Report{}, apperr.Internal(err)
	}
	o, err := s.engine.orders.GetByID(ctx, p.OrderID)
	if err != nil {
		return Report{}, apperr.Internal(fmt.Errorf("load order %d: %w", p.OrderID, err))
	}
	if o.CustomerID != customerID {
		return Report{}, apperr.Unauthorized("You do not have permission to view this payment")
	}
	return Report{Payment: p, Order: o}, nil
}

// ReconcileAwaiting verifies orders that have waited on their provider for
// longer than ReconcileAfter. It returns how many results changed state.
func (s *Service) ReconcileAwaiting(ctx context.Context) int {
	orders, err := s.engine.orders.ListAwaitingPayment(ctx, s.now().Add(-s.settings.ReconcileAfter), s.settings.ReconcileBatch)
	if err != nil {
		s.log.Error("list orders awaiting payment", zap.Error(err))
		return 0
	}
	applied := 0
	for _, o := range orders {
		rec, err := s.verifyOrder(ctx, o, o.PaymentReference)
		if err != nil {
			s.log.Warn("reconcile awaiting order",
				zap.Int64("order_id", o.ID),
				zap.String("reference", o.PaymentReference),
				zap.Error(err))
			continue
		}
		if rec.Applied {
			applied++
		}
	}
	if applied > 0 {
		s.log.Info("reconciled awaiting orders", zap.Int("applied", applied), zap.Int("checked", len(orders)))
	}
	return applied
}

// Schedule registers the reconcile job on c.
func (s *Service) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		s.ReconcileAwaiting(ctx)
	})
}
