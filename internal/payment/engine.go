package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wichananm65/art-market-backend/internal/apperr"
	"github.com/wichananm65/art-market-backend/internal/customer"
	"github.com/wichananm65/art-market-backend/internal/events"
	"github.com/wichananm65/art-market-backend/internal/gateway"
	"github.com/wichananm65/art-market-backend/internal/metrics"
	"github.com/wichananm65/art-market-backend/internal/notify"
	"github.com/wichananm65/art-market-backend/internal/order"
	"github.com/wichananm65/art-market-backend/internal/receipt"
)

// Renderer turns a receipt document into PDF bytes.
type Renderer interface {
	Render(d receipt.Document) ([]byte, error)
}

// Reconciliation is the outcome of applying one provider result.
type Reconciliation struct {
	Status      gateway.Status `json:"status"`
	OrderID     int64          `json:"orderId"`
	OrderStatus order.Status   `json:"orderStatus"`
	Payment     *Payment       `json:"payment,omitempty"`
	// Applied is false when the result changed nothing, for example a
	// repeated webhook for an already recorded payment.
	Applied bool `json:"applied"`
}

type Option func(*options)

type options struct {
	metrics   *metrics.Metrics
	log       *zap.Logger
	renderer  Renderer
	uploader  receipt.Uploader
	notifier  notify.Notifier
	publisher events.Publisher
}

func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }
func WithLogger(l *zap.Logger) Option       { return func(o *options) { o.log = l } }

// WithReceipts enables receipt rendering and storage after a payment.
func WithReceipts(r Renderer, u receipt.Uploader) Option {
	return func(o *options) { o.renderer, o.uploader = r, u }
}

func WithNotifier(n notify.Notifier) Option    { return func(o *options) { o.notifier = n } }
func WithPublisher(p events.Publisher) Option { return func(o *options) { o.publisher = p } }

func buildOptions(opts []Option) options {
	o := options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.uploader == nil {
		o.uploader = receipt.NopUploader{}
	}
	if o.notifier == nil {
		o.notifier = notify.NewLogNotifier(o.log)
	}
	if o.publisher == nil {
		o.publisher = events.NopPublisher{}
	}
	return o
}

// Engine is the single place provider results are applied. Webhooks, client
// polling and the reconcile job all go through Reconcile.
type Engine struct {
	repo      Repository
	orders    order.Repository
	customers customer.Repository
	opts      options
	log       *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time

	followUpTimeout time.Duration
	wg              sync.WaitGroup
}

func NewEngine(repo Repository, orders order.Repository, customers customer.Repository, opts ...Option) *Engine {
	o := buildOptions(opts)
	return &Engine{
		repo:            repo,
		orders:          orders,
		customers:       customers,
		opts:            o,
		log:             o.log.Named("payment"),
		tracer:          otel.Tracer("payment"),
		now:             time.Now,
		followUpTimeout: 2 * time.Minute,
	}
}

// Reconcile applies a normalized provider result. Applying the same
// successful result twice records one payment and one PAID transition.
func (e *Engine) Reconcile(ctx context.Context, r gateway.Result) (Reconciliation, error) {
	ctx, span := e.tracer.Start(ctx, "payment.reconcile", trace.WithAttributes(
		attribute.String("payment.provider", string(r.Provider)),
		attribute.String("payment.reference", r.TrackingID),
		attribute.String("payment.status", string(r.Status)),
	))
	defer span.End()

	rec, err := e.reconcile(ctx, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconcile failed")
		e.opts.metrics.PaymentReconciled(string(r.Provider), "error")
		return Reconciliation{}, err
	}
	span.SetAttributes(attribute.Bool("payment.applied", rec.Applied), attribute.Int64("order.id", rec.OrderID))
	outcome := string(rec.Status)
	if !rec.Applied {
		outcome = "duplicate"
	}
	e.opts.metrics.PaymentReconciled(string(r.Provider), outcome)
	return rec, nil
}

func (e *Engine) reconcile(ctx context.Context, r gateway.Result) (Reconciliation, error) {
	if r.TrackingID == "" {
		return Reconciliation{}, apperr.Validation("Missing payment reference")
	}
	o, err := e.resolveOrder(ctx, r)
	if err != nil {
		return Reconciliation{}, err
	}

	// A recorded payment wins over anything the provider reports later.
	if existing, err := e.repo.GetByReference(ctx, r.TrackingID); err == nil {
		return Reconciliation{Status: gateway.StatusSuccess, OrderID: o.ID, OrderStatus: o.Status, Payment: &existing}, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Reconciliation{}, apperr.Internal(fmt.Errorf("lookup payment %s: %w", r.TrackingID, err))
	}

	switch r.Status {
	case gateway.StatusSuccess:
		return e.applySuccess(ctx, o, r)
	case gateway.StatusFailed:
		return e.applyFailure(ctx, o, r)
	case gateway.StatusPending:
		return e.applyPending(ctx, o)
	default:
		return Reconciliation{}, apperr.Internal(fmt.Errorf("unknown payment status %q", r.Status))
	}
}

// resolveOrder finds the order by payment reference. The order id the
// provider echoed back is only trusted while the order has no reference of
// its own, which covers a callback racing the attach.
func (e *Engine) resolveOrder(ctx context.Context, r gateway.Result) (order.Order, error) {
	o, err := e.orders.GetByPaymentReference(ctx, r.TrackingID)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, order.ErrNotFound) {
		return order.Order{}, apperr.Internal(err)
	}
	if r.OrderID > 0 {
		o, err = e.orders.GetByID(ctx, r.OrderID)
		if err == nil {
			if o.PaymentReference != "" {
				e.log.Warn("payment reference does not match order",
					zap.Int64("order_id", o.ID),
					zap.String("reference", r.TrackingID),
					zap.String("attached_reference", o.PaymentReference))
				return order.Order{}, apperr.NotFound("Payment reference not found")
			}
			e.log.Warn("payment reference not attached to order",
				zap.Int64("order_id", o.ID),
				zap.String("reference", r.TrackingID))
			return o, nil
		}
		if !errors.Is(err, order.ErrNotFound) {
			return order.Order{}, apperr.Internal(err)
		}
	}
	return order.Order{}, apperr.NotFound("Payment reference not found")
}

func (e *Engine) applySuccess(ctx context.Context, o order.Order, r gateway.Result) (Reconciliation, error) {
	now := e.now()
	amount := r.Amount
	if amount.IsZero() {
		amount = o.TotalAmount
	}
	if !amount.Equal(o.TotalAmount) {
		e.log.Warn("paid amount differs from order total",
			zap.Int64("order_id", o.ID),
			zap.String("paid", amount.String()),
			zap.String("total", o.TotalAmount.String()))
	}
	currency := strings.ToUpper(r.Currency)
	if currency == "" {
		currency = o.Currency
	}
	method := r.Method
	if method == "" {
		method = string(r.Provider)
	}

	p, updated, err := e.repo.RecordSuccess(ctx, Payment{
		OrderID:          o.ID,
		Amount:           amount,
		Currency:         currency,
		PaymentMethod:    method,
		PaymentProvider:  string(r.Provider),
		TransactionID:    TransactionID(o.ID, now),
		PaymentReference: r.TrackingID,
		Status:           StatusCompleted,
		CreatedAt:        now,
	})
	if errors.Is(err, ErrAlreadyReconciled) {
		return Reconciliation{Status: gateway.StatusSuccess, OrderID: o.ID, OrderStatus: updated.Status, Payment: &p}, nil
	}
	if err != nil {
		return Reconciliation{}, apperr.Internal(fmt.Errorf("record payment for order %d: %w", o.ID, err))
	}
	if updated.Status != order.StatusPaid {
		e.log.Warn("payment captured for order that cannot be paid",
			zap.Int64("order_id", updated.ID), zap.String("status", string(updated.Status)))
	}
	e.log.Info("payment reconciled",
		zap.Int64("order_id", updated.ID),
		zap.String("transaction_id", p.TransactionID),
		zap.String("provider", p.PaymentProvider))

	e.afterCommit(p, updated)
	return Reconciliation{Status: gateway.StatusSuccess, OrderID: updated.ID, OrderStatus: updated.Status, Payment: &p, Applied: true}, nil
}

func (e *Engine) applyFailure(ctx context.Context, o order.Order, r gateway.Result) (Reconciliation, error) {
	updated, err := e.repo.RecordFailure(ctx, Attempt{
		OrderID:   o.ID,
		Provider:  string(r.Provider),
		Reference: r.TrackingID,
		Status:    AttemptFailed,
		Detail:    r.Detail,
	})
	if err != nil {
		return Reconciliation{}, apperr.Internal(fmt.Errorf("record failed payment for order %d: %w", o.ID, err))
	}
	e.log.Info("payment failed",
		zap.Int64("order_id", o.ID),
		zap.String("provider", string(r.Provider)),
		zap.String("detail", r.Detail))
	return Reconciliation{
		Status:      gateway.StatusFailed,
		OrderID:     updated.ID,
		OrderStatus: updated.Status,
		Applied:     updated.Status != o.Status,
	}, nil
}

func (e *Engine) applyPending(ctx context.Context, o order.Order) (Reconciliation, error) {
	rec := Reconciliation{Status: gateway.StatusPending, OrderID: o.ID, OrderStatus: o.Status}
	if o.Status != order.StatusPending {
		return rec, nil
	}
	updated, err := e.orders.UpdateStatus(ctx, o.ID, order.StatusProcessing)
	if errors.Is(err, order.ErrInvalidTransition) {
		return rec, nil
	}
	if err != nil {
		return Reconciliation{}, apperr.Internal(fmt.Errorf("mark order %d processing: %w", o.ID, err))
	}
	rec.OrderStatus, rec.Applied = updated.Status, true
	return rec, nil
}

// afterCommit runs the slow follow-ups of a new payment outside the request
// and the ledger transaction.
func (e *Engine) afterCommit(p Payment, o order.Order) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.followUpTimeout)
		defer cancel()
		e.followUp(ctx, p, o)
	}()
}

// Wait blocks until every follow-up started so far has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// followUp renders and stores the receipt, emails the confirmation and
// publishes the payment event. A failing step is logged and the rest still
// run.
func (e *Engine) followUp(ctx context.Context, p Payment, o order.Order) {
	ctx, span := e.tracer.Start(ctx, "payment.follow_up", trace.WithAttributes(
		attribute.Int64("order.id", o.ID),
		attribute.String("payment.transaction_id", p.TransactionID),
	))
	defer span.End()
	log := e.log.With(zap.Int64("order_id", o.ID), zap.String("transaction_id", p.TransactionID))

	c, err := e.customers.GetByID(ctx, o.CustomerID)
	if err != nil {
		log.Error("load customer for receipt", zap.Error(err))
		c = customer.Customer{ID: o.CustomerID}
	}

	doc := receiptDocument(p, o, c)
	var pdf []byte
	if e.opts.renderer != nil {
		if pdf, err = e.opts.renderer.Render(doc); err != nil {
			log.Error("render receipt", zap.Error(err))
			pdf = nil
		}
	}
	if len(pdf) > 0 {
		url, err := e.opts.uploader.Upload(ctx, receipt.PublicID(p.TransactionID), pdf)
		switch {
		case err != nil:
			log.Error("upload receipt", zap.Error(err))
		case url != "":
			if err := e.repo.SetReceiptURL(ctx, p.ID, url); err != nil {
				log.Error("save receipt url", zap.Error(err))
			} else {
				p.ReceiptURL = url
			}
		}
	}

	err = e.opts.notifier.SendPaymentConfirmation(ctx, notify.Confirmation{
		OrderID:        o.ID,
		TransactionID:  p.TransactionID,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Method:         p.PaymentMethod,
		CustomerName:   c.FullName(),
		CustomerEmail:  c.Email,
		ReceiptURL:     p.ReceiptURL,
		Attachment:     pdf,
		AttachmentName: doc.FileName(),
	})
	if err != nil {
		log.Error("send payment confirmation", zap.Error(err))
	}

	err = e.opts.publisher.PaymentSucceeded(ctx, events.PaymentSucceeded{
		OrderID:          o.ID,
		CustomerID:       o.CustomerID,
		PaymentID:        p.ID,
		TransactionID:    p.TransactionID,
		PaymentReference: p.PaymentReference,
		Provider:         p.PaymentProvider,
		Amount:           p.Amount,
		Currency:         p.Currency,
		ArtworkIDs:       o.ArtworkIDs(),
		OccurredAt:       p.CreatedAt,
	})
	if err != nil {
		log.Error("publish payment event", zap.Error(err))
	}
}

func receiptDocument(p Payment, o order.Order, c customer.Customer) receipt.Document {
	lines := make([]receipt.Line, len(o.Items))
	for i, it := range o.Items {
		lines[i] = receipt.Line{Title: it.Title, Quantity: it.Quantity, UnitPrice: it.Price}
	}
	return receipt.Document{
		OrderID:       o.ID,
		TransactionID: p.TransactionID,
		Method:        p.PaymentMethod,
		Currency:      p.Currency,
		CustomerName:  c.FullName(),
		CustomerEmail: c.Email,
		PaidAt:        p.CreatedAt,
		Lines:         lines,
	}
}
