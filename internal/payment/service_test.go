package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wichananm65/art-market-backend/internal/address"
	"github.com/wichananm65/art-market-backend/internal/apperr"
	"github.com/wichananm65/art-market-backend/internal/artwork"
	"github.com/wichananm65/art-market-backend/internal/cart"
	"github.com/wichananm65/art-market-backend/internal/customer"
	"github.com/wichananm65/art-market-backend/internal/events"
	"github.com/wichananm65/art-market-backend/internal/gateway"
	"github.com/wichananm65/art-market-backend/internal/notify"
	"github.com/wichananm65/art-market-backend/internal/order"
	"github.com/wichananm65/art-market-backend/internal/receipt"
)

type fakeGateway struct {
	mu          sync.Mutex
	provider    gateway.Provider
	processing  bool
	initErr     error
	checkout    gateway.Checkout
	expiresAt   time.Time
	sessions    int
	result      gateway.Result
	verifyErr   error
	verifyCalls int
	event       gateway.Event
	eventErr    error
}

func (f *fakeGateway) Provider() gateway.Provider { return f.provider }

func (f *fakeGateway) Initiate(_ context.Context, c gateway.Checkout) (gateway.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initErr != nil {
		return gateway.Session{}, f.initErr
	}
	f.sessions++
	f.checkout = c
	id := fmt.Sprintf("trk_%d_%d", c.OrderID, f.sessions)
	return gateway.Session{TrackingID: id, RedirectURL: "https://pay.example.com/" + id, Processing: f.processing, ExpiresAt: f.expiresAt}, nil
}

func (f *fakeGateway) Verify(_ context.Context, trackingID string) (gateway.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	r := f.result
	r.Provider = f.provider
	r.TrackingID = trackingID
	return r, f.verifyErr
}

func (f *fakeGateway) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verifyCalls
}

func (f *fakeGateway) SignatureHeader() string { return "X-Test-Signature" }

func (f *fakeGateway) ConstructEvent(_ []byte, signature string) (gateway.Event, error) {
	if signature == "bad" {
		return gateway.Event{}, fmt.Errorf("%w: mismatch", gateway.ErrSignatureVerification)
	}
	return f.event, f.eventErr
}

type fakeUploader struct {
	mu   sync.Mutex
	ids  []string
	size int
	err  error
}

func (u *fakeUploader) Upload(_ context.Context, publicID string, pdf []byte) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.ids = append(u.ids, publicID)
	u.size = len(pdf)
	if u.err != nil {
		return "", u.err
	}
	return "https://files.example.com/" + publicID, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Confirmation
}

func (n *fakeNotifier) SendPaymentConfirmation(_ context.Context, c notify.Confirmation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, c)
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []events.PaymentSucceeded
}

func (p *fakePublisher) PaymentSucceeded(_ context.Context, e events.PaymentSucceeded) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, e)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type fixture struct {
	svc       *Service
	engine    *Engine
	repo      *InMemoryRepository
	orders    *order.InMemoryRepository
	orderSvc  *order.Service
	cartSvc   *cart.Service
	artworks  *artwork.InMemoryRepository
	gw        *fakeGateway
	uploader  *fakeUploader
	notifier  *fakeNotifier
	publisher *fakePublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	artworks := artwork.NewInMemoryRepository([]artwork.Artwork{
		{ID: 1, Title: "Bowl", Price: decimal.RequireFromString("50.00"), Currency: "USD", IsAvailable: true},
		{ID: 2, Title: "Original", Price: decimal.RequireFromString("300.00"), Currency: "USD", IsUnique: true, IsAvailable: true},
	})
	catalog := artwork.NewCatalog(artworks)
	carts := cart.NewInMemoryRepository()
	cartSvc := cart.NewService(carts, catalog, nil, nil)
	orders := order.NewInMemoryRepository(carts, artworks)
	orderSvc := order.NewService(orders, catalog, address.NewService(address.NewInMemoryRepository(nil)), "USD")
	customers := customer.NewInMemoryRepository([]customer.Customer{
		{ID: 7, Email: "grace@example.com", FirstName: "Grace", LastName: "Hopper"},
		{ID: 8, Email: "alan@example.com", FirstName: "Alan", LastName: "Turing"},
	})

	f := &fixture{
		orders:    orders,
		orderSvc:  orderSvc,
		cartSvc:   cartSvc,
		artworks:  artworks,
		gw:        &fakeGateway{provider: gateway.Stripe, processing: true, result: gateway.Result{Status: gateway.StatusSuccess}},
		uploader:  &fakeUploader{},
		notifier:  &fakeNotifier{},
		publisher: &fakePublisher{},
	}
	f.repo = NewInMemoryRepository(orders, artworks)
	opts := []Option{
		WithReceipts(receipt.NewGenerator("Art Market", "shop@example.com"), f.uploader),
		WithNotifier(f.notifier),
		WithPublisher(f.publisher),
	}
	f.engine = NewEngine(f.repo, orders, customers, opts...)
	f.svc = NewService(gateway.NewRegistry(f.gw), f.engine, Settings{
		ReservationTTL:  30 * time.Minute,
		InitiateTimeout: time.Second,
		ReconcileAfter:  10 * time.Minute,
	}, opts...)
	return f
}

func (f *fixture) placeOrder(t *testing.T, customerID int64, artworkIDs ...int64) order.Order {
	t.Helper()
	ctx := context.Background()
	var c cart.Cart
	for _, id := range artworkIDs {
		var err error
		c, err = f.cartSvc.AddItem(ctx, customerID, cart.AddItemInput{ArtworkID: id, Quantity: 1})
		require.NoError(t, err)
	}
	o, err := f.orderSvc.Checkout(ctx, customerID, order.CheckoutInput{DeclaredTotal: c.TotalAmount})
	require.NoError(t, err)
	return o
}

func (f *fixture) initiate(t *testing.T, o order.Order) Initiation {
	t.Helper()
	in, err := f.svc.InitiatePayment(context.Background(), o.CustomerID, o.ID, string(f.gw.provider))
	require.NoError(t, err)
	return in
}

func (f *fixture) artwork(t *testing.T, id int64) artwork.Artwork {
	t.Helper()
	a, err := f.artworks.GetByID(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (f *fixture) order(t *testing.T, id int64) order.Order {
	t.Helper()
	o, err := f.orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	return o
}

func TestInitiatePaymentReservesUniqueArtworks(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, 7, 1, 2)

	in := f.initiate(t, o)
	assert.Equal(t, order.StatusProcessing, in.OrderStatus)
	assert.Equal(t, "stripe", in.Provider)
	assert.NotEmpty(t, in.RedirectURL)

	stored := f.order(t, o.ID)
	assert.Equal(t, in.TrackingID, stored.PaymentReference)
	assert.Equal(t, "stripe", stored.PaymentProvider)

	unique := f.artwork(t, 2)
	assert.False(t, unique.IsAvailable)
	require.NotNil(t, unique.ReservedUntil)
	assert.True(t, f.artwork(t, 1).IsAvailable)
}

func TestInitiatePaymentCallbackDrivenProviderStaysPending(t *testing.T) {
	f := newFixture(t)
	f.gw.processing = false
	o := f.placeOrder(t, 7, 2)

	in := f.initiate(t, o)
	assert.Equal(t, order.StatusPending, in.OrderStatus)
	assert.False(t, f.artwork(t, 2).IsAvailable)
}

func TestInitiatePaymentRejections(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, 7, 1)
	cancelled := f.placeOrder(t, 7, 1)
	_, err := f.orderSvc.CancelOrder(context.Background(), cancelled.ID, 7)
	require.NoError(t, err)

	cases := []struct {
		name     string
		customer int64
		orderID  int64
		provider string
		kind     apperr.Kind
		message  string
	}{
		{"unknown provider", 7, o.ID, "bitcoin", apperr.KindValidation, "Unsupported payment provider"},
		{"missing order", 7, 999, "stripe", apperr.KindValidation, "Order not found"},
		{"foreign order", 8, o.ID, "stripe", apperr.KindAuthorization, "You do not have permission to pay for this order"},
		{"cancelled order", 7, cancelled.ID, "stripe", apperr.KindValidation, "Order is not payable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.InitiatePayment(context.Background(), tc.customer, tc.orderID, tc.provider)
			require.Error(t, err)
			assert.Equal(t, tc.kind, apperr.KindOf(err))
			assert.Equal(t, tc.message, apperr.Message(err))
		})
	}
}

func TestInitiatePaymentTwiceIsRejected(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, 7, 1)
	f.initiate(t, o)

	_, err := f.svc.InitiatePayment(context.Background(), 7, o.ID, "stripe")
	require.Error(t, err)
	assert.Equal(t, "Order is not payable", apperr.Message(err))
}

func TestInitiatePaymentKeepsFirstSessionForCallbackProvider(t *testing.T) {
	f := newFixture(t)
	f.gw.processing = false
	o := f.placeOrder(t, 7, 2)
	first := f.initiate(t, o)

	_, err := f.svc.InitiatePayment(context.Background(), 7, o.ID, "stripe")
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, "Order is not payable", apperr.Message(err))
	assert.Equal(t, 1, f.gw.sessions)

	stored := f.order(t, o.ID)
	assert.Equal(t, order.StatusPending, stored.Status)
	assert.Equal(t, first.TrackingID, stored.PaymentReference)

	res, err := f.engine.Reconcile(context.Background(), gateway.Result{
		Provider: gateway.Stripe, TrackingID: first.TrackingID, Status: gateway.StatusSuccess,
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, order.StatusPaid, f.order(t, o.ID).Status)
}

func TestInitiatePaymentHoldCoversProviderSession(t *testing.T) {
	now := time.Now().Truncate(time.Second)

	t.Run("session bounded by hold", func(t *testing.T) {
		f := newFixture(t)
		f.svc.now = func() time.Time { return now }
		o := f.placeOrder(t, 7, 2)
		f.initiate(t, o)

		assert.Equal(t, now.Add(30*time.Minute), f.gw.checkout.ExpiresAt)
		require.NotNil(t, f.artwork(t, 2).ReservedUntil)
		assert.Equal(t, now.Add(30*time.Minute), *f.artwork(t, 2).ReservedUntil)
	})

	t.Run("hold extended to session close", func(t *testing.T) {
		f := newFixture(t)
		f.svc.now = func() time.Time { return now }
		f.gw.expiresAt = now.Add(31 * time.Minute)
		o := f.placeOrder(t, 7, 2)
		f.initiate(t, o)

		require.NotNil(t, f.artwork(t, 2).ReservedUntil)
		assert.Equal(t, now.Add(31*time.Minute), *f.artwork(t, 2).ReservedUntil)
	})
}

func TestInitiatePaymentProviderFailureLeavesOrderUntouched(t *testing.T) {
	f := newFixture(t)
	f.gw.initErr = errors.New("stripe: card_declined (request req_123)")
	o := f.placeOrder(t, 7, 2)

	_, err := f.svc.InitiatePayment(context.Background(), 7, o.ID, "stripe")
	require.Error(t, err)
	assert.Equal(t, apperr.KindExternalProvider, apperr.KindOf(err))
	assert.Equal(t, "Payment failed, please retry", apperr.Message(err))

	stored := f.order(t, o.ID)
	assert.Equal(t, order.StatusPending, stored.Status)
	assert.Empty(t, stored.PaymentReference)
	assert.True(t, f.artwork(t, 2).IsAvailable)
}

func TestInitiatePaymentConflictingReservation(t *testing.T) {
	f := newFixture(t)
	first := f.placeOrder(t, 7, 2)
	second := f.placeOrder(t, 8, 2)
	f.initiate(t, first)

	_, err := f.svc.InitiatePayment(context.Background(), 8, second.ID, "stripe")
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, "Artwork is no longer available", apperr.Message(err))
	assert.Equal(t, order.StatusPending, f.order(t, second.ID).Status)
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, 7, 1, 2)
	in := f.initiate(t, o)
	result := gateway.Result{Provider: gateway.Stripe, TrackingID: in.TrackingID, Status: gateway.StatusSuccess, Amount: decimal.RequireFromString("350"), Currency: "usd", Method: "card"}

	first, err := f.engine.Reconcile(context.Background(), result)
	require.NoError(t, err)
	second, err := f.engine.Reconcile(context.Background(), result)
	require.NoError(t, err)
	f.engine.Wait()

	assert.True(t, first.Applied)
	assert.False(t, second.Applied)
	require.NotNil(t, first.Payment)
	require.NotNil(t, second.Payment)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
	assert.Equal(t, 1, f.repo.Count())
	assert.Equal(t, order.StatusPaid, f.order(t, o.ID).Status)
	assert.Equal(t, "USD", first.Payment.Currency)

	assert.Len(t, f.notifier.sent, 1)
	assert.Len(t, f.publisher.published, 1)
	assert.Len(t, f.uploader.ids, 1)
}

func TestReconcileConcurrentDeliveriesRecordOnce(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, 7, 2)
	in := f.initiate(t, o)
	result := gateway.Result{Provider: gateway.Stripe, TrackingID: in.TrackingID, Status: gateway.StatusSuccess}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := f.engine.Reconcile(context.Background(), result)
			assert.NoError(t, err)
			if rec.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	f.engine.Wait()

	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, f.repo.Count())
	assert.Len(t, f.publisher.published, 1)
}

func TestReconcileSuccessMarksUniqueArtworkSold(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, 7, 1, 2)
	in := f.initiate(t, o)

	_, err := f.engine.Reconcile(context.Background(), gateway.Result{Provider: gateway.Stripe, TrackingID: in.TrackingID, Status: gateway.StatusSuccess})
	require.NoError(t, err)
	f.engine.Wait()

	sold := f.artwork(t, 2)
	assert.False(t, sold.IsAvailable)
	assert.Nil(t, sold.ReservedUntil)
	assert.True(t, f.artwork(t, 1).IsAvailable)

	released, err := f.artworks.ReleaseExpired(context.Background(), time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, released, "a sold artwork must not return to sale")
}

func TestReconcileFallsBackToOrderTotalAndFormatsTransactionID(t *testing.T) {
	f := newFixture(t)
	f.engine.now = func() time.Time { return time.Date(2026, 3, 1, 10, 15, 0, 0, time.FixedZone("EAT", 3*3600)) }
	o := f.placeOrder(t, 7, 1)
	in := f.initiate(t, o)

	rec, err := f.engine.Reconcile(context.Background(), gateway.Result{Provider: gateway.Mock, TrackingID: in.TrackingID, Status: gateway.StatusSuccess})
	require.NoError(t, err)
	f.engine.Wait()

	require.NotNil(t, rec.Payment)
	assert.True(t, rec.Payment.Amount.Equal(decimal.RequireFromString("50")))
	assert.Equal(t, "USD", rec.Payment.Currency)
	assert.Equal(t, "mock", rec.Payment.PaymentMethod)
	assert.Equal(t, fmt.Sprintf("PAG_%d_20260301_071500", o.ID), rec.Payment.TransactionID)
}

func TestReconcileFailureReleasesReservationAndAudits(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, 7, 2)
	in := f.initiate(t, o)
	require.False(t, f.artwork(t, 2).IsAvailable)

	rec, err := f.engine.Reconcile(context.Background(), gateway.Result{Provider: gateway.Stripe, TrackingID: in.TrackingID, Status: gateway.StatusFailed, Detail: "expired"})
	require.NoError(t, err)
	assert.True(t, rec.Applied)
	assert.Equal(t, order.StatusFailed, rec.OrderStatus)
	assert.True(t, f.artwork(t, 2).IsAvailable)
	assert.Zero(t, f.repo.Count())

	attempts := f.repo.Attempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, in.TrackingID, attempts[0].Reference)
	assert.Equal(t, "expired", attempts[0].Detail)

	// A capture reported after the failure still settles the order.
	rec, err = f.engine.Reconcile(context.Background(), gateway.Result{Provider: gateway.Stripe, TrackingID: in.TrackingID, Status: gateway.StatusSuccess})
	require.NoError(t, err)
	f.engine.Wait()
	assert.Equal(t, order.StatusPaid, rec.OrderStatus)
	assert.False(t, f.artwork(t, 2).IsAvailable)
}

func TestReconcileFailureAfterPaymentIsIgnored(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, 7, 2)
	in := f.initiate(t, o)
	_, err := f.engine.Reconcile(context.Background(), gateway.Result{Provider: gateway.Stripe, TrackingID: in.TrackingID, Status: gateway.StatusSuccess})
	require.NoError(t, err)
	f.engine.Wait()

	rec, err := f.engine.Reconcile(context.Background(), gateway.Result{Provider: gateway.Stripe, TrackingID: in.TrackingID, Status: gateway.StatusFailed})
	require.NoError(t, err)
	assert.False(t, rec.Applied)
	assert.Equal(t, order.StatusPaid, f.order(t, o.ID).Status)
	assert.Empty(t, f.repo.Attempts())
}

func TestReconcilePendingMovesToProcessing(t *testing.T) {
	f := newFixture(t)
	f.gw.processing = false
	o := f.placeOrder(t, 7, 1)
	in := f.initiate(t, o)

	rec, err := f.engine.Reconcile(context.Background(), gateway.Result{Provider: gateway.DPO, TrackingID: in.TrackingID, Status: gateway.StatusPending})
	require.NoError(t, err)
	assert.True(t, rec.Applied)
	assert.Equal(t, order.StatusProcessing, f.order(t, o.ID).Status)

	rec, err = f.engine.Reconcile(context.Background(), gateway.Result{Provider: gateway.DPO, TrackingID: in.TrackingID, Status: gateway.StatusPending})
	require.NoError(t, err)
	assert.False(t, rec.Applied)
}

func TestReconcileUnknownReference(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Reconcile(context.Background(), gateway.Result{Provider: gateway.Stripe, TrackingID: "cs_unknown", Status: gateway.StatusSuccess})
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestReconcileIgnoresEchoedOrderIDForForeignReference(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, 7, 2)
	in := f.initiate(t, o)

	_, err := f.engine.Reconcile(context.Background(), gateway.Result{
		Provider: gateway.Stripe, TrackingID: "cs_forged", OrderID: o.ID, Status: gateway.StatusSuccess,
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	stored := f.order(t, o.ID)
	assert.Equal(t, order.StatusProcessing, stored.Status)
	assert.Equal(t, in.TrackingID, stored.PaymentReference)
}

func TestReconcileFallsBackToEchoedOrderIDBeforeAttach(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, 7, 1)

	res, err := f.engine.Reconcile(context.Background(), gateway.Result{
		Provider: gateway.Stripe, TrackingID: "cs_early", OrderID: o.ID, Status: gateway.StatusSuccess,
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, order.StatusPaid, f.order(t, o.ID).Status)
}

func TestFollowUpStepsAreIndependent(t *testing.T) {
	f := newFixture(t)
	f.uploader.err = errors.New("cloudinary unavailable")
	o := f.placeOrder(t, 7, 2)
	in := f.initiate(t, o)

	rec, err := f.engine.Reconcile(context.Background(), gateway.Result{Provider: gateway.Stripe, TrackingID: in.TrackingID, Status: gateway.StatusSuccess})
	require.NoError(t, err)
	f.engine.Wait()

	require.Len(t, f.notifier.sent, 1)
	sent := f.notifier.sent[0]
	assert.Equal(t, "grace@example.com", sent.CustomerEmail)
	assert.NotEmpty(t, sent.Attachment)
	assert.Equal(t, "Receipt_"+rec.Payment.TransactionID+".pdf", sent.AttachmentName)
	assert.Empty(t, sent.ReceiptURL)
	require.Len(t, f.publisher.published, 1)
	assert.Equal(t, []int64{2}, f.publisher.published[0].ArtworkIDs)

	p, err := f.repo.GetByReference(context.Background(), in.TrackingID)
	require.NoError(t, err)
	assert.Empty(t, p.ReceiptURL)
}

func TestReceiptURLIsBackfilled(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, 7, 1)
	in := f.initiate(t, o)

	rec, err := f.engine.Reconcile(context.Background(), gateway.Result{Provider: gateway.Stripe, TrackingID: in.TrackingID, Status: gateway.StatusSuccess})
	require.NoError(t, err)
	f.engine.Wait()

	want := "https://files.example.com/Receipt_" + rec.Payment.TransactionID
	p, err := f.repo.GetByReference(context.Background(), in.TrackingID)
	require.NoError(t, err)
	assert.Equal(t, want, p.ReceiptURL)
	assert.Equal(t, want, f.notifier.sent[0].ReceiptURL)
	assert.Greater(t, f.uploader.size, 0)
}

func TestVerifyPaymentAsksProviderOnce(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, 7, 1)
	in := f.initiate(t, o)

	rec, err := f.svc.VerifyCustomerPayment(context.Background(), in.TrackingID, 7)
	require.NoError(t, err)
	assert.True(t, rec.Applied)
	assert.Equal(t, order.StatusPaid, rec.OrderStatus)

	rec, err = f.svc.VerifyPayment(context.Background(), in.TrackingID)
	require.NoError(t, err)
	assert.False(t, rec.Applied)
	assert.Equal(t, 1, f.gw.calls())
	f.engine.Wait()
}

func TestVerifyCustomerPaymentChecksOwnership(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, 7, 1)
	in := f.initiate(t, o)

	_, err := f.svc.VerifyCustomerPayment(context.Background(), in.TrackingID, 8)
	require.Error(t, err)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	_, err = f.svc.VerifyCustomerPayment(context.Background(), "nope", 7)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Zero(t, f.gw.calls())
}

func TestVerifyPaymentProviderError(t *testing.T) {
	f := newFixture(t)
	f.gw.verifyErr = errors.New("503 from provider")
	o := f.placeOrder(t, 7, 1)
	in := f.initiate(t, o)

	_, err := f.svc.VerifyPayment(context.Background(), in.TrackingID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindExternalProvider, apperr.KindOf(err))
	assert.Equal(t, order.StatusProcessing, f.order(t, o.ID).Status)
}

func TestHandleWebhook(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, 7, 2)
	in := f.initiate(t, o)
	ctx := context.Background()

	_, err := f.svc.HandleWebhook(ctx, "stripe", []byte(`{}`), "bad")
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.svc.HandleWebhook(ctx, "unknown", []byte(`{}`), "")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	f.gw.eventErr = errors.New("decode stripe event: unexpected EOF")
	ack, err := f.svc.HandleWebhook(ctx, "stripe", []byte(`{`), "sig")
	require.NoError(t, err)
	assert.True(t, ack.Received)
	assert.NotEmpty(t, ack.Error)

	f.gw.eventErr = nil
	f.gw.event = gateway.Event{Type: "customer.created", Ignored: true}
	ack, err = f.svc.HandleWebhook(ctx, "stripe", []byte(`{}`), "sig")
	require.NoError(t, err)
	assert.Equal(t, WebhookAck{Received: true}, ack)

	f.gw.event = gateway.Event{Type: "checkout.session.completed", TrackingID: "cs_missing",
		Result: &gateway.Result{Provider: gateway.Stripe, TrackingID: "cs_missing", Status: gateway.StatusSuccess}}
	ack, err = f.svc.HandleWebhook(ctx, "stripe", []byte(`{}`), "sig")
	require.NoError(t, err)
	assert.True(t, ack.Received)
	assert.Equal(t, "Payment reference not found", ack.Error)

	f.gw.event = gateway.Event{Type: "checkout.session.completed", TrackingID: in.TrackingID,
		Result: &gateway.Result{Provider: gateway.Stripe, TrackingID: in.TrackingID, Status: gateway.StatusSuccess}}
	for i := 0; i < 2; i++ {
		ack, err = f.svc.HandleWebhook(ctx, "stripe", []byte(`{}`), "sig")
		require.NoError(t, err)
		assert.Equal(t, WebhookAck{Received: true}, ack)
	}
	f.engine.Wait()
	assert.Equal(t, 1, f.repo.Count())
	assert.Equal(t, order.StatusPaid, f.order(t, o.ID).Status)
	assert.Zero(t, f.gw.calls(), "events carrying a result are not re-verified")
}

func TestHandleWebhookVerifiesEventsWithoutResult(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, 7, 1)
	in := f.initiate(t, o)
	f.gw.event = gateway.Event{Type: "PAYMENT.CAPTURE.COMPLETED", TrackingID: in.TrackingID}

	ack, err := f.svc.HandleWebhook(context.Background(), "stripe", []byte(`{}`), "sig")
	require.NoError(t, err)
	assert.Equal(t, WebhookAck{Received: true}, ack)
	assert.Equal(t, 1, f.gw.calls())
	f.engine.Wait()
	assert.Equal(t, order.StatusPaid, f.order(t, o.ID).Status)
}

func TestCallbacksAcknowledgeErrors(t *testing.T) {
	f := newFixture(t)
	ack := f.svc.HandleDPOCallback(context.Background(), "")
	assert.True(t, ack.Received)
	assert.Equal(t, "Missing tracking id", ack.Error)

	ack = f.svc.HandlePesapalIPN(context.Background(), "unknown")
	assert.True(t, ack.Received)
	assert.Equal(t, "Payment not found", ack.Error)
}

func TestGetPaymentReport(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, 7, 1)
	in := f.initiate(t, o)

	_, err := f.svc.GetPaymentReport(context.Background(), in.TrackingID, 7)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.svc.VerifyPayment(context.Background(), in.TrackingID)
	require.NoError(t, err)
	f.engine.Wait()

	report, err := f.svc.GetPaymentReport(context.Background(), in.TrackingID, 7)
	require.NoError(t, err)
	assert.Equal(t, o.ID, report.Order.ID)
	assert.Equal(t, in.TrackingID, report.Payment.PaymentReference)

	_, err = f.svc.GetPaymentReport(context.Background(), in.TrackingID, 8)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
}

func TestReconcileAwaiting(t *testing.T) {
	f := newFixture(t)
	paid := f.placeOrder(t, 7, 1)
	f.initiate(t, paid)
	f.gw.processing = false
	waiting := f.placeOrder(t, 8, 2)
	f.initiate(t, waiting)
	f.placeOrder(t, 7, 1) // never initiated, nothing to verify

	assert.Zero(t, f.svc.ReconcileAwaiting(context.Background()), "fresh orders are left alone")

	f.svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	assert.Equal(t, 2, f.svc.ReconcileAwaiting(context.Background()))
	f.engine.Wait()
	assert.Equal(t, order.StatusPaid, f.order(t, paid.ID).Status)
	assert.Equal(t, order.StatusPaid, f.order(t, waiting.ID).Status)
	assert.Equal(t, 2, f.gw.calls())
}
