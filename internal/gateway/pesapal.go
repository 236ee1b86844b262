package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"

	"github.com/wichananm65/art-market-backend/internal/config"
)

type PesapalGateway struct {
	client         *resty.Client
	consumerKey    string
	consumerSecret string
	callbackURL    string
	notificationID string
	cb             *gobreaker.CircuitBreaker[any]
	now            func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewPesapalGateway(cfg config.PesapalConfig) *PesapalGateway {
	return &PesapalGateway{
		client: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetTimeout(20*time.Second).
			SetHeader("Accept", "application/json"),
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		callbackURL:    cfg.CallbackURL,
		notificationID: cfg.NotificationID,
		cb:             newBreaker("pesapal"),
		now:            time.Now,
	}
}

type pesapalError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type pesapalTokenResponse struct {
	Token      string        `json:"token"`
	ExpiryDate string        `json:"expiryDate"`
	Error      *pesapalError `json:"error"`
}

type pesapalBilling struct {
	EmailAddress string `json:"email_address"`
	PhoneNumber  string `json:"phone_number"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
}

type pesapalOrderRequest struct {
	ID             string         `json:"id"`
	Currency       string         `json:"currency"`
	Amount         float64        `json:"amount"`
	Description    string         `json:"description"`
	CallbackURL    string         `json:"callback_url"`
	NotificationID string         `json:"notification_id"`
	BillingAddress pesapalBilling `json:"billing_address"`
}

type pesapalOrderResponse struct {
	OrderTrackingID   string        `json:"order_tracking_id"`
	MerchantReference string        `json:"merchant_reference"`
	RedirectURL       string        `json:"redirect_url"`
	Error             *pesapalError `json:"error"`
}

type pesapalStatusResponse struct {
	PaymentMethod            string        `json:"payment_method"`
	Amount                   float64       `json:"amount"`
	Currency                 string        `json:"currency"`
	PaymentStatusDescription string        `json:"payment_status_description"`
	Description              string        `json:"description"`
	MerchantReference        string        `json:"merchant_reference"`
	ConfirmationCode         string        `json:"confirmation_code"`
	Error                    *pesapalError `json:"error"`
}

func (g *PesapalGateway) Provider() Provider { return Pesapal }

func (g *PesapalGateway) Initiate(ctx context.Context, c Checkout) (Session, error) {
	token, err := g.accessToken(ctx)
	if err != nil {
		return Session{}, err
	}
	amount, _ := c.Amount.Round(2).Float64()
	phone := c.Customer.Phone
	if phone == "" {
		phone = "000000000"
	}
	body := pesapalOrderRequest{
		ID:             uuid.NewString(),
		Currency:       c.Currency,
		Amount:         amount,
		Description:    c.Description,
		CallbackURL:    g.callbackURL,
		NotificationID: g.notificationID,
		BillingAddress: pesapalBilling{
			EmailAddress: c.Customer.Email,
			PhoneNumber:  phone,
			FirstName:    c.Customer.FirstName,
			LastName:     c.Customer.LastName,
		},
	}

	out, err := execute(g.cb, func() (pesapalOrderResponse, error) {
		var res pesapalOrderResponse
		resp, err := g.client.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetBody(body).
			SetResult(&res).
			Post("/api/Transactions/SubmitOrderRequest")
		if err != nil {
			return res, err
		}
		if resp.IsError() {
			return res, fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
		}
		return res, nil
	})
	if err != nil {
		return Session{}, fmt.Errorf("pesapal submit order: %w", err)
	}
	if out.Error != nil && out.Error.Message != "" {
		return Session{}, fmt.Errorf("pesapal submit order: %s", out.Error.Message)
	}
	if out.OrderTrackingID == "" || out.RedirectURL == "" {
		return Session{}, fmt.Errorf("pesapal submit order: incomplete response")
	}
	return Session{TrackingID: out.OrderTrackingID, RedirectURL: out.RedirectURL, Processing: true}, nil
}

func (g *PesapalGateway) Verify(ctx context.Context, trackingID string) (Result, error) {
	token, err := g.accessToken(ctx)
	if err != nil {
		return Result{}, err
	}
	out, err := execute(g.cb, func() (pesapalStatusResponse, error) {
		var res pesapalStatusResponse
		resp, err := g.client.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetQueryParam("orderTrackingId", trackingID).
			SetResult(&res).
			Get("/api/Transactions/GetTransactionStatus")
		if err != nil {
			return res, err
		}
		if resp.IsError() {
			return res, fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
		}
		return res, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("pesapal transaction status: %w", err)
	}

	var status Status
	switch strings.ToLower(out.PaymentStatusDescription) {
	case "completed":
		status = StatusSuccess
	case "pending":
		status = StatusPending
	default:
		status = StatusFailed
	}
	return Result{
		Provider:   Pesapal,
		TrackingID: trackingID,
		Status:     status,
		Amount:     decimal.NewFromFloat(out.Amount),
		Currency:   strings.ToUpper(out.Currency),
		Method:     out.PaymentMethod,
		Detail:     out.PaymentStatusDescription,
	}, nil
}

// accessToken returns the cached bearer token, requesting a new one when it
// is missing or about to expire.
func (g *PesapalGateway) accessToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.token != "" && g.now().Before(g.tokenExpiry) {
		return g.token, nil
	}

	out, err := execute(g.cb, func() (pesapalTokenResponse, error) {
		var res pesapalTokenResponse
		resp, err := g.client.R().
			SetContext(ctx).
			SetBody(map[string]string{
				"consumer_key":    g.consumerKey,
				"consumer_secret": g.consumerSecret,
			}).
			SetResult(&res).
			Post("/api/Auth/RequestToken")
		if err != nil {
			return res, err
		}
		if resp.IsError() {
			return res, fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
		}
		return res, nil
	})
	if err != nil {
		return "", fmt.Errorf("pesapal authenticate: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("pesapal authenticate: no token received")
	}

	expiry := g.now().Add(4 * time.Minute)
	if t, err := time.Parse(time.RFC3339Nano, out.ExpiryDate); err == nil {
		expiry = t.Add(-30 * time.Second)
	}
	g.token, g.tokenExpiry = out.Token, expiry
	return g.token, nil
}
