package gateway

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"

	"github.com/wichananm65/art-market-backend/internal/config"
)

// DPO result codes.
const (
	dpoOK          = "000"
	dpoNotPaidYet  = "900"
	dpoPendingBank = "003"
)

const (
	dpoAPIPath    = "/API/v6/"
	dpoDefaultPTL = 5 * time.Hour
)

type DPOGateway struct {
	client       *resty.Client
	paymentPage  string
	companyToken string
	serviceType  string
	redirectURL  string
	backURL      string
	currency     string
	cb           *gobreaker.CircuitBreaker[any]
	now          func() time.Time
}

func NewDPOGateway(cfg config.DPOConfig) *DPOGateway {
	return &DPOGateway{
		client: resty.New().
			SetBaseURL(dpoBaseURL(cfg.APIURL)).
			SetTimeout(20*time.Second).
			SetHeader("Content-Type", "application/xml"),
		paymentPage:  cfg.PaymentPageURL,
		companyToken: cfg.CompanyToken,
		serviceType:  cfg.ServiceType,
		redirectURL:  cfg.RedirectURL,
		backURL:      cfg.BackURL,
		currency:     cfg.Currency,
		cb:           newBreaker("dpo"),
		now:          time.Now,
	}
}

// dpoBaseURL accepts the API root with or without the versioned path.
func dpoBaseURL(apiURL string) string {
	return strings.TrimSuffix(strings.TrimRight(apiURL, "/"), strings.TrimRight(dpoAPIPath, "/"))
}

type dpoTransaction struct {
	PaymentAmount     string `xml:"PaymentAmount"`
	PaymentCurrency   string `xml:"PaymentCurrency"`
	CompanyRef        string `xml:"CompanyRef"`
	RedirectURL       string `xml:"RedirectURL"`
	BackURL           string `xml:"BackURL"`
	CompanyRefUnique  int    `xml:"CompanyRefUnique"`
	CustomerEmail     string `xml:"customerEmail,omitempty"`
	CustomerFirstName string `xml:"customerFirstName,omitempty"`
	CustomerLastName  string `xml:"customerLastName,omitempty"`
	PTL               int    `xml:"PTL"`
	PTLType           string `xml:"PTLtype"`
}

type dpoService struct {
	ServiceType        string `xml:"ServiceType"`
	ServiceDescription string `xml:"ServiceDescription"`
	ServiceDate        string `xml:"ServiceDate"`
}

type dpoCreateTokenRequest struct {
	XMLName      xml.Name       `xml:"API3G"`
	CompanyToken string         `xml:"CompanyToken"`
	Request      string         `xml:"Request"`
	Transaction  dpoTransaction `xml:"Transaction"`
	Services     []dpoService   `xml:"Services>Service"`
}

type dpoVerifyTokenRequest struct {
	XMLName          xml.Name `xml:"API3G"`
	CompanyToken     string   `xml:"CompanyToken"`
	Request          string   `xml:"Request"`
	TransactionToken string   `xml:"TransactionToken"`
}

// dpoResponse covers both createToken and verifyToken answers. Some
// responses wrap the payload in a second API3G element.
type dpoResponse struct {
	Result               string       `xml:"Result"`
	ResultExplanation    string       `xml:"ResultExplanation"`
	TransToken           string       `xml:"TransToken"`
	TransactionAmount    string       `xml:"TransactionAmount"`
	TransactionCurrency  string       `xml:"TransactionCurrency"`
	TransactionApproval  string       `xml:"TransactionApproval"`
	CustomerCreditType   string       `xml:"CustomerCreditType"`
	AccRef               string       `xml:"AccRef"`
	Nested               *dpoResponse `xml:"API3G"`
}

func (r dpoResponse) unwrap() dpoResponse {
	if r.Result == "" && r.Nested != nil {
		return r.Nested.unwrap()
	}
	return r
}

func (g *DPOGateway) Provider() Provider { return DPO }

// paymentTimeLimit sizes the token lifetime in whole minutes so the hosted
// page closes no later than the artwork hold.
func (g *DPOGateway) paymentTimeLimit(now time.Time, c Checkout) (int, time.Time) {
	if c.ExpiresAt.IsZero() {
		return int(dpoDefaultPTL / time.Minute), now.Add(dpoDefaultPTL)
	}
	minutes := int(c.ExpiresAt.Sub(now) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return minutes, now.Add(time.Duration(minutes) * time.Minute)
}

func (g *DPOGateway) Initiate(ctx context.Context, c Checkout) (Session, error) {
	now := g.now()
	ptl, expiresAt := g.paymentTimeLimit(now, c)
	req := dpoCreateTokenRequest{
		CompanyToken: g.companyToken,
		Request:      "createToken",
		Transaction: dpoTransaction{
			PaymentAmount:     c.Amount.StringFixed(2),
			PaymentCurrency:   g.currency,
			CompanyRef:        fmt.Sprintf("%d-%d", c.OrderID, now.Unix()),
			RedirectURL:       g.redirectURL,
			BackURL:           g.backURL,
			CompanyRefUnique:  1,
			CustomerEmail:     c.Customer.Email,
			CustomerFirstName: c.Customer.FirstName,
			CustomerLastName:  c.Customer.LastName,
			PTL:               ptl,
			PTLType:           "minutes",
		},
		Services: []dpoService{{
			ServiceType:        g.serviceType,
			ServiceDescription: fmt.Sprintf("Order #%d", c.OrderID),
			ServiceDate:        now.UTC().Format("2006/01/02 15:04"),
		}},
	}
	res, err := g.call(ctx, req)
	if err != nil {
		return Session{}, fmt.Errorf("dpo create token: %w", err)
	}
	if res.Result != dpoOK || res.TransToken == "" {
		return Session{}, fmt.Errorf("dpo create token: result %s: %s", res.Result, res.ResultExplanation)
	}
	return Session{
		TrackingID:  res.TransToken,
		RedirectURL: g.paymentPage + "?ID=" + res.TransToken,
		ExpiresAt:   expiresAt,
	}, nil
}

func (g *DPOGateway) Verify(ctx context.Context, trackingID string) (Result, error) {
	res, err := g.call(ctx, dpoVerifyTokenRequest{
		CompanyToken:     g.companyToken,
		Request:          "verifyToken",
		TransactionToken: trackingID,
	})
	if err != nil {
		return Result{}, fmt.Errorf("dpo verify token: %w", err)
	}

	var status Status
	switch res.Result {
	case dpoOK:
		status = StatusSuccess
	case dpoNotPaidYet, dpoPendingBank:
		status = StatusPending
	default:
		status = StatusFailed
	}
	amount, _ := decimal.NewFromString(strings.TrimSpace(res.TransactionAmount))
	currency := res.TransactionCurrency
	if currency == "" {
		currency = g.currency
	}
	method := res.CustomerCreditType
	if method == "" {
		method = "dpo"
	}
	return Result{
		Provider:   DPO,
		TrackingID: trackingID,
		Status:     status,
		Amount:     amount,
		Currency:   strings.ToUpper(currency),
		Method:     method,
		Detail:     res.ResultExplanation,
	}, nil
}

func (g *DPOGateway) call(ctx context.Context, payload any) (dpoResponse, error) {
	body, err := xml.Marshal(payload)
	if err != nil {
		return dpoResponse{}, err
	}
	raw, err := execute(g.cb, func() ([]byte, error) {
		resp, err := g.client.R().
			SetContext(ctx).
			SetBody(append([]byte(xml.Header), body...)).
			Post(dpoAPIPath)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
		}
		return resp.Body(), nil
	})
	if err != nil {
		return dpoResponse{}, err
	}
	var out dpoResponse
	if err := xml.Unmarshal(raw, &out); err != nil {
		return dpoResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return out.unwrap(), nil
}
