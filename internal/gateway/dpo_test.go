package gateway

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wichananm65/art-market-backend/internal/config"
)

func newDPOForTest(t *testing.T, respond func(req dpoCreateTokenRequest, raw []byte) string) *DPOGateway {
	return newDPOAt(t, "", respond)
}

// newDPOAt serves the DPO API and points the gateway at the server URL plus
// suffix, so both configured URL shapes are exercised.
func newDPOAt(t *testing.T, suffix string, respond func(req dpoCreateTokenRequest, raw []byte) string) *DPOGateway {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/API/v6/", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		var req dpoCreateTokenRequest
		_ = xml.Unmarshal(raw, &req)
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, respond(req, raw))
	}))
	t.Cleanup(srv.Close)
	g := NewDPOGateway(config.DPOConfig{
		APIURL:         srv.URL + suffix,
		PaymentPageURL: "https://secure.dpo.test/payv2.php",
		CompanyToken:   "company",
		ServiceType:    "3854",
		RedirectURL:    "https://shop.test/success",
		BackURL:        "https://shop.test/cancel",
		Currency:       "UGX",
	})
	g.now = func() time.Time { return time.Unix(1700000000, 0) }
	return g
}

func TestDPOInitiate(t *testing.T) {
	var got dpoCreateTokenRequest
	g := newDPOForTest(t, func(req dpoCreateTokenRequest, _ []byte) string {
		got = req
		return `<?xml version="1.0" encoding="utf-8"?><API3G><Result>000</Result><ResultExplanation>Transaction created</ResultExplanation><TransToken>TOKEN-1</TransToken></API3G>`
	})

	s, err := g.Initiate(context.Background(), Checkout{OrderID: 12, Amount: decimal.RequireFromString("150000")})
	require.NoError(t, err)
	assert.Equal(t, "TOKEN-1", s.TrackingID)
	assert.Equal(t, "https://secure.dpo.test/payv2.php?ID=TOKEN-1", s.RedirectURL)
	assert.False(t, s.Processing)

	assert.Equal(t, "createToken", got.Request)
	assert.Equal(t, "12-1700000000", got.Transaction.CompanyRef)
	assert.Equal(t, "150000.00", got.Transaction.PaymentAmount)
	assert.Equal(t, "UGX", got.Transaction.PaymentCurrency)
	assert.Equal(t, 300, got.Transaction.PTL)
	assert.Equal(t, "minutes", got.Transaction.PTLType)
	assert.Equal(t, time.Unix(1700000000, 0).Add(5*time.Hour), s.ExpiresAt)
	require.Len(t, got.Services, 1)
	assert.Equal(t, "Order #12", got.Services[0].ServiceDescription)
}

func TestDPOTokenLifetimeFollowsHold(t *testing.T) {
	now := time.Unix(1700000000, 0)
	var got dpoCreateTokenRequest
	g := newDPOForTest(t, func(req dpoCreateTokenRequest, _ []byte) string {
		got = req
		return `<API3G><Result>000</Result><TransToken>TOKEN-3</TransToken></API3G>`
	})

	s, err := g.Initiate(context.Background(), Checkout{OrderID: 3, Amount: decimal.NewFromInt(10), ExpiresAt: now.Add(30*time.Minute + 20*time.Second)})
	require.NoError(t, err)
	assert.Equal(t, 30, got.Transaction.PTL)
	assert.Equal(t, "minutes", got.Transaction.PTLType)
	assert.Equal(t, now.Add(30*time.Minute), s.ExpiresAt)
}

func TestDPOAcceptsVersionedAPIURL(t *testing.T) {
	for _, suffix := range []string{"", "/", "/API/v6", "/API/v6/"} {
		g := newDPOAt(t, suffix, func(dpoCreateTokenRequest, []byte) string {
			return `<API3G><Result>000</Result><TransToken>TOKEN-4</TransToken></API3G>`
		})
		s, err := g.Initiate(context.Background(), Checkout{OrderID: 4, Amount: decimal.NewFromInt(1)})
		require.NoError(t, err, suffix)
		assert.Equal(t, "TOKEN-4", s.TrackingID, suffix)
	}
}

func TestDPOInitiateRejected(t *testing.T) {
	g := newDPOForTest(t, func(dpoCreateTokenRequest, []byte) string {
		return `<API3G><Result>801</Result><ResultExplanation>Request missing company token</ResultExplanation></API3G>`
	})
	_, err := g.Initiate(context.Background(), Checkout{OrderID: 1, Amount: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "801")
}

func TestDPOVerifyResultCodes(t *testing.T) {
	for code, want := range map[string]Status{
		"000": StatusSuccess,
		"900": StatusPending,
		"003": StatusPending,
		"901": StatusFailed,
		"904": StatusFailed,
	} {
		code := code
		g := newDPOForTest(t, func(dpoCreateTokenRequest, []byte) string {
			return `<API3G><Result>` + code + `</Result><TransactionAmount>150000.00</TransactionAmount><TransactionCurrency>UGX</TransactionCurrency></API3G>`
		})
		r, err := g.Verify(context.Background(), "TOKEN-1")
		require.NoError(t, err)
		assert.Equal(t, want, r.Status, code)
		assert.True(t, r.Amount.Equal(decimal.RequireFromString("150000")))
	}
}

func TestDPOVerifyNestedEnvelope(t *testing.T) {
	g := newDPOForTest(t, func(_ dpoCreateTokenRequest, raw []byte) string {
		assert.Contains(t, string(raw), "<TransactionToken>TOKEN-2</TransactionToken>")
		return `<API3G><API3G><Result>000</Result><ResultExplanation>Transaction Paid</ResultExplanation></API3G></API3G>`
	})
	r, err := g.Verify(context.Background(), "TOKEN-2")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, r.Status)
	assert.Equal(t, "UGX", r.Currency)
}
