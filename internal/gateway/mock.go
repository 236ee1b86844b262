package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MockGateway approves every payment. It replaces the real providers in
// local development.
type MockGateway struct {
	returnURL string
	currency  string
	now       func() time.Time
}

func NewMockGateway(returnURL, currency string) *MockGateway {
	return &MockGateway{returnURL: returnURL, currency: currency, now: time.Now}
}

func (g *MockGateway) Provider() Provider { return Mock }

func (g *MockGateway) Initiate(_ context.Context, c Checkout) (Session, error) {
	id := fmt.Sprintf("mock_%d_%d", g.now().Unix(), c.OrderID)
	return Session{TrackingID: id, RedirectURL: g.returnURL + "?trackingId=" + id, Processing: true}, nil
}

// Verify reports success. The amount is left zero so reconciliation falls
// back to the order total.
func (g *MockGateway) Verify(_ context.Context, trackingID string) (Result, error) {
	r := Result{
		Provider:   Mock,
		TrackingID: trackingID,
		Status:     StatusSuccess,
		Currency:   g.currency,
		Method:     "mock",
		Detail:     "approved",
	}
	if parts := strings.Split(trackingID, "_"); len(parts) == 3 {
		r.OrderID, _ = strconv.ParseInt(parts[2], 10, 64)
	}
	return r, nil
}
