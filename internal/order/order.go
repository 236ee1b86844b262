package order

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusPaid       Status = "PAID"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

var allStatuses = []Status{StatusPending, StatusProcessing, StatusPaid, StatusFailed, StatusCancelled}

// transitions lists the statuses reachable from each status. A capture
// reported after a failure still moves the order to PAID.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusPaid, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusPaid, StatusFailed, StatusCancelled},
	StatusFailed:     {StatusPaid},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status ends the checkout flow.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusFailed || s == StatusCancelled
}

func (s Status) Valid() bool {
	for _, v := range allStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// sourcesOf returns every status allowed to move to next.
func sourcesOf(next Status) []Status {
	var out []Status
	for _, s := range allStatuses {
		if s.CanTransitionTo(next) {
			out = append(out, s)
		}
	}
	return out
}

// Order is the frozen snapshot of a cart. Items and TotalAmount never change
// after checkout; only the status and payment fields do.
type Order struct {
	ID                int64           `json:"id"`
	CustomerID        int64           `json:"customerId"`
	ShippingAddressID *int64          `json:"shippingAddressId,omitempty"`
	TotalAmount       decimal.Decimal `json:"totalAmount"`
	Currency          string          `json:"currency"`
	Status            Status          `json:"status"`
	PaymentReference  string          `json:"paymentReference,omitempty"`
	PaymentProvider   string          `json:"paymentProvider,omitempty"`
	Items             []Item          `json:"items"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// Item is a copy of a cart line, not a reference to it.
type Item struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"orderId"`
	ArtworkID int64           `json:"artworkId"`
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

func (i Item) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func (o Order) ArtworkIDs() []int64 {
	ids := make([]int64, 0, len(o.Items))
	for _, it := range o.Items {
		ids = append(ids, it.ArtworkID)
	}
	return ids
}

// IsPayable reports whether a payment session may still be opened. Once a
// provider reference is attached the order is settled through that session
// alone.
func (o Order) IsPayable() bool { return o.Status == StatusPending && o.PaymentReference == "" }
