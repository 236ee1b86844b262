// Package payment starts provider checkouts for orders and reconciles the
// providers' asynchronous verdicts into the payment ledger, the order status
// and artwork availability.
package payment

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wichananm65/art-market-backend/internal/order"
)

const (
	StatusCompleted = "COMPLETED"
	AttemptFailed   = "FAILED"
)

var (
	ErrNotFound = errors.New("payment not found")
	// ErrAlreadyReconciled reports that a ledger row exists for the payment
	// reference. It is a successful no-op for callers.
	ErrAlreadyReconciled = errors.New("payment already reconciled")
)

// Payment is a ledger row. There is at most one per PaymentReference and only
// ReceiptURL changes after it is written.
type Payment struct {
	ID               int64           `json:"id"`
	OrderID          int64           `json:"orderId"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	PaymentMethod    string          `json:"paymentMethod"`
	PaymentProvider  string          `json:"paymentProvider"`
	TransactionID    string          `json:"transactionId"`
	PaymentReference string          `json:"paymentReference"`
	Status           string          `json:"status"`
	ReceiptURL       string          `json:"receiptUrl,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// Attempt is the audit record of a payment the provider reported as failed.
type Attempt struct {
	ID        int64     `json:"id"`
	OrderID   int64     `json:"orderId"`
	Provider  string    `json:"provider"`
	Reference string    `json:"reference"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"createdAt"`
}

// TransactionID formats the merchant transaction id printed on receipts.
func TransactionID(orderID int64, at time.Time) string {
	return fmt.Sprintf("PAG_%d_%s", orderID, at.UTC().Format("20060102_150405"))
}

type Report struct {
	Payment Payment     `json:"payment"`
	Order   order.Order `json:"order"`
}
