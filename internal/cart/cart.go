package cart

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cart is a customer's single active cart. TotalAmount is derived from the
// lines after every mutation and never taken from the caller.
type Cart struct {
	ID          int64           `json:"id"`
	CustomerID  int64           `json:"customerId"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Items       []Item          `json:"items"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Item is one cart line. Price is the catalog price captured when the line
// was last added to.
type Item struct {
	ID        int64           `json:"id"`
	CartID    int64           `json:"cartId"`
	ArtworkID int64           `json:"artworkId"`
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// NewItem is the line added by AddItem.
type NewItem struct {
	ArtworkID int64
	Title     string
	Quantity  int
	Price     decimal.Decimal
	Unique    bool
}

func (i Item) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ComputeTotal sums price × quantity over the lines.
func (c Cart) ComputeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range c.Items {
		total = total.Add(it.Subtotal())
	}
	return total
}

func (c Cart) IsEmpty() bool { return len(c.Items) == 0 }

func emptyCart(customerID int64) Cart {
	return Cart{CustomerID: customerID, TotalAmount: decimal.Zero, Items: []Item{}}
}
