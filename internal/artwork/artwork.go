package artwork

import (
	"time"

	"github.com/shopspring/decimal"
)

// Artwork is the catalog row the checkout pipeline reads and flips. A sold
// unique artwork stays unavailable permanently; a reserved one carries
// ReservedUntil and the order holding it.
type Artwork struct {
	ID              int64           `json:"id"`
	Title           string          `json:"title"`
	Price           decimal.Decimal `json:"price"`
	Currency        string          `json:"currency"`
	IsUnique        bool            `json:"isUnique"`
	IsAvailable     bool            `json:"isAvailable"`
	ReservedUntil   *time.Time      `json:"reservedUntil,omitempty"`
	ReservedOrderID *int64          `json:"-"`
}

// Availability is the catalog view consumed by cart and order.
type Availability struct {
	ArtworkID   int64           `json:"artworkId"`
	Title       string          `json:"title"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	IsUnique    bool            `json:"isUnique"`
	IsAvailable bool            `json:"isAvailable"`
}

func (a Artwork) Availability() Availability {
	return Availability{
		ArtworkID:   a.ID,
		Title:       a.Title,
		Price:       a.Price,
		Currency:    a.Currency,
		IsUnique:    a.IsUnique,
		IsAvailable: a.IsAvailable,
	}
}
