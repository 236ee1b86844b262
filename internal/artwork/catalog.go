package artwork

import "context"

// Catalog is the read/flip surface other packages use instead of the
// repository.
type Catalog struct {
	repo Repository
}

func NewCatalog(repo Repository) *Catalog {
	return &Catalog{repo: repo}
}

func (c *Catalog) GetAvailability(ctx context.Context, id int64) (Availability, error) {
	a, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return Availability{}, err
	}
	return a.Availability(), nil
}

// SetSold flips a single artwork outside any payment transaction. Payment
// success marks artworks sold with MarkSold inside the ledger transaction.
func (c *Catalog) SetSold(ctx context.Context, id int64) error {
	return c.repo.SetSold(ctx, id)
}
