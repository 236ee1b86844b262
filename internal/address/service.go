package address

import "context"

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// EnsureOwned returns the address when it exists and belongs to customerID.
func (s *Service) EnsureOwned(ctx context.Context, customerID, addressID int64) (Address, error) {
	a, err := s.repo.GetByID(ctx, addressID)
	if err != nil {
		return Address{}, err
	}
	if a.CustomerID != customerID {
		return Address{}, ErrNotOwner
	}
	return a, nil
}
