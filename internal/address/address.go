package address

// Address is a customer's shipping address as referenced by orders.
type Address struct {
	ID         int64  `json:"id"`
	CustomerID int64  `json:"customerId"`
	Label      string `json:"label"`
	Line       string `json:"line"`
	Phone      string `json:"phone"`
}
