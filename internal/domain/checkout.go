package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartLine is one entry of the cart snapshot taken at checkout submission.
// Quantities and product references are frozen; prices are not, they are
// captured again at commit time.
type CartLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// PendingCheckout is a staged, unconfirmed purchase attempt. ClaimedAt is the
// idempotency marker: it transitions nil -> non-nil at most once per
// successful commit, and is cleared back to nil only when a commit attempt is
// rolled back. OrderID is set once the attempt has been committed.
type PendingCheckout struct {
	ID              string          `json:"id"`
	CustomerID      *string         `json:"customer_id,omitempty"`
	Cart            []CartLine      `json:"cart"`
	CustomerName    string          `json:"customer_name"`
	CustomerEmail   string          `json:"customer_email"`
	DeliveryAddress string          `json:"delivery_address"`
	PhoneNumber     string          `json:"phone_number"`
	Amount          decimal.Decimal `json:"amount"`
	CreatedAt       time.Time       `json:"created_at"`
	ClaimedAt       *time.Time      `json:"claimed_at,omitempty"`
	OrderID         *string         `json:"order_id,omitempty"`
}

// Committed reports whether the attempt already produced an order.
func (p *PendingCheckout) Committed() bool {
	return p.OrderID != nil
}
