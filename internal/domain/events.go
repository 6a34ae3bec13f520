package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderConfirmedEvent is published after a reconciliation commit. Delivery is
// best effort; losing one costs a confirmation email, never an order.
type OrderConfirmedEvent struct {
	OrderID       string          `json:"order_id"`
	CheckoutID    string          `json:"checkout_id"`
	CustomerName  string          `json:"customer_name"`
	CustomerEmail string          `json:"customer_email"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Timestamp     time.Time       `json:"timestamp"`
}
