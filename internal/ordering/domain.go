// internal/ordering/domain.go
package ordering

import (
	"errors"
	"time"
)

var (
	ErrRecordNotFound    = errors.New("record not found")
	ErrInsufficientStock = errors.New("not enough stock for this order")
	ErrOrderNotFound     = errors.New("order not found")
	ErrValidation        = errors.New("invalid order")
)

const OrdersCollection = "orders"

// Order is a placed order for a quantity of one record.
type Order struct {
	ID       string    `json:"id,omitempty"`
	RecordID string    `json:"recordId"`
	Quantity int       `json:"quantity"`
	Created  time.Time `json:"created"`
}

// PlaceOrderInput is the body of an order request.
type PlaceOrderInput struct {
	RecordID string `json:"recordId" validate:"required"`
	Quantity int    `json:"quantity" validate:"min=1"`
}
