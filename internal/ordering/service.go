// internal/ordering/service.go
package ordering

import (
	"context"
)

// Service defines the interface for the ordering service.
type Service interface {
	PlaceOrder(ctx context.Context, in PlaceOrderInput) (*Order, error)
	GetOrder(ctx context.Context, id string) (*Order, error)
	// ListOrders returns orders in placement order, optionally for one record.
	ListOrders(ctx context.Context, recordID string) ([]*Order, error)
}

// Invalidator drops cached views of a record whose stock changed.
type Invalidator interface {
	InvalidateRecord(ctx context.Context, id, mbid string) error
}
