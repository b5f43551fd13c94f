// internal/ordering/implementation.go
package ordering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"recordstore/internal/logging"
	"recordstore/internal/metrics"
	"recordstore/internal/store"
	"recordstore/internal/validation"
)

// stockField is the record field holding quantity in stock.
const stockField = "qty"

var tracer = otel.Tracer("recordstore/ordering")

// service implements the Service interface.
type service struct {
	records     store.Collection
	orders      store.Collection
	invalidator Invalidator
	now         func() time.Time
}

// NewService creates a new ordering service instance.
func NewService(records, orders store.Collection, invalidator Invalidator) Service {
	return &service{
		records:     records,
		orders:      orders,
		invalidator: invalidator,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// PlaceOrder reserves stock and records the order. The two writes touch
// different documents, so a failed order insert is compensated by putting
// the stock back.
func (s *service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*Order, error) {
	ctx, span := tracer.Start(ctx, "ordering.PlaceOrder", trace.WithAttributes(
		attribute.String("record.id", in.RecordID),
		attribute.Int("order.quantity", in.Quantity),
	))
	defer span.End()
	log := logging.Ctx(ctx)

	if err := validation.Struct(&in); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	// Step 1: Reserve stock atomically
	record, err := s.records.DecrementField(ctx, in.RecordID, stockField, in.Quantity)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrRecordNotFound
	case errors.Is(err, store.ErrConditionFailed):
		return nil, ErrInsufficientStock
	case err != nil:
		span.RecordError(err)
		return nil, fmt.Errorf("failed to reserve stock: %w", err)
	}
	mbid, _ := record["mbid"].(string)

	compensation := func() {
		log.Warn().Str("record_id", in.RecordID).Int("quantity", in.Quantity).
			Msg("compensating for failed order: restoring stock")
		if _, err := s.records.DecrementField(ctx, in.RecordID, stockField, -in.Quantity); err != nil {
			log.Error().Err(err).Str("record_id", in.RecordID).Msg("failed to restore stock")
		}
		s.invalidate(ctx, in.RecordID, mbid)
	}

	// Step 2: Create the order
	doc, err := store.Encode(Order{
		RecordID: in.RecordID,
		Quantity: in.Quantity,
		Created:  s.now(),
	})
	if err != nil {
		compensation()
		return nil, err
	}
	saved, err := s.orders.Insert(ctx, doc)
	if err != nil {
		compensation()
		span.RecordError(err)
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}

	// Step 3: Drop cached views of the record's stock
	s.invalidate(ctx, in.RecordID, mbid)
	metrics.OrdersPlaced.Inc()

	var order Order
	if err := store.Decode(saved, &order); err != nil {
		return nil, err
	}
	log.Info().Str("order_id", order.ID).Str("record_id", order.RecordID).Int("quantity", order.Quantity).
		Msg("order placed")
	return &order, nil
}

func (s *service) invalidate(ctx context.Context, recordID, mbid string) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateRecord(ctx, recordID, mbid); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("record_id", recordID).Msg("failed to invalidate record cache")
	}
}

// GetOrder retrieves an order by its ID.
func (s *service) GetOrder(ctx context.Context, id string) (*Order, error) {
	doc, err := s.orders.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	var order Order
	if err := store.Decode(doc, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *service) ListOrders(ctx context.Context, recordID string) ([]*Order, error) {
	var filter store.Filter
	if recordID != "" {
		filter = store.Filter{store.Where("recordId", store.Equals, recordID)}
	}
	docs, err := s.orders.Find(ctx, filter, nil, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	out := make([]*Order, 0, len(docs))
	for _, d := range docs {
		var o Order
		if err := store.Decode(d, &o); err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	return out, nil
}
