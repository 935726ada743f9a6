package telemetry

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradepost/tradepost-backend/pkg/logger"
)

// Observer emits structured log events for the cart and order services. It
// satisfies both services' telemetry interfaces so one instance can be
// injected everywhere.
type Observer struct {
	log *logger.Logger
}

// NewObserver builds a logging observer.
func NewObserver(log *logger.Logger) (*Observer, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Observer{log: log}, nil
}

// MergeCompleted records a committed cart merge.
func (o *Observer) MergeCompleted(ctx context.Context, userID uuid.UUID, itemCount int) {
	ctx = o.log.WithFields(ctx, map[string]any{
		"user_id":    userID.String(),
		"item_count": itemCount,
	})
	o.log.Info(ctx, "cart merge completed")
}

// StockConflictDetected records a quantity that could not be satisfied by
// the product's current stock.
func (o *Observer) StockConflictDetected(ctx context.Context, productID uuid.UUID, requested, available int) {
	ctx = o.log.WithFields(ctx, map[string]any{
		"product_id": productID.String(),
		"requested":  requested,
		"available":  available,
	})
	o.log.Warn(ctx, "stock conflict detected")
}

// OrderPlaced records a committed order placement.
func (o *Observer) OrderPlaced(ctx context.Context, orderID, buyerID uuid.UUID, totalAmount decimal.Decimal) {
	ctx = o.log.WithFields(ctx, map[string]any{
		"order_id":     orderID.String(),
		"buyer_id":     buyerID.String(),
		"total_amount": totalAmount.String(),
	})
	o.log.Info(ctx, "order placed")
}
