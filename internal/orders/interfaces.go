package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tradepost/tradepost-backend/pkg/db/models"
	"github.com/tradepost/tradepost-backend/pkg/enums"
)

// Repository defines the persistence surface required by the order service.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, canceledAt *time.Time) (bool, error)
	ListByBuyer(ctx context.Context, buyerID uuid.UUID, opts listQuery) ([]models.Order, error)
	ListBySeller(ctx context.Context, sellerID uuid.UUID, opts listQuery) ([]models.Order, error)
}

// StockCatalog is the catalog surface order placement mutates.
type StockCatalog interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	DecrementStock(ctx context.Context, productID uuid.UUID, qty int) (bool, error)
	RestoreStock(ctx context.Context, productID uuid.UUID, qty int) error
}

// CatalogFactory yields a stock catalog bound to the given transaction so
// the stock decrement and the order insert commit together or not at all.
type CatalogFactory func(tx *gorm.DB) StockCatalog

// Telemetry receives placement extension-point notifications.
type Telemetry interface {
	OrderPlaced(ctx context.Context, orderID, buyerID uuid.UUID, totalAmount decimal.Decimal)
	StockConflictDetected(ctx context.Context, productID uuid.UUID, requested, available int)
}

// NoopTelemetry discards every notification.
type NoopTelemetry struct{}

func (NoopTelemetry) OrderPlaced(context.Context, uuid.UUID, uuid.UUID, decimal.Decimal) {}
func (NoopTelemetry) StockConflictDetected(context.Context, uuid.UUID, int, int)         {}

type txRunner interface {
	WithTxRetry(ctx context.Context, fn func(tx *gorm.DB) error) error
}
