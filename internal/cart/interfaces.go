package cart

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradepost/tradepost-backend/pkg/db/models"
)

// CartRepository defines the persistence surface required by the cart service.
type CartRepository interface {
	WithTx(tx *gorm.DB) CartRepository
	FindByUser(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	Create(ctx context.Context, cart *models.Cart) (*models.Cart, error)
	FindItem(ctx context.Context, cartID, itemID uuid.UUID) (*models.CartItem, error)
	FindItemByProduct(ctx context.Context, cartID, productID uuid.UUID) (*models.CartItem, error)
	CreateItem(ctx context.Context, item *models.CartItem) error
	IncrementItemQuantity(ctx context.Context, cartID, productID uuid.UUID, delta int) (bool, error)
	SetItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error
	DeleteItem(ctx context.Context, itemID uuid.UUID) error
	DeleteItemsByCart(ctx context.Context, cartID uuid.UUID) error
}

// ProductCatalog is the read surface the reconciler needs from the catalog.
type ProductCatalog interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	FindManyByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
}

// CatalogFactory yields a product catalog bound to the given transaction so
// product reads observe the same snapshot the merge writes against.
type CatalogFactory func(tx *gorm.DB) ProductCatalog

// Telemetry receives reconciliation extension-point notifications. The
// service never logs or counts on its own; observers are injected.
type Telemetry interface {
	MergeCompleted(ctx context.Context, userID uuid.UUID, itemCount int)
	StockConflictDetected(ctx context.Context, productID uuid.UUID, requested, available int)
}

// NoopTelemetry discards every notification.
type NoopTelemetry struct{}

func (NoopTelemetry) MergeCompleted(context.Context, uuid.UUID, int)              {}
func (NoopTelemetry) StockConflictDetected(context.Context, uuid.UUID, int, int) {}

type txRunner interface {
	WithTxRetry(ctx context.Context, fn func(tx *gorm.DB) error) error
}
