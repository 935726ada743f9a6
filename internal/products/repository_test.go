package products

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tradepost/tradepost-backend/pkg/db/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:products_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Product{}))
	return db
}

func seedProduct(t *testing.T, db *gorm.DB, stock int) *models.Product {
	t.Helper()
	product := &models.Product{
		ID:            uuid.New(),
		OwnerID:       uuid.New(),
		Title:         "camera lens",
		Stock:         stock,
		OriginalPrice: decimal.RequireFromString("149.90"),
		IsActive:      true,
	}
	require.NoError(t, db.Create(product).Error)
	return product
}

func TestFindManyByIDsOmitsMissing(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	a := seedProduct(t, db, 3)
	b := seedProduct(t, db, 1)
	missing := uuid.New()

	rows, err := repo.FindManyByIDs(ctx, []uuid.UUID{a.ID, b.ID, missing})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = repo.FindManyByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDecrementStock(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	product := seedProduct(t, db, 5)

	ok, err := repo.DecrementStock(ctx, product.ID, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	var reloaded models.Product
	require.NoError(t, db.First(&reloaded, "id = ?", product.ID).Error)
	assert.Equal(t, 2, reloaded.Stock)
	assert.False(t, reloaded.IsSold)

	// More than remains: no change.
	ok, err = repo.DecrementStock(ctx, product.ID, 3)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, db.First(&reloaded, "id = ?", product.ID).Error)
	assert.Equal(t, 2, reloaded.Stock)

	// Draining stock marks the listing sold.
	ok, err = repo.DecrementStock(ctx, product.ID, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, db.First(&reloaded, "id = ?", product.ID).Error)
	assert.Equal(t, 0, reloaded.Stock)
	assert.True(t, reloaded.IsSold)
}

func TestRestoreStockClearsSoldFlag(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	product := seedProduct(t, db, 2)
	ok, err := repo.DecrementStock(ctx, product.ID, 2)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, repo.RestoreStock(ctx, product.ID, 2))

	var reloaded models.Product
	require.NoError(t, db.First(&reloaded, "id = ?", product.ID).Error)
	assert.Equal(t, 2, reloaded.Stock)
	assert.False(t, reloaded.IsSold)

	// Zero qty is a no-op.
	require.NoError(t, repo.RestoreStock(ctx, product.ID, 0))
	require.NoError(t, db.First(&reloaded, "id = ?", product.ID).Error)
	assert.Equal(t, 2, reloaded.Stock)
}
