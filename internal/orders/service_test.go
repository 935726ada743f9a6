package orders

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tradepost/tradepost-backend/pkg/config"
	"github.com/tradepost/tradepost-backend/pkg/db"
	"github.com/tradepost/tradepost-backend/pkg/db/models"
	"github.com/tradepost/tradepost-backend/pkg/enums"
	pkgerrors "github.com/tradepost/tradepost-backend/pkg/errors"
	"github.com/tradepost/tradepost-backend/pkg/pagination"
)

type recordingTelemetry struct {
	mu        sync.Mutex
	placed    []uuid.UUID
	conflicts []uuid.UUID
}

func (r *recordingTelemetry) OrderPlaced(_ context.Context, orderID, _ uuid.UUID, _ decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.placed = append(r.placed, orderID)
}

func (r *recordingTelemetry) StockConflictDetected(_ context.Context, productID uuid.UUID, _, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts = append(r.conflicts, productID)
}

func newServiceUnderTest(t *testing.T) (Service, *gorm.DB, *recordingTelemetry) {
	t.Helper()

	dsn := "file:orders_svc_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.Product{}, &models.Order{}, &models.OrderItem{}))

	client := db.NewWithConn(conn, config.TxRetryConfig{MaxAttempts: 3, BaseBackoff: time.Millisecond})
	telemetry := &recordingTelemetry{}
	svc, err := NewService(NewRepository(conn), client, nil, telemetry)
	require.NoError(t, err)
	return svc, conn, telemetry
}

func seedListing(t *testing.T, conn *gorm.DB, stock int, price string) *models.Product {
	t.Helper()
	product := &models.Product{
		ID:            uuid.New(),
		OwnerID:       uuid.New(),
		Title:         "field recorder",
		Stock:         stock,
		OriginalPrice: decimal.RequireFromString(price),
		IsActive:      true,
	}
	require.NoError(t, conn.Create(product).Error)
	return product
}

func placeInput(productID uuid.UUID, qty int) PlaceOrderInput {
	return PlaceOrderInput{
		ProductID: productID,
		Quantity:  qty,
		Delivery: DeliveryContact{
			Name:    "Ada Vance",
			Phone:   "+1 555 0101",
			Address: "12 Harbor Way",
		},
	}
}

func TestPlaceSnapshotsPriceAndReservesStock(t *testing.T) {
	t.Parallel()

	svc, conn, telemetry := newServiceUnderTest(t)
	ctx := context.Background()

	product := seedListing(t, conn, 5, "80.00")
	product.DiscountedPrice = decimal.NewNullDecimal(decimal.RequireFromString("59.99"))
	require.NoError(t, conn.Save(product).Error)

	buyerID := uuid.New()
	view, err := svc.Place(ctx, buyerID, placeInput(product.ID, 2))
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusPending, view.Status)
	assert.Equal(t, enums.CurrencyUSD, view.Currency)
	assert.True(t, view.TotalAmount.Equal(decimal.RequireFromString("119.98")))
	require.Len(t, view.Items, 1)
	assert.True(t, view.Items[0].UnitPrice.Equal(decimal.RequireFromString("59.99")))
	assert.Equal(t, product.Title, view.Items[0].ProductTitle)

	var reloaded models.Product
	require.NoError(t, conn.First(&reloaded, "id = ?", product.ID).Error)
	assert.Equal(t, 3, reloaded.Stock)

	// Catalog edits after placement never touch the order.
	require.NoError(t, conn.Model(&models.Product{}).
		Where("id = ?", product.ID).
		Update("original_price", decimal.RequireFromString("999.00")).Error)
	again, err := svc.GetByID(ctx, buyerID, view.OrderID)
	require.NoError(t, err)
	assert.True(t, again.Items[0].UnitPrice.Equal(decimal.RequireFromString("59.99")))

	assert.Equal(t, []uuid.UUID{view.OrderID}, telemetry.placed)
}

func TestPlaceRejectsSelfPurchase(t *testing.T) {
	t.Parallel()

	svc, conn, _ := newServiceUnderTest(t)
	product := seedListing(t, conn, 3, "25.00")

	_, err := svc.Place(context.Background(), product.OwnerID, placeInput(product.ID, 1))
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeForbidden, appErr.Code())
}

func TestPlaceRejectsUnknownOrInactiveProduct(t *testing.T) {
	t.Parallel()

	svc, conn, _ := newServiceUnderTest(t)
	ctx := context.Background()

	_, err := svc.Place(ctx, uuid.New(), placeInput(uuid.New(), 1))
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeNotFound, appErr.Code())

	inactive := seedListing(t, conn, 3, "25.00")
	require.NoError(t, conn.Model(&models.Product{}).
		Where("id = ?", inactive.ID).
		Update("is_active", false).Error)

	_, err = svc.Place(ctx, uuid.New(), placeInput(inactive.ID, 1))
	appErr = pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeNotFound, appErr.Code())
}

func TestPlaceRejectsSoldOutListing(t *testing.T) {
	t.Parallel()

	svc, conn, _ := newServiceUnderTest(t)
	product := seedListing(t, conn, 0, "25.00")

	_, err := svc.Place(context.Background(), uuid.New(), placeInput(product.ID, 1))
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeConflict, appErr.Code())
}

func TestPlaceRejectsInsufficientStock(t *testing.T) {
	t.Parallel()

	svc, conn, telemetry := newServiceUnderTest(t)
	product := seedListing(t, conn, 2, "25.00")

	_, err := svc.Place(context.Background(), uuid.New(), placeInput(product.ID, 5))
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeConflict, appErr.Code())
	details, ok := appErr.Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 5, details["requested"])
	assert.Equal(t, 2, details["available"])
	assert.Equal(t, []uuid.UUID{product.ID}, telemetry.conflicts)

	// No order rows, no stock change.
	var count int64
	require.NoError(t, conn.Model(&models.Order{}).Count(&count).Error)
	assert.Zero(t, count)
	var reloaded models.Product
	require.NoError(t, conn.First(&reloaded, "id = ?", product.ID).Error)
	assert.Equal(t, 2, reloaded.Stock)
}

func TestPlaceConcurrentBuyersNeverOversell(t *testing.T) {
	t.Parallel()

	svc, conn, _ := newServiceUnderTest(t)
	ctx := context.Background()

	product := seedListing(t, conn, 5, "10.00")

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Place(ctx, uuid.New(), placeInput(product.ID, 3))
			results[i] = err
		}(i)
	}
	wg.Wait()

	var successes, conflicts int
	for _, err := range results {
		if err == nil {
			successes++
			continue
		}
		appErr := pkgerrors.As(err)
		require.NotNil(t, appErr)
		assert.Equal(t, pkgerrors.CodeConflict, appErr.Code())
		conflicts++
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)

	// Only the winner's decrement and order landed.
	var reloaded models.Product
	require.NoError(t, conn.First(&reloaded, "id = ?", product.ID).Error)
	assert.Equal(t, 2, reloaded.Stock)
	var count int64
	require.NoError(t, conn.Model(&models.Order{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestPlaceValidatesInput(t *testing.T) {
	t.Parallel()

	svc, conn, _ := newServiceUnderTest(t)
	ctx := context.Background()
	product := seedListing(t, conn, 3, "25.00")

	_, err := svc.Place(ctx, uuid.New(), placeInput(product.ID, 0))
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeValidation, appErr.Code())

	input := placeInput(product.ID, 1)
	input.Delivery.Address = ""
	_, err = svc.Place(ctx, uuid.New(), input)
	appErr = pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeValidation, appErr.Code())

	input = placeInput(product.ID, 1)
	input.Currency = enums.Currency("BTC")
	_, err = svc.Place(ctx, uuid.New(), input)
	appErr = pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeValidation, appErr.Code())
}

func TestGetByIDEnforcesAccess(t *testing.T) {
	t.Parallel()

	svc, conn, _ := newServiceUnderTest(t)
	ctx := context.Background()

	product := seedListing(t, conn, 3, "25.00")
	buyerID := uuid.New()
	placed, err := svc.Place(ctx, buyerID, placeInput(product.ID, 1))
	require.NoError(t, err)

	view, err := svc.GetByID(ctx, buyerID, placed.OrderID)
	require.NoError(t, err)
	assert.Equal(t, placed.OrderID, view.OrderID)

	view, err = svc.GetByID(ctx, product.OwnerID, placed.OrderID)
	require.NoError(t, err)
	assert.Equal(t, placed.OrderID, view.OrderID)

	_, err = svc.GetByID(ctx, uuid.New(), placed.OrderID)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeForbidden, appErr.Code())

	_, err = svc.GetByID(ctx, buyerID, uuid.New())
	appErr = pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeNotFound, appErr.Code())
}

func TestCancelRestoresStockForPendingOrders(t *testing.T) {
	t.Parallel()

	svc, conn, _ := newServiceUnderTest(t)
	ctx := context.Background()

	product := seedListing(t, conn, 2, "25.00")
	buyerID := uuid.New()
	placed, err := svc.Place(ctx, buyerID, placeInput(product.ID, 2))
	require.NoError(t, err)

	var drained models.Product
	require.NoError(t, conn.First(&drained, "id = ?", product.ID).Error)
	require.Zero(t, drained.Stock)
	require.True(t, drained.IsSold)

	view, err := svc.Cancel(ctx, buyerID, placed.OrderID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCanceled, view.Status)

	var restored models.Product
	require.NoError(t, conn.First(&restored, "id = ?", product.ID).Error)
	assert.Equal(t, 2, restored.Stock)
	assert.False(t, restored.IsSold)

	// Already canceled: state conflict, and stock is not restored again.
	_, err = svc.Cancel(ctx, buyerID, placed.OrderID)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeStateConflict, appErr.Code())

	require.NoError(t, conn.First(&restored, "id = ?", product.ID).Error)
	assert.Equal(t, 2, restored.Stock)
}

func TestCancelRejectsStrangers(t *testing.T) {
	t.Parallel()

	svc, conn, _ := newServiceUnderTest(t)
	ctx := context.Background()

	product := seedListing(t, conn, 2, "25.00")
	placed, err := svc.Place(ctx, uuid.New(), placeInput(product.ID, 1))
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, uuid.New(), placed.OrderID)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeForbidden, appErr.Code())
}

func TestListByBuyerPaginates(t *testing.T) {
	t.Parallel()

	svc, conn, _ := newServiceUnderTest(t)
	ctx := context.Background()

	buyerID := uuid.New()
	placed := make([]uuid.UUID, 0, 3)
	for i := 0; i < 3; i++ {
		product := seedListing(t, conn, 5, "10.00")
		view, err := svc.Place(ctx, buyerID, placeInput(product.ID, 1))
		require.NoError(t, err)
		placed = append(placed, view.OrderID)
	}

	first, err := svc.ListByBuyer(ctx, buyerID, ListParams{Params: pagination.Params{Limit: 2}})
	require.NoError(t, err)
	require.Len(t, first.Orders, 2)
	require.NotEmpty(t, first.Cursor)

	second, err := svc.ListByBuyer(ctx, buyerID, ListParams{Params: pagination.Params{Limit: 2, Cursor: first.Cursor}})
	require.NoError(t, err)
	require.Len(t, second.Orders, 1)
	assert.Empty(t, second.Cursor)

	seen := map[uuid.UUID]bool{}
	for _, o := range append(first.Orders, second.Orders...) {
		seen[o.OrderID] = true
	}
	for _, id := range placed {
		assert.True(t, seen[id])
	}

	_, err = svc.ListByBuyer(ctx, buyerID, ListParams{Params: pagination.Params{Cursor: "not-base64!!"}})
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeValidation, appErr.Code())
}

func TestListBySellerScopesToSeller(t *testing.T) {
	t.Parallel()

	svc, conn, _ := newServiceUnderTest(t)
	ctx := context.Background()

	product := seedListing(t, conn, 5, "10.00")
	other := seedListing(t, conn, 5, "10.00")

	_, err := svc.Place(ctx, uuid.New(), placeInput(product.ID, 1))
	require.NoError(t, err)
	_, err = svc.Place(ctx, uuid.New(), placeInput(other.ID, 1))
	require.NoError(t, err)

	result, err := svc.ListBySeller(ctx, product.OwnerID, ListParams{})
	require.NoError(t, err)
	require.Len(t, result.Orders, 1)
	assert.Equal(t, product.OwnerID, result.Orders[0].SellerID)
}
