package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tradepost/tradepost-backend/internal/products"
	"github.com/tradepost/tradepost-backend/pkg/db"
	"github.com/tradepost/tradepost-backend/pkg/db/models"
	"github.com/tradepost/tradepost-backend/pkg/enums"
	pkgerrors "github.com/tradepost/tradepost-backend/pkg/errors"
	pkgpagination "github.com/tradepost/tradepost-backend/pkg/pagination"
)

var validate = validator.New()

// Service places orders against listings and exposes buyer/seller reads.
type Service interface {
	Place(ctx context.Context, buyerID uuid.UUID, input PlaceOrderInput) (*OrderView, error)
	GetByID(ctx context.Context, userID, orderID uuid.UUID) (*OrderView, error)
	Cancel(ctx context.Context, userID, orderID uuid.UUID) (*OrderView, error)
	ListByBuyer(ctx context.Context, buyerID uuid.UUID, params ListParams) (*ListResult, error)
	ListBySeller(ctx context.Context, sellerID uuid.UUID, params ListParams) (*ListResult, error)
}

type service struct {
	repo      Repository
	tx        txRunner
	catalog   CatalogFactory
	telemetry Telemetry
}

// NewService builds an order service with the required dependencies.
func NewService(repo Repository, tx txRunner, catalog CatalogFactory, telemetry Telemetry) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if catalog == nil {
		catalog = func(tx *gorm.DB) StockCatalog {
			return products.NewRepository(tx)
		}
	}
	if telemetry == nil {
		telemetry = NoopTelemetry{}
	}
	return &service{
		repo:      repo,
		tx:        tx,
		catalog:   catalog,
		telemetry: telemetry,
	}, nil
}

// Place converts a direct buy request into an immutable order, atomically
// reserving stock. The conditional decrement and the order insert share one
// transaction: no order ever references stock that was not reserved, and
// stock is never decremented without a matching order.
func (s *service) Place(ctx context.Context, buyerID uuid.UUID, input PlaceOrderInput) (*OrderView, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id is required")
	}
	if err := validate.Struct(input); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order request")
	}
	currency := enums.CurrencyUSD
	if input.Currency != "" {
		parsed, perr := enums.ParseCurrency(string(input.Currency))
		if perr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, perr, "unsupported currency").
				WithDetails(map[string]any{"currency": input.Currency})
		}
		currency = parsed
	}

	var view *OrderView
	err := s.tx.WithTxRetry(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		catalog := s.catalog(tx)

		product, err := s.loadPurchasableProduct(ctx, catalog, buyerID, input)
		if err != nil {
			return err
		}

		unitPrice := product.EffectivePrice()
		totalAmount := unitPrice.Mul(decimal.NewFromInt(int64(input.Quantity))).Round(2)

		reserved, err := catalog.DecrementStock(ctx, product.ID, input.Quantity)
		if err != nil {
			return err
		}
		if !reserved {
			// A concurrent placement won the race since the read above.
			available := 0
			if current, lerr := catalog.FindByID(ctx, product.ID); lerr == nil {
				available = current.Stock
			}
			s.telemetry.StockConflictDetected(ctx, product.ID, input.Quantity, available)
			return insufficientStock(product.ID, input.Quantity, available)
		}

		order := &models.Order{
			BuyerID:         buyerID,
			SellerID:        product.OwnerID,
			TotalAmount:     totalAmount,
			Currency:        currency,
			Status:          enums.OrderStatusPending,
			DeliveryName:    input.Delivery.Name,
			DeliveryPhone:   input.Delivery.Phone,
			DeliveryAddress: input.Delivery.Address,
			Items: []models.OrderItem{
				{
					ProductID:    product.ID,
					ProductTitle: product.Title,
					Quantity:     input.Quantity,
					UnitPrice:    unitPrice,
					LineTotal:    totalAmount,
				},
			},
		}
		created, err := repo.Create(ctx, order)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		reloaded, err := repo.FindByID(ctx, created.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}
		view = BuildOrderView(reloaded)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.telemetry.OrderPlaced(ctx, view.OrderID, buyerID, view.TotalAmount)
	return view, nil
}

// GetByID returns the order when the caller is its buyer or seller.
func (s *service) GetByID(ctx context.Context, userID, orderID uuid.UUID) (*OrderView, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.BuyerID != userID && order.SellerID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to caller")
	}
	return BuildOrderView(order), nil
}

// Cancel voids a pending order and returns its stock to the listing.
func (s *service) Cancel(ctx context.Context, userID, orderID uuid.UUID) (*OrderView, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	var view *OrderView
	err := s.tx.WithTxRetry(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		catalog := s.catalog(tx)

		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			if db.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order.BuyerID != userID && order.SellerID != userID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to caller")
		}
		// The conditional transition is the authority on the pending check:
		// of two concurrent cancels, only the one that flips the row may
		// restore stock.
		now := time.Now().UTC()
		moved, err := repo.TransitionStatus(ctx, order.ID, enums.OrderStatusPending, enums.OrderStatusCanceled, &now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only pending orders can be canceled")
		}

		for _, item := range order.Items {
			if err := catalog.RestoreStock(ctx, item.ProductID, item.Quantity); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restore stock")
			}
		}

		reloaded, err := repo.FindByID(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}
		view = BuildOrderView(reloaded)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// ListByBuyer returns the caller's purchases, newest first.
func (s *service) ListByBuyer(ctx context.Context, buyerID uuid.UUID, params ListParams) (*ListResult, error) {
	return s.list(ctx, buyerID, params, s.repo.ListByBuyer)
}

// ListBySeller returns the caller's sales, newest first.
func (s *service) ListBySeller(ctx context.Context, sellerID uuid.UUID, params ListParams) (*ListResult, error) {
	return s.list(ctx, sellerID, params, s.repo.ListBySeller)
}

func (s *service) list(
	ctx context.Context,
	ownerID uuid.UUID,
	params ListParams,
	fetch func(ctx context.Context, ownerID uuid.UUID, opts listQuery) ([]models.Order, error),
) (*ListResult, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	cursor, err := pkgpagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pkgpagination.NormalizeLimit(params.Limit)

	rows, err := fetch(ctx, ownerID, listQuery{limit: pkgpagination.LimitWithBuffer(params.Limit), cursor: cursor})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}

	result := &ListResult{Orders: make([]OrderView, 0, len(rows))}
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		result.Cursor = pkgpagination.EncodeCursor(pkgpagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	for i := range rows {
		result.Orders = append(result.Orders, *BuildOrderView(&rows[i]))
	}
	return result, nil
}

func (s *service) loadPurchasableProduct(ctx context.Context, catalog StockCatalog, buyerID uuid.UUID, input PlaceOrderInput) (*models.Product, error) {
	product, err := catalog.FindByID(ctx, input.ProductID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	if !product.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	if product.OwnerID == buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "cannot purchase your own listing")
	}
	if product.IsSold || product.Stock <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "product sold out").
			WithDetails(map[string]any{"product_id": product.ID})
	}
	if input.Quantity > product.Stock {
		s.telemetry.StockConflictDetected(ctx, product.ID, input.Quantity, product.Stock)
		return nil, insufficientStock(product.ID, input.Quantity, product.Stock)
	}
	return product, nil
}

func insufficientStock(productID uuid.UUID, requested, available int) error {
	return pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock for product").
		WithDetails(map[string]any{
			"product_id": productID,
			"requested":  requested,
			"available":  available,
		})
}
