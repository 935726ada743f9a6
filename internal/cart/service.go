package cart

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradepost/tradepost-backend/internal/products"
	"github.com/tradepost/tradepost-backend/pkg/db"
	"github.com/tradepost/tradepost-backend/pkg/db/models"
	pkgerrors "github.com/tradepost/tradepost-backend/pkg/errors"
)

// Service reconciles client-held cart lines into the user's persisted cart.
type Service interface {
	MergeItems(ctx context.Context, userID uuid.UUID, items []MergeItem) (*CartView, error)
	AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*CartView, error)
	UpdateItem(ctx context.Context, userID, itemID uuid.UUID, quantity int) (*CartView, error)
	RemoveItem(ctx context.Context, userID, itemID uuid.UUID) (*CartView, error)
	Clear(ctx context.Context, userID uuid.UUID) (*CartView, error)
	Get(ctx context.Context, userID uuid.UUID) (*CartView, error)
}

type service struct {
	repo      CartRepository
	tx        txRunner
	catalog   CatalogFactory
	policy    StockPolicy
	telemetry Telemetry
}

// NewService builds a cart service backed by the provided stack. A nil
// policy falls back to the deferred policy; a nil telemetry is discarded.
func NewService(repo CartRepository, tx txRunner, catalog CatalogFactory, policy StockPolicy, telemetry Telemetry) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if catalog == nil {
		catalog = func(tx *gorm.DB) ProductCatalog {
			return products.NewRepository(tx)
		}
	}
	if policy == nil {
		policy = DeferredStockPolicy{}
	}
	if telemetry == nil {
		telemetry = NoopTelemetry{}
	}
	return &service{
		repo:      repo,
		tx:        tx,
		catalog:   catalog,
		policy:    policy,
		telemetry: telemetry,
	}, nil
}

// MergeItems additively merges the submitted lines into the user's cart.
// The whole merge commits or nothing does: a missing product or a strict
// stock violation rolls back every line, including ones that would have
// succeeded on their own.
func (s *service) MergeItems(ctx context.Context, userID uuid.UUID, items []MergeItem) (*CartView, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if err := validateMergeItems(items); err != nil {
		return nil, err
	}
	merged := combineMergeItems(items)

	var view *CartView
	err := s.tx.WithTxRetry(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		catalog := s.catalog(tx)

		cart, err := s.loadOrCreateCart(ctx, repo, userID)
		if err != nil {
			return err
		}

		byID, err := s.loadProducts(ctx, catalog, merged)
		if err != nil {
			return err
		}

		for _, item := range merged {
			if err := s.applyMergeLine(ctx, repo, cart.ID, byID[item.ProductID], item); err != nil {
				return err
			}
		}

		reloaded, err := repo.FindByUser(ctx, userID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload cart")
		}
		view = BuildCartView(reloaded, s.policy.AnnotateView())
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.telemetry.MergeCompleted(ctx, userID, len(merged))
	return view, nil
}

// AddItem is the single-line special case of MergeItems.
func (s *service) AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*CartView, error) {
	return s.MergeItems(ctx, userID, []MergeItem{{ProductID: productID, Quantity: quantity}})
}

// UpdateItem overwrites a line's quantity. Zero deletes the line.
func (s *service) UpdateItem(ctx context.Context, userID, itemID uuid.UUID, quantity int) (*CartView, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity cannot be negative")
	}

	var view *CartView
	err := s.tx.WithTxRetry(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		cart, item, err := s.loadOwnedItem(ctx, repo, userID, itemID)
		if err != nil {
			return err
		}

		if quantity == 0 {
			if err := repo.DeleteItem(ctx, item.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete cart item")
			}
		} else {
			product, err := s.catalog(tx).FindByID(ctx, item.ProductID)
			if err != nil {
				if db.IsNotFound(err) {
					return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
			}
			if err := s.policy.Check(product, quantity); err != nil {
				s.telemetry.StockConflictDetected(ctx, product.ID, quantity, product.Stock)
				return err
			}
			if err := repo.SetItemQuantity(ctx, item.ID, quantity); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart item")
			}
		}

		reloaded, err := repo.FindByUser(ctx, cart.UserID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload cart")
		}
		view = BuildCartView(reloaded, s.policy.AnnotateView())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// RemoveItem deletes a single line from the caller's cart.
func (s *service) RemoveItem(ctx context.Context, userID, itemID uuid.UUID) (*CartView, error) {
	return s.UpdateItem(ctx, userID, itemID, 0)
}

// Clear removes every line from the caller's cart. The cart row survives.
func (s *service) Clear(ctx context.Context, userID uuid.UUID) (*CartView, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	var view *CartView
	err := s.tx.WithTxRetry(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		cart, err := repo.FindByUser(ctx, userID)
		if err != nil {
			if db.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
		}

		if err := repo.DeleteItemsByCart(ctx, cart.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
		}

		cart.Items = nil
		view = BuildCartView(cart, s.policy.AnnotateView())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// Get returns the materialized cart, or an empty view when none exists yet.
func (s *service) Get(ctx context.Context, userID uuid.UUID) (*CartView, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	cart, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		if db.IsNotFound(err) {
			return EmptyCartView(userID), nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	return BuildCartView(cart, s.policy.AnnotateView()), nil
}

func (s *service) loadOrCreateCart(ctx context.Context, repo CartRepository, userID uuid.UUID) (*models.Cart, error) {
	cart, err := repo.FindByUser(ctx, userID)
	if err == nil {
		return cart, nil
	}
	if !db.IsNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	created, err := repo.Create(ctx, &models.Cart{UserID: userID})
	if err != nil {
		// A concurrent create trips the user_id unique index; left unwrapped
		// so the surrounding retry resolves it on the next attempt.
		if db.IsRetryableTxError(err) {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart")
	}
	return created, nil
}

func (s *service) loadProducts(ctx context.Context, catalog ProductCatalog, items []MergeItem) (map[uuid.UUID]*models.Product, error) {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}

	rows, err := catalog.FindManyByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}

	byID := make(map[uuid.UUID]*models.Product, len(rows))
	for i := range rows {
		byID[rows[i].ID] = &rows[i]
	}

	missing := make([]uuid.UUID, 0)
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "products not found").
			WithDetails(map[string]any{"missing_ids": missing})
	}
	return byID, nil
}

func (s *service) applyMergeLine(ctx context.Context, repo CartRepository, cartID uuid.UUID, product *models.Product, item MergeItem) error {
	updated, err := repo.IncrementItemQuantity(ctx, cartID, item.ProductID, item.Quantity)
	if err != nil {
		return err
	}
	if !updated {
		// Insert races on (cart_id, product_id) surface as unique violations
		// and are retried as increments.
		if err := repo.CreateItem(ctx, &models.CartItem{
			CartID:    cartID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		}); err != nil {
			return err
		}
	}

	line, err := repo.FindItemByProduct(ctx, cartID, item.ProductID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload cart item")
	}
	if err := s.policy.Check(product, line.Quantity); err != nil {
		s.telemetry.StockConflictDetected(ctx, product.ID, line.Quantity, product.Stock)
		return err
	}
	return nil
}

func (s *service) loadOwnedItem(ctx context.Context, repo CartRepository, userID, itemID uuid.UUID) (*models.Cart, *models.CartItem, error) {
	cart, err := repo.FindByUser(ctx, userID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}

	item, err := repo.FindItem(ctx, cart.ID, itemID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart item")
	}
	return cart, item, nil
}
