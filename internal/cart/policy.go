package cart

import (
	"github.com/tradepost/tradepost-backend/pkg/db/models"
	"github.com/tradepost/tradepost-backend/pkg/enums"
	pkgerrors "github.com/tradepost/tradepost-backend/pkg/errors"
)

// StockPolicy decides how cart mutations treat quantities above the
// product's available stock. Exactly one policy is selected per deployment.
type StockPolicy interface {
	Name() enums.StockPolicy
	// Check runs inside the mutation transaction against the resulting line
	// quantity. A non-nil error aborts the whole unit of work.
	Check(product *models.Product, quantity int) error
	// AnnotateView reports whether cart views should carry per-item stock
	// warnings instead of enforcing stock at mutation time.
	AnnotateView() bool
}

// DeferredStockPolicy never blocks cart mutations; views carry exceeds-stock
// warnings and enforcement happens at order placement.
type DeferredStockPolicy struct{}

func (DeferredStockPolicy) Name() enums.StockPolicy { return enums.StockPolicyDeferred }

func (DeferredStockPolicy) Check(*models.Product, int) error { return nil }

func (DeferredStockPolicy) AnnotateView() bool { return true }

// StrictStockPolicy aborts the whole mutation as soon as any resulting
// quantity exceeds the product's current stock.
type StrictStockPolicy struct{}

func (StrictStockPolicy) Name() enums.StockPolicy { return enums.StockPolicyStrict }

func (StrictStockPolicy) Check(product *models.Product, quantity int) error {
	if product == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	if quantity > product.Stock {
		return pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock for product").
			WithDetails(map[string]any{
				"product_id": product.ID,
				"requested":  quantity,
				"available":  product.Stock,
			})
	}
	return nil
}

func (StrictStockPolicy) AnnotateView() bool { return false }

// PolicyFor maps the configured policy name to its implementation.
func PolicyFor(policy enums.StockPolicy) StockPolicy {
	if policy == enums.StockPolicyStrict {
		return StrictStockPolicy{}
	}
	return DeferredStockPolicy{}
}
