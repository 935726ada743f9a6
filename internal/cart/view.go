package cart

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradepost/tradepost-backend/pkg/db/models"
)

// CartItemView is the materialized response shape for one cart line.
type CartItemView struct {
	ItemID         uuid.UUID       `json:"item_id"`
	ProductID      uuid.UUID       `json:"product_id"`
	ProductTitle   string          `json:"product_title"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	ItemTotal      decimal.Decimal `json:"item_total"`
	AvailableStock *int            `json:"available_stock,omitempty"`
	ExceedsStock   bool            `json:"exceeds_stock,omitempty"`
}

// CartView is the fully computed cart returned to callers.
type CartView struct {
	CartID         uuid.UUID       `json:"cart_id"`
	UserID         uuid.UUID       `json:"user_id"`
	Items          []CartItemView  `json:"items"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TotalItems     int             `json:"total_items"`
	HasStockIssues bool            `json:"has_stock_issues"`
}

// BuildCartView computes totals for a loaded cart. Pure function: it never
// touches the store. When annotateStock is set, each line carries the
// product's current stock and an exceeds-stock flag, and the cart-level
// HasStockIssues aggregates them.
func BuildCartView(cart *models.Cart, annotateStock bool) *CartView {
	view := &CartView{
		CartID:   cart.ID,
		UserID:   cart.UserID,
		Items:    make([]CartItemView, 0, len(cart.Items)),
		Subtotal: decimal.Zero,
	}

	for _, item := range cart.Items {
		line := CartItemView{
			ItemID:    item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: decimal.Zero,
			ItemTotal: decimal.Zero,
		}
		if item.Product != nil {
			line.ProductTitle = item.Product.Title
			line.UnitPrice = item.Product.EffectivePrice()
			line.ItemTotal = line.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
			if annotateStock {
				stock := item.Product.Stock
				line.AvailableStock = &stock
				line.ExceedsStock = item.Quantity > stock
				if line.ExceedsStock {
					view.HasStockIssues = true
				}
			}
		}

		view.Subtotal = view.Subtotal.Add(line.ItemTotal)
		view.TotalItems += item.Quantity
		view.Items = append(view.Items, line)
	}

	view.Subtotal = view.Subtotal.Round(2)
	return view
}

// EmptyCartView is returned when the user has no persisted cart yet.
func EmptyCartView(userID uuid.UUID) *CartView {
	return &CartView{
		UserID:   userID,
		Items:    []CartItemView{},
		Subtotal: decimal.Zero,
	}
}
