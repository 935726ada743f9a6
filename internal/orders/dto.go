package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradepost/tradepost-backend/pkg/db/models"
	"github.com/tradepost/tradepost-backend/pkg/enums"
	pkgpagination "github.com/tradepost/tradepost-backend/pkg/pagination"
)

// DeliveryContact carries the recipient details snapshotted onto the order.
type DeliveryContact struct {
	Name    string `json:"name" validate:"required"`
	Phone   string `json:"phone" validate:"required"`
	Address string `json:"address" validate:"required"`
}

// PlaceOrderInput captures a direct buy request for a single listing.
type PlaceOrderInput struct {
	ProductID uuid.UUID       `json:"product_id" validate:"required"`
	Quantity  int             `json:"quantity" validate:"min=1"`
	Currency  enums.Currency  `json:"currency"`
	Delivery  DeliveryContact `json:"delivery" validate:"required"`
}

// ListParams configures buyer/seller order listings.
type ListParams struct {
	pkgpagination.Params
}

// ListResult is one page of orders plus the cursor for the next page.
type ListResult struct {
	Orders []OrderView `json:"orders"`
	Cursor string      `json:"cursor"`
}

type listQuery struct {
	limit  int
	cursor *pkgpagination.Cursor
}

// OrderItemView is the materialized response shape for one order line.
type OrderItemView struct {
	ItemID       uuid.UUID       `json:"item_id"`
	ProductID    uuid.UUID       `json:"product_id"`
	ProductTitle string          `json:"product_title"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	LineTotal    decimal.Decimal `json:"line_total"`
}

// OrderView is the fully computed order returned to callers.
type OrderView struct {
	OrderID         uuid.UUID         `json:"order_id"`
	BuyerID         uuid.UUID         `json:"buyer_id"`
	SellerID        uuid.UUID         `json:"seller_id"`
	Status          enums.OrderStatus `json:"status"`
	Currency        enums.Currency    `json:"currency"`
	TotalAmount     decimal.Decimal   `json:"total_amount"`
	DeliveryName    string            `json:"delivery_name"`
	DeliveryPhone   string            `json:"delivery_phone"`
	DeliveryAddress string            `json:"delivery_address"`
	Items           []OrderItemView   `json:"items"`
	CreatedAt       time.Time         `json:"created_at"`
}

// BuildOrderView maps a loaded order onto its response shape.
func BuildOrderView(order *models.Order) *OrderView {
	view := &OrderView{
		OrderID:         order.ID,
		BuyerID:         order.BuyerID,
		SellerID:        order.SellerID,
		Status:          order.Status,
		Currency:        order.Currency,
		TotalAmount:     order.TotalAmount,
		DeliveryName:    order.DeliveryName,
		DeliveryPhone:   order.DeliveryPhone,
		DeliveryAddress: order.DeliveryAddress,
		Items:           make([]OrderItemView, 0, len(order.Items)),
		CreatedAt:       order.CreatedAt,
	}
	for _, item := range order.Items {
		view.Items = append(view.Items, OrderItemView{
			ItemID:       item.ID,
			ProductID:    item.ProductID,
			ProductTitle: item.ProductTitle,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			LineTotal:    item.LineTotal,
		})
	}
	return view
}
