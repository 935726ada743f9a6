package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tradepost/tradepost-backend/pkg/enums"
)

// Order is the immutable record of a placement. Prices and product names are
// snapshotted onto its items; later catalog edits never change an order.
type Order struct {
	ID              uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID         uuid.UUID         `gorm:"column:buyer_id;type:uuid;not null;index"`
	SellerID        uuid.UUID         `gorm:"column:seller_id;type:uuid;not null;index"`
	TotalAmount     decimal.Decimal   `gorm:"column:total_amount;type:numeric(12,2);not null"`
	Currency        enums.Currency    `gorm:"column:currency;type:text;not null;default:'USD'"`
	Status          enums.OrderStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	DeliveryName    string            `gorm:"column:delivery_name;not null"`
	DeliveryPhone   string            `gorm:"column:delivery_phone;not null"`
	DeliveryAddress string            `gorm:"column:delivery_address;not null"`
	CanceledAt      *time.Time        `gorm:"column:canceled_at"`
	Items           []OrderItem       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
