package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/shopforge/storefront-backend/pkg/enums"
	"github.com/shopforge/storefront-backend/pkg/types"
)

// Order is the durable artifact of one fulfilled checkout session. The unique
// checkout_session_id column is the idempotency key: at most one order can
// ever exist per session.
type Order struct {
	ID                uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber       int64                  `gorm:"column:order_number;not null;uniqueIndex:orders_order_number_key"`
	UserID            *uuid.UUID             `gorm:"column:user_id;type:uuid"`
	Email             string                 `gorm:"column:email;not null"`
	SubtotalCents     int64                  `gorm:"column:subtotal_cents;not null"`
	TotalCents        int64                  `gorm:"column:total_cents;not null"`
	Currency          enums.Currency         `gorm:"column:currency;not null;default:'USD'"`
	ShippingAddress   *types.ShippingAddress `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	CheckoutSessionID string                 `gorm:"column:checkout_session_id;not null;uniqueIndex:orders_checkout_session_id_key"`
	PaymentIntentID   string                 `gorm:"column:payment_intent_id"`
	Status            enums.OrderStatus      `gorm:"column:status;not null;default:'CONFIRMED'"`
	Items             []OrderItem            `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
