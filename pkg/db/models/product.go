package models

import (
	"time"

	"github.com/google/uuid"
)

// Product is the canonical catalog listing. Stock is nullable: a nil counter
// means the product does not track stock and sells without limit.
type Product struct {
	ID         uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name       string           `gorm:"column:name;not null"`
	SKU        string           `gorm:"column:sku;not null"`
	PriceCents int64            `gorm:"column:price_cents;not null"`
	Stock      *int             `gorm:"column:stock"`
	IsActive   bool             `gorm:"column:is_active;not null;default:true"`
	Variants   []ProductVariant `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	CreatedAt  time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}
