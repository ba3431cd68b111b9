package carts

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shopforge/storefront-backend/pkg/db/models"
	pkgerrors "github.com/shopforge/storefront-backend/pkg/errors"
)

// Snapshot is the priced, line-itemized view of a cart at fulfillment time.
type Snapshot struct {
	Cart  models.Cart
	Lines []SnapshotLine
}

// SnapshotLine joins one cart line with its current product/variant identity,
// price and stock counter.
type SnapshotLine struct {
	Line    models.CartLine
	Product models.Product
	Variant *models.ProductVariant
}

// UnitPriceCents returns the variant's price when a variant was selected,
// else the product's price.
func (l SnapshotLine) UnitPriceCents() int64 {
	if l.Variant != nil {
		return l.Variant.PriceCents
	}
	return l.Product.PriceCents
}

// ProductName prefers the variant-qualified name for error reporting.
func (l SnapshotLine) ProductName() string {
	if l.Variant != nil && l.Variant.Name != "" {
		return l.Product.Name + " / " + l.Variant.Name
	}
	return l.Product.Name
}

// Repository loads and disposes of carts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LoadSnapshot(ctx context.Context, cartID uuid.UUID) (*Snapshot, error)
	Delete(ctx context.Context, cartID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a cart repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) LoadSnapshot(ctx context.Context, cartID uuid.UUID) (*Snapshot, error) {
	if cartID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart id required")
	}

	var cart models.Cart
	err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("id = ?", cartID).
		First(&cart).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if len(cart.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cart contains no lines")
	}

	snapshot := &Snapshot{Cart: cart, Lines: make([]SnapshotLine, 0, len(cart.Lines))}
	productCache := map[uuid.UUID]*models.Product{}
	for _, line := range cart.Lines {
		product, err := r.loadProduct(ctx, line.ProductID, productCache)
		if err != nil {
			return nil, err
		}
		snapLine := SnapshotLine{Line: line, Product: *product}
		if line.VariantID != nil {
			variant, err := r.loadVariant(ctx, *line.VariantID)
			if err != nil {
				return nil, err
			}
			snapLine.Variant = variant
		}
		snapshot.Lines = append(snapshot.Lines, snapLine)
	}
	return snapshot, nil
}

func (r *repository) Delete(ctx context.Context, cartID uuid.UUID) error {
	if cartID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart id required")
	}
	if err := r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Delete(&models.CartLine{}).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete cart lines")
	}
	if err := r.db.WithContext(ctx).
		Where("id = ?", cartID).
		Delete(&models.Cart{}).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete cart")
	}
	return nil
}

func (r *repository) loadProduct(ctx context.Context, productID uuid.UUID, cache map[uuid.UUID]*models.Product) (*models.Product, error) {
	if product, ok := cache[productID]; ok {
		return product, nil
	}
	var product models.Product
	err := r.db.WithContext(ctx).
		Where("id = ?", productID).
		First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cart references missing product")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	cache[productID] = &product
	return &product, nil
}

func (r *repository) loadVariant(ctx context.Context, variantID uuid.UUID) (*models.ProductVariant, error) {
	var variant models.ProductVariant
	err := r.db.WithContext(ctx).
		Where("id = ?", variantID).
		First(&variant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cart references missing variant")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load variant")
	}
	return &variant, nil
}
