package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shopforge/storefront-backend/pkg/db/models"
	pkgerrors "github.com/shopforge/storefront-backend/pkg/errors"
)

// StockUnavailableError aborts the fulfillment transaction and is the only
// condition that triggers the compensating refund.
type StockUnavailableError struct {
	ProductName string
	Requested   int
	Available   int
}

func (e *StockUnavailableError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: requested %d, available %d", e.ProductName, e.Requested, e.Available)
}

// LineRequirement is the stock demand of one cart line.
type LineRequirement struct {
	ProductID   uuid.UUID
	VariantID   *uuid.UUID
	ProductName string
	Quantity    int
}

// Decrement re-validates and atomically subtracts stock for every requirement
// inside the caller's transaction. The conditional UPDATE (stock >= qty) is
// both the re-validation and the decrement, so the counter can never go
// negative regardless of concurrent transactions. A product with a NULL stock
// counter does not track stock and is skipped.
func Decrement(ctx context.Context, tx *gorm.DB, requirements []LineRequirement) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction handle required")
	}
	for _, req := range requirements {
		if req.Quantity < 1 {
			return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
		}
		if req.VariantID != nil {
			if err := decrementVariant(ctx, tx, req); err != nil {
				return err
			}
			continue
		}
		if err := decrementProduct(ctx, tx, req); err != nil {
			return err
		}
	}
	return nil
}

func decrementVariant(ctx context.Context, tx *gorm.DB, req LineRequirement) error {
	res := tx.WithContext(ctx).
		Model(&models.ProductVariant{}).
		Where("id = ? AND stock >= ?", *req.VariantID, req.Quantity).
		UpdateColumn("stock", gorm.Expr("stock - ?", req.Quantity))
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "decrement variant stock")
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var variant models.ProductVariant
	err := tx.WithContext(ctx).Where("id = ?", *req.VariantID).First(&variant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "variant disappeared during fulfillment")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "re-read variant stock")
	}
	return &StockUnavailableError{
		ProductName: req.ProductName,
		Requested:   req.Quantity,
		Available:   variant.Stock,
	}
}

func decrementProduct(ctx context.Context, tx *gorm.DB, req LineRequirement) error {
	var product models.Product
	err := tx.WithContext(ctx).Where("id = ?", req.ProductID).First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "product disappeared during fulfillment")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read product stock")
	}
	if product.Stock == nil {
		// Untracked stock sells without limit.
		return nil
	}

	res := tx.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ? AND stock >= ?", req.ProductID, req.Quantity).
		UpdateColumn("stock", gorm.Expr("stock - ?", req.Quantity))
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "decrement product stock")
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var current models.Product
	if err := tx.WithContext(ctx).Where("id = ?", req.ProductID).First(&current).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "re-read product stock")
	}
	available := 0
	if current.Stock != nil {
		available = *current.Stock
	}
	return &StockUnavailableError{
		ProductName: req.ProductName,
		Requested:   req.Quantity,
		Available:   available,
	}
}
