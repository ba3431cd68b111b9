package inventory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/shopforge/storefront-backend/pkg/db/models"
)

func setupInventoryTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	schema := []string{
		`CREATE TABLE products (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  sku TEXT NOT NULL,
  price_cents INTEGER NOT NULL,
  stock INTEGER,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE product_variants (
  id TEXT PRIMARY KEY,
  product_id TEXT NOT NULL,
  name TEXT NOT NULL,
  price_cents INTEGER NOT NULL,
  stock INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`,
	}
	for _, stmt := range schema {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

func intPtr(v int) *int { return &v }

func TestDecrement_ProductStock(t *testing.T) {
	db := setupInventoryTestDB(t)

	product := models.Product{ID: uuid.New(), Name: "Mug", SKU: "MUG-1", PriceCents: 1500, Stock: intPtr(5)}
	require.NoError(t, db.Create(&product).Error)

	err := Decrement(context.Background(), db, []LineRequirement{
		{ProductID: product.ID, ProductName: "Mug", Quantity: 3},
	})
	require.NoError(t, err)

	var reloaded models.Product
	require.NoError(t, db.Where("id = ?", product.ID).First(&reloaded).Error)
	require.NotNil(t, reloaded.Stock)
	assert.Equal(t, 2, *reloaded.Stock)
}

func TestDecrement_InsufficientStock(t *testing.T) {
	db := setupInventoryTestDB(t)

	product := models.Product{ID: uuid.New(), Name: "Mug", SKU: "MUG-1", PriceCents: 1500, Stock: intPtr(1)}
	require.NoError(t, db.Create(&product).Error)

	err := Decrement(context.Background(), db, []LineRequirement{
		{ProductID: product.ID, ProductName: "Mug", Quantity: 2},
	})
	require.Error(t, err)

	var stockErr *StockUnavailableError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, "Mug", stockErr.ProductName)
	assert.Equal(t, 2, stockErr.Requested)
	assert.Equal(t, 1, stockErr.Available)

	// Stock untouched after the failed attempt.
	var reloaded models.Product
	require.NoError(t, db.Where("id = ?", product.ID).First(&reloaded).Error)
	assert.Equal(t, 1, *reloaded.Stock)
}

func TestDecrement_UntrackedProductSkipped(t *testing.T) {
	db := setupInventoryTestDB(t)

	product := models.Product{ID: uuid.New(), Name: "Sticker", SKU: "STK-1", PriceCents: 200}
	require.NoError(t, db.Create(&product).Error)

	err := Decrement(context.Background(), db, []LineRequirement{
		{ProductID: product.ID, ProductName: "Sticker", Quantity: 100},
	})
	require.NoError(t, err)

	var reloaded models.Product
	require.NoError(t, db.Where("id = ?", product.ID).First(&reloaded).Error)
	assert.Nil(t, reloaded.Stock)
}

func TestDecrement_VariantStock(t *testing.T) {
	db := setupInventoryTestDB(t)

	product := models.Product{ID: uuid.New(), Name: "Tee", SKU: "TEE-1", PriceCents: 2500}
	require.NoError(t, db.Create(&product).Error)
	variant := models.ProductVariant{ID: uuid.New(), ProductID: product.ID, Name: "Large", PriceCents: 2700, Stock: 4}
	require.NoError(t, db.Create(&variant).Error)

	variantID := variant.ID
	err := Decrement(context.Background(), db, []LineRequirement{
		{ProductID: product.ID, VariantID: &variantID, ProductName: "Tee / Large", Quantity: 4},
	})
	require.NoError(t, err)

	var reloaded models.ProductVariant
	require.NoError(t, db.Where("id = ?", variant.ID).First(&reloaded).Error)
	assert.Equal(t, 0, reloaded.Stock)

	// Exhausted now; the next unit must fail.
	err = Decrement(context.Background(), db, []LineRequirement{
		{ProductID: product.ID, VariantID: &variantID, ProductName: "Tee / Large", Quantity: 1},
	})
	var stockErr *StockUnavailableError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, 0, stockErr.Available)
}

func TestDecrement_InvalidQuantity(t *testing.T) {
	db := setupInventoryTestDB(t)

	err := Decrement(context.Background(), db, []LineRequirement{
		{ProductID: uuid.New(), ProductName: "Mug", Quantity: 0},
	})
	require.Error(t, err)
}
