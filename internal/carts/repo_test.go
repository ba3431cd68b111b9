package carts

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/shopforge/storefront-backend/pkg/db/models"
	pkgerrors "github.com/shopforge/storefront-backend/pkg/errors"
)

func setupCartsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
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
		`CREATE TABLE carts (
  id TEXT PRIMARY KEY,
  user_id TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE cart_lines (
  id TEXT PRIMARY KEY,
  cart_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  variant_id TEXT,
  quantity INTEGER NOT NULL,
  created_at DATETIME
);`,
	}
	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}

func seedCart(t *testing.T, conn *gorm.DB) (models.Cart, models.Product, models.ProductVariant) {
	t.Helper()

	stock := 10
	product := models.Product{ID: uuid.New(), Name: "Tee", SKU: "TEE-1", PriceCents: 2500, Stock: &stock}
	require.NoError(t, conn.Create(&product).Error)
	variant := models.ProductVariant{ID: uuid.New(), ProductID: product.ID, Name: "Large", PriceCents: 2700, Stock: 5}
	require.NoError(t, conn.Create(&variant).Error)

	cart := models.Cart{ID: uuid.New()}
	require.NoError(t, conn.Create(&cart).Error)

	variantID := variant.ID
	lines := []models.CartLine{
		{ID: uuid.New(), CartID: cart.ID, ProductID: product.ID, Quantity: 2},
		{ID: uuid.New(), CartID: cart.ID, ProductID: product.ID, VariantID: &variantID, Quantity: 1},
	}
	require.NoError(t, conn.Create(&lines).Error)
	return cart, product, variant
}

func TestLoadSnapshot(t *testing.T) {
	conn := setupCartsTestDB(t)
	repo := NewRepository(conn)
	cart, product, variant := seedCart(t, conn)

	snapshot, err := repo.LoadSnapshot(context.Background(), cart.ID)
	require.NoError(t, err)
	require.Len(t, snapshot.Lines, 2)

	var base, withVariant SnapshotLine
	for _, line := range snapshot.Lines {
		if line.Variant != nil {
			withVariant = line
		} else {
			base = line
		}
	}

	assert.Equal(t, product.ID, base.Product.ID)
	assert.Equal(t, int64(2500), base.UnitPriceCents())
	assert.Equal(t, "Tee", base.ProductName())

	require.NotNil(t, withVariant.Variant)
	assert.Equal(t, variant.ID, withVariant.Variant.ID)
	assert.Equal(t, int64(2700), withVariant.UnitPriceCents())
	assert.Equal(t, "Tee / Large", withVariant.ProductName())
}

func TestLoadSnapshot_NotFound(t *testing.T) {
	conn := setupCartsTestDB(t)
	repo := NewRepository(conn)

	_, err := repo.LoadSnapshot(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

func TestLoadSnapshot_EmptyCart(t *testing.T) {
	conn := setupCartsTestDB(t)
	repo := NewRepository(conn)

	cart := models.Cart{ID: uuid.New()}
	require.NoError(t, conn.Create(&cart).Error)

	_, err := repo.LoadSnapshot(context.Background(), cart.ID)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
}

func TestDelete_RemovesCartAndLines(t *testing.T) {
	conn := setupCartsTestDB(t)
	repo := NewRepository(conn)
	cart, _, _ := seedCart(t, conn)

	require.NoError(t, repo.Delete(context.Background(), cart.ID))

	var cartCount, lineCount int64
	require.NoError(t, conn.Model(&models.Cart{}).Where("id = ?", cart.ID).Count(&cartCount).Error)
	require.NoError(t, conn.Model(&models.CartLine{}).Where("cart_id = ?", cart.ID).Count(&lineCount).Error)
	assert.Zero(t, cartCount)
	assert.Zero(t, lineCount)
}
