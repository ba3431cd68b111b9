package orders

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shopforge/storefront-backend/pkg/db/models"
	pkgerrors "github.com/shopforge/storefront-backend/pkg/errors"
)

const counterRowID = 1

// Repository persists orders and allocates sequential order numbers.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// FindBySessionID is the idempotency guard lookup; a miss returns (nil, nil).
	FindBySessionID(ctx context.Context, sessionID string) (*models.Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByNumber(ctx context.Context, number int64) (*models.Order, error)
	// NextOrderNumber must be called inside the fulfillment transaction; the
	// counter row's write lock serializes concurrent allocations.
	NextOrderNumber(ctx context.Context) (int64, error)
	CreateWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error
}

type repository struct {
	db               *gorm.DB
	firstOrderNumber int64
}

// NewRepository builds an orders repository bound to the provided DB.
// firstOrderNumber seeds the counter when no row exists yet.
func NewRepository(db *gorm.DB, firstOrderNumber int64) Repository {
	return &repository{db: db, firstOrderNumber: firstOrderNumber}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx, firstOrderNumber: r.firstOrderNumber}
}

func (r *repository) FindBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("checkout_session_id = ?", sessionID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find order by session id")
	}
	return &order, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByNumber(ctx context.Context, number int64) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("order_number = ?", number).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) NextOrderNumber(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.OrderCounter{}).
		Where("id = ?", counterRowID).
		UpdateColumn("next_number", gorm.Expr("next_number + 1"))
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "advance order counter")
	}
	if res.RowsAffected == 0 {
		counter := models.OrderCounter{ID: counterRowID, NextNumber: r.firstOrderNumber + 1}
		if err := r.db.WithContext(ctx).Create(&counter).Error; err != nil {
			return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "seed order counter")
		}
		return r.firstOrderNumber, nil
	}

	var counter models.OrderCounter
	if err := r.db.WithContext(ctx).Where("id = ?", counterRowID).First(&counter).Error; err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read order counter")
	}
	return counter.NextNumber - 1, nil
}

func (r *repository) CreateWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		items[i].OrderID = order.ID
	}
	if err := r.db.WithContext(ctx).Create(&items).Error; err != nil {
		return err
	}
	order.Items = items
	return nil
}
