package models

// OrderCounter backs sequential order number allocation. A single row
// (ID = 1) is incremented inside the fulfillment transaction so the row lock
// serializes concurrent allocations.
type OrderCounter struct {
	ID         int   `gorm:"column:id;primaryKey"`
	NextNumber int64 `gorm:"column:next_number;not null"`
}
