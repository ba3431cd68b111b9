package enums

// OrderStatus tracks the lifecycle of a fulfilled order. Fulfillment only ever
// writes OrderStatusConfirmed; later transitions belong to other services.
type OrderStatus string

const (
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCanceled  OrderStatus = "CANCELED"
)
