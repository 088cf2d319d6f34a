package enums

import "fmt"

// OrderStatus tracks the lifecycle of a restaurant order as reported by the backend.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusPreparing,
	OrderStatusReady,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// orderStatusRank is the position along the forward sequence. Cancelled sits outside it.
var orderStatusRank = map[OrderStatus]int{
	OrderStatusPending:   1,
	OrderStatusConfirmed: 2,
	OrderStatusPreparing: 3,
	OrderStatusReady:     4,
	OrderStatusDelivered: 5,
}

// String implements fmt.Stringer.
func (o OrderStatus) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OrderStatus.
func (o OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == o {
			return true
		}
	}
	return false
}

// Rank returns the position of the status in the forward sequence, or 0 for cancelled and
// unknown values.
func (o OrderStatus) Rank() int {
	return orderStatusRank[o]
}

// IsTerminal reports whether no further transitions are expected.
func (o OrderStatus) IsTerminal() bool {
	return o == OrderStatusDelivered || o == OrderStatusCancelled
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
