package orders

import (
	"github.com/angelmondragon/tableside/pkg/enums"
	"github.com/shopspring/decimal"
)

// RequestItem is one line of an order submission.
type RequestItem struct {
	MenuItemID string `json:"menu_item_id" validate:"required"`
	Quantity   int    `json:"quantity" validate:"gte=1"`
}

// Request is the immutable order built from a cart at checkout.
type Request struct {
	Items       []RequestItem `json:"items" validate:"required,min=1,dive"`
	TableNumber *int          `json:"table_number,omitempty" validate:"omitempty,gte=1"`
	GuestName   *string       `json:"guest_name,omitempty" validate:"omitempty,min=1,max=100"`
	Notes       string        `json:"notes,omitempty" validate:"max=500"`
}

// Confirmation is what the backend returns for an accepted order.
type Confirmation struct {
	OrderNumber string            `json:"order_number"`
	Status      enums.OrderStatus `json:"status"`
	TotalAmount decimal.Decimal   `json:"total_amount"`
	CreatedAt   Timestamp         `json:"created_at"`
}

// OrderItem is a line as reported by order tracking.
type OrderItem struct {
	MenuItemID string          `json:"menu_item_id,omitempty"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
}

// TrackedOrder is the client-side view of a submitted order.
type TrackedOrder struct {
	OrderNumber string            `json:"order_number"`
	Status      enums.OrderStatus `json:"status"`
	TotalAmount decimal.Decimal   `json:"total_amount"`
	Items       []OrderItem       `json:"items"`
	TableNumber *int              `json:"table_number,omitempty"`
	GuestName   *string           `json:"guest_name,omitempty"`
	CreatedAt   Timestamp         `json:"created_at"`
	UpdatedAt   *Timestamp        `json:"updated_at,omitempty"`
}

// Clone returns a deep copy safe to hand to listeners.
func (o *TrackedOrder) Clone() *TrackedOrder {
	if o == nil {
		return nil
	}
	out := *o
	if o.Items != nil {
		out.Items = append([]OrderItem(nil), o.Items...)
	}
	if o.TableNumber != nil {
		n := *o.TableNumber
		out.TableNumber = &n
	}
	if o.GuestName != nil {
		name := *o.GuestName
		out.GuestName = &name
	}
	if o.UpdatedAt != nil {
		ts := *o.UpdatedAt
		out.UpdatedAt = &ts
	}
	return &out
}
