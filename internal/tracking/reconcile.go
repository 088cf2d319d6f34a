package tracking

import (
	"github.com/angelmondragon/tableside/internal/orders"
	"github.com/angelmondragon/tableside/pkg/enums"
)

// Decision is the outcome of reconciling an incoming status against the known one.
type Decision string

const (
	DecisionApplied          Decision = "applied"
	DecisionDuplicate        Decision = "duplicate"
	DecisionRejectedBackward Decision = "rejected_backward"
	DecisionRejectedUnknown  Decision = "rejected_unknown"
	DecisionRejectedTerminal Decision = "rejected_terminal"
	// DecisionIgnored marks updates for orders nobody is tracking.
	DecisionIgnored Decision = "ignored"
)

func (d Decision) String() string { return string(d) }

// Applied reports whether the incoming update replaced the known state.
func (d Decision) Applied() bool { return d == DecisionApplied }

// Reconcile decides whether incoming may replace current. Status only moves forward along
// pending, confirmed, preparing, ready, delivered; cancelled is accepted from any state; terminal
// states are final. The returned order is the state to keep.
func Reconcile(current, incoming *orders.TrackedOrder) (*orders.TrackedOrder, Decision) {
	if incoming == nil || !incoming.Status.IsValid() {
		return current, DecisionRejectedUnknown
	}
	if current == nil {
		return incoming.Clone(), DecisionApplied
	}

	if incoming.Status == enums.OrderStatusCancelled {
		if current.Status == enums.OrderStatusCancelled {
			return current, DecisionDuplicate
		}
		return merge(current, incoming), DecisionApplied
	}
	if current.Status.IsTerminal() {
		return current, DecisionRejectedTerminal
	}

	switch in, cur := incoming.Status.Rank(), current.Status.Rank(); {
	case in > cur:
		return merge(current, incoming), DecisionApplied
	case in == cur:
		return current, DecisionDuplicate
	default:
		return current, DecisionRejectedBackward
	}
}

// merge takes incoming as the new state and keeps fields it leaves empty.
func merge(current, incoming *orders.TrackedOrder) *orders.TrackedOrder {
	next := incoming.Clone()
	if next.OrderNumber == "" {
		next.OrderNumber = current.OrderNumber
	}
	if len(next.Items) == 0 && len(current.Items) > 0 {
		next.Items = append([]orders.OrderItem(nil), current.Items...)
	}
	if next.TotalAmount.IsZero() {
		next.TotalAmount = current.TotalAmount
	}
	if next.TableNumber == nil && current.TableNumber != nil {
		n := *current.TableNumber
		next.TableNumber = &n
	}
	if next.GuestName == nil && current.GuestName != nil {
		name := *current.GuestName
		next.GuestName = &name
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = current.CreatedAt
	}
	return next
}
