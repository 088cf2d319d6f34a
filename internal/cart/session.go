package cart

import (
	"time"

	"github.com/shopspring/decimal"
)

// MenuItem is the catalog entry a shopper adds.
type MenuItem struct {
	ID    string
	Name  string
	Price decimal.Decimal
}

// Line is one (item, variant) entry in a cart.
type Line struct {
	ItemID    string          `json:"item_id"`
	Variant   string          `json:"variant,omitempty"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// Subtotal is unit price times quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Session is the persisted cart of one scope.
type Session struct {
	ScopeKey         ScopeKey  `json:"scope_key"`
	Lines            []Line    `json:"lines"`
	OwnerDisplayName string    `json:"owner_display_name,omitempty"`
	CheckoutKey      string    `json:"checkout_key,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func newSession(scope ScopeKey) *Session {
	return &Session{ScopeKey: scope, Lines: []Line{}}
}

// IsEmpty reports whether the cart has no lines.
func (s *Session) IsEmpty() bool {
	return s == nil || len(s.Lines) == 0
}

// ItemCount sums quantities across lines.
func (s *Session) ItemCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, l := range s.Lines {
		n += l.Quantity
	}
	return n
}

func (s *Session) find(itemID, variant string) int {
	for i, l := range s.Lines {
		if l.ItemID == itemID && l.Variant == variant {
			return i
		}
	}
	return -1
}

// merge adds quantity to an existing line or appends a new one with the given price snapshot.
// It reports whether the resulting quantity had to be capped at MaxLineQuantity.
func (s *Session) merge(line Line) bool {
	if idx := s.find(line.ItemID, line.Variant); idx >= 0 {
		line.Quantity += s.Lines[idx].Quantity
		capped := line.Quantity > MaxLineQuantity
		s.Lines[idx].Quantity = min(line.Quantity, MaxLineQuantity)
		return capped
	}
	capped := line.Quantity > MaxLineQuantity
	line.Quantity = min(line.Quantity, MaxLineQuantity)
	s.Lines = append(s.Lines, line)
	return capped
}

func (s *Session) clone() *Session {
	out := *s
	out.Lines = append([]Line(nil), s.Lines...)
	if out.Lines == nil {
		out.Lines = []Line{}
	}
	return &out
}

// TotalPrice is the sum of unit price times quantity over every line.
func TotalPrice(s *Session) decimal.Decimal {
	total := decimal.Zero
	if s == nil {
		return total
	}
	for _, l := range s.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}
