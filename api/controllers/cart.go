package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tableside/api/middleware"
	"github.com/angelmondragon/tableside/api/responses"
	"github.com/angelmondragon/tableside/api/validators"
	"github.com/angelmondragon/tableside/internal/cart"
	"github.com/angelmondragon/tableside/pkg/enums"
	pkgerrors "github.com/angelmondragon/tableside/pkg/errors"
	"github.com/angelmondragon/tableside/pkg/logger"
)

// CartService is the cart surface the HTTP handlers drive.
type CartService interface {
	LoadSession(ctx context.Context, scope cart.ScopeKey) (cart.Result, error)
	AddItem(ctx context.Context, scope cart.ScopeKey, in cart.AddItemInput) (cart.Result, error)
	SetGuestName(ctx context.Context, scope cart.ScopeKey, name string) (cart.Result, error)
	UpdateQuantity(ctx context.Context, scope cart.ScopeKey, itemID, variant string, quantity int) (cart.Result, error)
	RemoveItem(ctx context.Context, scope cart.ScopeKey, itemID, variant string) (cart.Result, error)
	Forget(ctx context.Context, scope cart.ScopeKey) error
	AdoptGuestCart(ctx context.Context, guest, member cart.ScopeKey) (cart.Result, error)
	PendingAdds(scope cart.ScopeKey) int
	Checkout(ctx context.Context, scope cart.ScopeKey, in cart.CheckoutInput) (*cart.CheckoutResult, error)
}

type cartLineResponse struct {
	ItemID    string          `json:"item_id"`
	Variant   string          `json:"variant,omitempty"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type cartResponse struct {
	ScopeKey         string             `json:"scope_key"`
	OwnerDisplayName string             `json:"owner_display_name,omitempty"`
	Lines            []cartLineResponse `json:"lines"`
	ItemCount        int                `json:"item_count"`
	Total            decimal.Decimal    `json:"total"`
	Deferred         bool               `json:"deferred,omitempty"`
	PendingAdds      int                `json:"pending_adds,omitempty"`
	Warnings         []string           `json:"warnings,omitempty"`
	UpdatedAt        *time.Time         `json:"updated_at,omitempty"`
}

func newCartResponse(res cart.Result, pending int) cartResponse {
	out := cartResponse{
		Lines:       []cartLineResponse{},
		Total:       res.Total,
		Deferred:    res.Deferred,
		PendingAdds: pending,
		Warnings:    res.Warnings,
	}
	session := res.Session
	if session == nil {
		return out
	}
	out.ScopeKey = session.ScopeKey.String()
	out.OwnerDisplayName = session.OwnerDisplayName
	out.ItemCount = session.ItemCount()
	if !session.UpdatedAt.IsZero() {
		updated := session.UpdatedAt
		out.UpdatedAt = &updated
	}
	for _, line := range session.Lines {
		out.Lines = append(out.Lines, cartLineResponse{
			ItemID:    line.ItemID,
			Variant:   line.Variant,
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			Subtotal:  line.Subtotal(),
		})
	}
	return out
}

func scopeOrError(r *http.Request) (cart.ScopeKey, error) {
	scope := middleware.ScopeFromContext(r.Context())
	if scope == "" {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "cart scope missing")
	}
	return scope, nil
}

func writeCart(w http.ResponseWriter, svc CartService, scope cart.ScopeKey, res cart.Result) {
	status := http.StatusOK
	if res.Deferred {
		status = http.StatusAccepted
	}
	responses.WriteSuccessStatus(w, status, newCartResponse(res, svc.PendingAdds(scope)))
}

// CartFetch returns the caller's cart.
func CartFetch(svc CartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, err := scopeOrError(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.LoadSession(r.Context(), scope)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeCart(w, svc, scope, res)
	}
}

type addItemRequest struct {
	ItemID   string          `json:"item_id" validate:"required,max=64"`
	Name     string          `json:"name" validate:"required,max=200"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity" validate:"gte=0,lte=99"`
	Variant  string          `json:"variant" validate:"max=100"`
}

// CartAddItem merges a menu item into the cart. A guest table without a name answers 202
// with deferred set until the name arrives.
func CartAddItem(svc CartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, err := scopeOrError(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload addItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.AddItem(r.Context(), scope, cart.AddItemInput{
			Item:     cart.MenuItem{ID: payload.ItemID, Name: payload.Name, Price: payload.Price},
			Quantity: payload.Quantity,
			Variant:  payload.Variant,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeCart(w, svc, scope, res)
	}
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity" validate:"lte=99"`
}

// CartUpdateItem sets the quantity of a line. Values below one are clamped to one.
func CartUpdateItem(svc CartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, err := scopeOrError(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload updateQuantityRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.UpdateQuantity(r.Context(), scope, chi.URLParam(r, "itemID"), variantParam(r), payload.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeCart(w, svc, scope, res)
	}
}

// CartRemoveItem drops a line; removing an absent line is not an error.
func CartRemoveItem(svc CartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, err := scopeOrError(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.RemoveItem(r.Context(), scope, chi.URLParam(r, "itemID"), variantParam(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeCart(w, svc, scope, res)
	}
}

// CartForget discards the cart and, for a table, the remembered guest name.
func CartForget(svc CartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, err := scopeOrError(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Forget(r.Context(), scope); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type guestNameRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

// CartSetGuestName records who is ordering at a table and applies any deferred adds.
func CartSetGuestName(svc CartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, err := scopeOrError(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !scope.IsGuest() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "guest name applies to table carts only"))
			return
		}
		var payload guestNameRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.SetGuestName(r.Context(), scope, payload.Name)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeCart(w, svc, scope, res)
	}
}

type adoptGuestRequest struct {
	TableNumber int `json:"table_number" validate:"required,gte=1"`
}

// CartAdoptGuest moves a table's cart into the signed-in member's cart.
func CartAdoptGuest(svc CartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, err := scopeOrError(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if scope.IsGuest() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "adopting a table cart requires a signed-in member"))
			return
		}
		if role := middleware.MemberRoleFromContext(r.Context()); role != "" && role != enums.MemberRoleCustomer {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "only customers can adopt a table cart"))
			return
		}
		var payload adoptGuestRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		guest, err := cart.ResolveScope(cart.Identity{TableNumber: payload.TableNumber})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.AdoptGuestCart(r.Context(), guest, scope)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeCart(w, svc, scope, res)
	}
}

func variantParam(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("variant"))
}
