package controllers

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tableside/api/responses"
	"github.com/angelmondragon/tableside/api/validators"
	"github.com/angelmondragon/tableside/internal/cart"
	"github.com/angelmondragon/tableside/internal/orders"
	"github.com/angelmondragon/tableside/pkg/enums"
	"github.com/angelmondragon/tableside/pkg/logger"
)

type checkoutRequest struct {
	Notes string `json:"notes" validate:"max=500"`
}

type checkoutResponse struct {
	OrderNumber string            `json:"order_number"`
	Status      enums.OrderStatus `json:"status"`
	TotalAmount decimal.Decimal   `json:"total_amount"`
	CreatedAt   orders.Timestamp  `json:"created_at"`
	CartTotal   decimal.Decimal   `json:"cart_total"`
	Warnings    []string          `json:"warnings,omitempty"`
}

// Checkout submits the caller's cart as an order. The cart is cleared only when the backend
// confirms the order.
func Checkout(svc CartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, err := scopeOrError(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		out, err := svc.Checkout(r.Context(), scope, cart.CheckoutInput{Notes: payload.Notes})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := checkoutResponse{CartTotal: out.Total, Warnings: out.Warnings}
		if conf := out.Confirmation; conf != nil {
			resp.OrderNumber = conf.OrderNumber
			resp.Status = conf.Status
			resp.TotalAmount = conf.TotalAmount
			resp.CreatedAt = conf.CreatedAt
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, resp)
	}
}
