package controllers

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tableside/api/middleware"
	"github.com/angelmondragon/tableside/internal/cart"
	"github.com/angelmondragon/tableside/pkg/enums"
	pkgerrors "github.com/angelmondragon/tableside/pkg/errors"
)

func TestCartAddAndFetchForMember(t *testing.T) {
	t.Parallel()
	h := newCartRouter(newTestCart(t, nil), "member:42")

	resp := do(t, h, http.MethodPost, "/cart/items", `{"item_id":"momo","name":"Momo","price":"650","quantity":2}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = do(t, h, http.MethodPost, "/cart/items", `{"item_id":"tea","name":"Masala Tea","price":120}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = do(t, h, http.MethodGet, "/cart", "")
	require.Equal(t, http.StatusOK, resp.Code)
	got := decodeData[cartResponse](t, resp)
	assert.Equal(t, "member:42", got.ScopeKey)
	require.Len(t, got.Lines, 2)
	assert.Equal(t, 3, got.ItemCount)
	assert.True(t, got.Total.Equal(decimal.NewFromInt(1420)), got.Total.String())
	assert.True(t, got.Lines[0].Subtotal.Equal(decimal.NewFromInt(1300)))
}

func TestCartAddRejectsInvalidPayload(t *testing.T) {
	t.Parallel()
	h := newCartRouter(newTestCart(t, nil), "member:42")

	resp := do(t, h, http.MethodPost, "/cart/items", `{"name":"Momo","price":"650"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = do(t, h, http.MethodPost, "/cart/items", `{"item_id":"momo","name":"Momo","price":"-1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, string(pkgerrors.CodeValidation), decodeErrorCode(t, resp))
}

func TestCartGuestDeferredUntilNamed(t *testing.T) {
	t.Parallel()
	h := newCartRouter(newTestCart(t, nil), "guest:5")

	resp := do(t, h, http.MethodPost, "/cart/items", `{"item_id":"momo","name":"Momo","price":"650"}`)
	require.Equal(t, http.StatusAccepted, resp.Code)
	deferred := decodeData[cartResponse](t, resp)
	assert.True(t, deferred.Deferred)
	assert.Equal(t, 1, deferred.PendingAdds)
	assert.Empty(t, deferred.Lines)

	resp = do(t, h, http.MethodPut, "/cart/guest-name", `{"name":"Ana"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	named := decodeData[cartResponse](t, resp)
	assert.Equal(t, "Ana", named.OwnerDisplayName)
	require.Len(t, named.Lines, 1)
	assert.Zero(t, named.PendingAdds)
}

func TestCartGuestNameRejectedForMembers(t *testing.T) {
	t.Parallel()
	h := newCartRouter(newTestCart(t, nil), "member:42")
	resp := do(t, h, http.MethodPut, "/cart/guest-name", `{"name":"Ana"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCartUpdateAndRemoveItem(t *testing.T) {
	t.Parallel()
	h := newCartRouter(newTestCart(t, nil), "member:42")

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/cart/items", `{"item_id":"momo","name":"Momo","price":"650","variant":"veg"}`).Code)

	resp := do(t, h, http.MethodPatch, "/cart/items/momo?variant=veg", `{"quantity":0}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	updated := decodeData[cartResponse](t, resp)
	require.Len(t, updated.Lines, 1)
	assert.Equal(t, 1, updated.Lines[0].Quantity, "quantity clamps to one")

	resp = do(t, h, http.MethodPatch, "/cart/items/momo?variant=veg", `{"quantity":4}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 4, decodeData[cartResponse](t, resp).Lines[0].Quantity)

	resp = do(t, h, http.MethodPatch, "/cart/items/unknown", `{"quantity":2}`)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = do(t, h, http.MethodDelete, "/cart/items/momo?variant=veg", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, decodeData[cartResponse](t, resp).Lines)

	resp = do(t, h, http.MethodDelete, "/cart/items/momo", "")
	assert.Equal(t, http.StatusOK, resp.Code, "removing an absent line is a no-op")
}

func TestCartForget(t *testing.T) {
	t.Parallel()
	svc := newTestCart(t, nil)
	h := newCartRouter(svc, "guest:3")

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPut, "/cart/guest-name", `{"name":"Ana"}`).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/cart/items", `{"item_id":"tea","name":"Tea","price":"120"}`).Code)

	resp := do(t, h, http.MethodDelete, "/cart", "")
	require.Equal(t, http.StatusNoContent, resp.Code)

	res, err := svc.LoadSession(context.Background(), "guest:3")
	require.NoError(t, err)
	assert.True(t, res.Session.IsEmpty())
	assert.Empty(t, res.Session.OwnerDisplayName)
}

func TestCartAdoptGuest(t *testing.T) {
	t.Parallel()
	svc := newTestCart(t, nil)
	ctx := context.Background()

	_, err := svc.SetGuestName(ctx, "guest:7", "Ana")
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, "guest:7", cart.AddItemInput{Item: cart.MenuItem{ID: "tea", Name: "Tea", Price: decimal.NewFromInt(120)}, Quantity: 2})
	require.NoError(t, err)

	guestRouter := newCartRouter(svc, "guest:7")
	resp := do(t, guestRouter, http.MethodPost, "/cart/adopt-guest", `{"table_number":7}`)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	memberRouter := newCartRouter(svc, "member:42")
	resp = do(t, memberRouter, http.MethodPost, "/cart/adopt-guest", `{"table_number":7}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	adopted := decodeData[cartResponse](t, resp)
	assert.Equal(t, "member:42", adopted.ScopeKey)
	require.Len(t, adopted.Lines, 1)
	assert.Equal(t, 2, adopted.Lines[0].Quantity)
}

func TestCartAdoptGuestIsForCustomers(t *testing.T) {
	t.Parallel()
	svc := newTestCart(t, nil)
	ctx := context.Background()
	_, err := svc.AddItem(ctx, "guest:3", cart.AddItemInput{Item: cart.MenuItem{ID: "tea", Name: "Tea", Price: decimal.NewFromInt(120)}, Quantity: 1})
	require.NoError(t, err)

	staff := chi.NewRouter()
	staff.Use(withScope("member:9"), func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithMemberRole(r.Context(), enums.MemberRoleStaff)))
		})
	})
	staff.Post("/cart/adopt-guest", CartAdoptGuest(svc, nil))

	resp := do(t, staff, http.MethodPost, "/cart/adopt-guest", `{"table_number":3}`)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	res, err := svc.LoadSession(ctx, "guest:3")
	require.NoError(t, err)
	assert.Len(t, res.Session.Lines, 1, "guest cart stays at the table")
}

func TestCartHandlersRequireScope(t *testing.T) {
	t.Parallel()
	resp := do(t, CartFetch(newTestCart(t, nil), nil), http.MethodGet, "/cart", "")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}
