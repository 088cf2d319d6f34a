package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tableside/api/middleware"
	"github.com/angelmondragon/tableside/internal/cart"
	"github.com/angelmondragon/tableside/internal/orders"
	"github.com/angelmondragon/tableside/internal/storage"
	"github.com/angelmondragon/tableside/pkg/enums"
	"github.com/angelmondragon/tableside/pkg/logger"
)

type stubSubmitter struct {
	mu       sync.Mutex
	requests []orders.Request
	err      error
}

func (s *stubSubmitter) SubmitOrder(_ context.Context, req orders.Request, _ string) (*orders.Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return &orders.Confirmation{OrderNumber: "ORD-9", Status: enums.OrderStatusPending}, nil
}

func newTestCart(t *testing.T, sub *stubSubmitter) *cart.Manager {
	t.Helper()
	if sub == nil {
		sub = &stubSubmitter{}
	}
	m, err := cart.NewManager(storage.NewMemory(0), sub, logger.Nop(), cart.Options{})
	require.NoError(t, err)
	return m
}

// withScope stands in for the scope middleware.
func withScope(scope cart.ScopeKey) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithScope(r.Context(), scope)))
		})
	}
}

func newCartRouter(svc CartService, scope cart.ScopeKey) http.Handler {
	r := chi.NewRouter()
	r.Use(withScope(scope))
	r.Get("/cart", CartFetch(svc, nil))
	r.Delete("/cart", CartForget(svc, nil))
	r.Post("/cart/items", CartAddItem(svc, nil))
	r.Patch("/cart/items/{itemID}", CartUpdateItem(svc, nil))
	r.Delete("/cart/items/{itemID}", CartRemoveItem(svc, nil))
	r.Put("/cart/guest-name", CartSetGuestName(svc, nil))
	r.Post("/cart/adopt-guest", CartAdoptGuest(svc, nil))
	r.Post("/checkout", Checkout(svc, nil))
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func decodeData[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope.Data
}

func decodeErrorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope.Error.Code
}
