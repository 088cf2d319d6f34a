package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tableside/internal/cart"
	"github.com/angelmondragon/tableside/internal/orders"
	"github.com/angelmondragon/tableside/internal/storage"
	"github.com/angelmondragon/tableside/internal/tracking"
	"github.com/angelmondragon/tableside/pkg/config"
	"github.com/angelmondragon/tableside/pkg/enums"
	"github.com/angelmondragon/tableside/pkg/logger"
	"github.com/angelmondragon/tableside/pkg/metrics"
	pkgredis "github.com/angelmondragon/tableside/pkg/redis"
)

type countingSubmitter struct {
	mu    sync.Mutex
	calls int
}

func (s *countingSubmitter) SubmitOrder(_ context.Context, _ orders.Request, _ string) (*orders.Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return &orders.Confirmation{OrderNumber: fmt.Sprintf("ORD-%d", s.calls), Status: enums.OrderStatusPending}, nil
}

type stubPoller struct{}

func (stubPoller) TrackOrder(_ context.Context, orderNumber string) (*orders.TrackedOrder, error) {
	return &orders.TrackedOrder{OrderNumber: orderNumber, Status: enums.OrderStatusConfirmed}, nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryIdempotency) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", pkgredis.ErrNil
}

func (m *memoryIdempotency) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key], _ = value.(string)
	return true, nil
}

func (m *memoryIdempotency) IdempotencyKey(scope, id string) string {
	return scope + ":" + id
}

type testRouter struct {
	handler   http.Handler
	submitter *countingSubmitter
}

func newTestRouter(t *testing.T) testRouter {
	t.Helper()
	cfg := &config.Config{
		App: config.AppConfig{Env: "dev", EventHeartbeat: time.Second},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "tableside", ExpirationMinutes: 10},
	}
	reg := prometheus.NewRegistry()
	store := storage.NewMemory(0)
	sub := &countingSubmitter{}

	carts, err := cart.NewManager(store, sub, logger.Nop(), cart.Options{Metrics: metrics.NewCartMetrics(reg)})
	require.NoError(t, err)

	tracker, err := tracking.NewSynchronizer(nil, stubPoller{}, logger.Nop(), tracking.Options{})
	require.NoError(t, err)
	t.Cleanup(tracker.Close)

	idem := &memoryIdempotency{data: map[string]string{}}
	return testRouter{
		handler:   NewRouter(cfg, logger.Nop(), carts, idem, carts, tracker, reg),
		submitter: sub,
	}
}

func (tr testRouter) do(t *testing.T, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	tr.handler.ServeHTTP(resp, req)
	return resp
}

func TestHealthRoutes(t *testing.T) {
	tr := newTestRouter(t)
	assert.Equal(t, http.StatusOK, tr.do(t, http.MethodGet, "/health/live", "", nil).Code)
	assert.Equal(t, http.StatusOK, tr.do(t, http.MethodGet, "/health/ready", "", nil).Code)
}

func TestCartRoutesRequireScope(t *testing.T) {
	tr := newTestRouter(t)
	resp := tr.do(t, http.MethodGet, "/api/v1/cart", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestGuestFlowThroughRouter(t *testing.T) {
	tr := newTestRouter(t)
	table := map[string]string{"X-Table-Number": "9"}

	resp := tr.do(t, http.MethodPut, "/api/v1/cart/guest-name", `{"name":"Ana"}`, table)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = tr.do(t, http.MethodPost, "/api/v1/cart/items", `{"item_id":"5","name":"Momo","price":"650","quantity":2}`, table)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = tr.do(t, http.MethodGet, "/api/v1/cart", "", table)
	require.Equal(t, http.StatusOK, resp.Code)
	var fetched struct {
		Data struct {
			ScopeKey string `json:"scope_key"`
			Total    string `json:"total"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fetched))
	assert.Equal(t, "guest:9", fetched.Data.ScopeKey)
	assert.Equal(t, "1300", fetched.Data.Total)
}

func TestCheckoutRequiresIdempotencyKeyAndReplays(t *testing.T) {
	tr := newTestRouter(t)
	table := map[string]string{"X-Table-Number": "3"}

	require.Equal(t, http.StatusOK, tr.do(t, http.MethodPut, "/api/v1/cart/guest-name", `{"name":"Bo"}`, table).Code)
	require.Equal(t, http.StatusOK, tr.do(t, http.MethodPost, "/api/v1/cart/items", `{"item_id":"tea","name":"Tea","price":"120"}`, table).Code)

	resp := tr.do(t, http.MethodPost, "/api/v1/checkout", `{}`, table)
	assert.Equal(t, http.StatusBadRequest, resp.Code, "missing Idempotency-Key")

	withKey := map[string]string{"X-Table-Number": "3", "Idempotency-Key": "k-1"}
	first := tr.do(t, http.MethodPost, "/api/v1/checkout", `{}`, withKey)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	replay := tr.do(t, http.MethodPost, "/api/v1/checkout", `{}`, withKey)
	require.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, first.Body.String(), replay.Body.String())
	assert.Equal(t, 1, tr.submitter.calls)
}

func TestOrderRouteAndMetrics(t *testing.T) {
	tr := newTestRouter(t)

	resp := tr.do(t, http.MethodGet, "/api/v1/orders/ORD-7", "", nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Contains(t, resp.Body.String(), `"status":"confirmed"`)

	tr.do(t, http.MethodPost, "/api/v1/cart/items", `{"item_id":"tea","name":"Tea","price":"1"}`, map[string]string{"X-Table-Number": "2"})

	resp = tr.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "cart_mutations_total")
}
