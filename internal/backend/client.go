package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/tableside/internal/orders"
	"github.com/angelmondragon/tableside/pkg/config"
	pkgerrors "github.com/angelmondragon/tableside/pkg/errors"
	"github.com/angelmondragon/tableside/pkg/logger"
	"github.com/sony/gobreaker"
)

const maxErrorBody = 64 << 10

// Client talks to the restaurant REST API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	token   string
	breaker *gobreaker.CircuitBreaker
	logg    *logger.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient swaps the transport, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New builds a backend client from configuration.
func New(cfg config.BackendConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid backend base url %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
		token:   cfg.BearerToken,
		logg:    logg,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker(breakerSettings(cfg, logg))
	return c, nil
}

func breakerSettings(cfg config.BackendConfig, logg *logger.Logger) gobreaker.Settings {
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	return gobreaker.Settings{
		Name:        "restaurant-backend",
		MaxRequests: cfg.BreakerHalfOpenRequests,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// 4xx rejections do not count against the breaker.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			code := pkgerrors.CodeOf(err)
			return code != pkgerrors.CodeDependency && code != pkgerrors.CodeTimeout
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			ctx := logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			logg.Warn(ctx, "backend.breaker_state_changed")
		},
	}
}

type submitItem struct {
	MenuItemID any `json:"menu_item_id"`
	Quantity   int `json:"quantity"`
}

type submitBody struct {
	Items       []submitItem `json:"items"`
	TableNumber *int         `json:"table_number,omitempty"`
	GuestName   *string      `json:"guest_name,omitempty"`
	Notes       string       `json:"notes,omitempty"`
}

func toSubmitBody(req orders.Request) submitBody {
	body := submitBody{
		Items:       make([]submitItem, 0, len(req.Items)),
		TableNumber: req.TableNumber,
		GuestName:   req.GuestName,
		Notes:       req.Notes,
	}
	for _, item := range req.Items {
		var id any = item.MenuItemID
		if n, err := strconv.ParseInt(item.MenuItemID, 10, 64); err == nil {
			id = n
		}
		body.Items = append(body.Items, submitItem{MenuItemID: id, Quantity: item.Quantity})
	}
	return body
}

// SubmitOrder posts an order and returns the backend's confirmation.
func (c *Client) SubmitOrder(ctx context.Context, req orders.Request, idempotencyKey string) (*orders.Confirmation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(toSubmitBody(req))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode order request")
	}

	var confirmation orders.Confirmation
	err = c.do(ctx, http.MethodPost, "/orders", payload, func(h http.Header) {
		if idempotencyKey != "" {
			h.Set("Idempotency-Key", idempotencyKey)
		}
	}, &confirmation)
	if err != nil {
		return nil, err
	}
	if confirmation.OrderNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "backend accepted the order without an order number")
	}
	return &confirmation, nil
}

// TrackOrder fetches the current view of an order.
func (c *Client) TrackOrder(ctx context.Context, orderNumber string) (*orders.TrackedOrder, error) {
	if strings.TrimSpace(orderNumber) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number is required")
	}
	var order orders.TrackedOrder
	if err := c.do(ctx, http.MethodGet, "/orders/track/"+url.PathEscape(orderNumber), nil, nil, &order); err != nil {
		return nil, err
	}
	if order.OrderNumber == "" {
		order.OrderNumber = orderNumber
	}
	return &order, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, decorate func(http.Header), out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.roundTrip(ctx, method, path, body, decorate, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restaurant backend unavailable")
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte, decorate func(http.Header), out any) error {
	endpoint := c.baseURL.String() + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build backend request")
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	if decorate != nil {
		decorate(httpReq.Header)
	}

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	logCtx := c.logg.WithFields(ctx, map[string]any{
		"method":      method,
		"path":        path,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(started).Milliseconds(),
	})

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := statusError(resp.StatusCode, raw)
		c.logg.Warn(logCtx, "backend.request_rejected")
		return apiErr
	}
	c.logg.Debug(logCtx, "backend.request_completed")

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return transportError(err)
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "malformed backend response")
	}
	return nil
}

func transportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return pkgerrors.Wrap(pkgerrors.CodeTimeout, err, "restaurant backend timed out")
	}
	if errors.Is(err, context.Canceled) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "request cancelled")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restaurant backend unreachable")
}

func codeForStatus(status int) pkgerrors.Code {
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return pkgerrors.CodeValidation
	case status == http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case status == http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case status == http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case status == http.StatusConflict:
		return pkgerrors.CodeConflict
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return pkgerrors.CodeTimeout
	case status >= 500:
		return pkgerrors.CodeDependency
	}
	return pkgerrors.CodeDependency
}

func statusError(status int, body []byte) *pkgerrors.Error {
	code := codeForStatus(status)
	reason := serverReason(body)
	if reason == "" {
		reason = fmt.Sprintf("restaurant backend returned %d", status)
	}
	return pkgerrors.New(code, reason).WithDetails(map[string]any{"status": status})
}

type errorBody struct {
	Detail json.RawMessage `json:"detail"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// serverReason extracts the human readable rejection reason from common error shapes.
func serverReason(body []byte) string {
	if len(bytes.TrimSpace(body)) == 0 {
		return ""
	}
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	if len(parsed.Detail) > 0 {
		var detail string
		if err := json.Unmarshal(parsed.Detail, &detail); err == nil && detail != "" {
			return detail
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(parsed.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, item := range items {
				if item.Msg != "" {
					msgs = append(msgs, item.Msg)
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return parsed.Message
}
