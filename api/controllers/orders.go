package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/tableside/api/responses"
	"github.com/angelmondragon/tableside/internal/orders"
	"github.com/angelmondragon/tableside/internal/tracking"
	pkgerrors "github.com/angelmondragon/tableside/pkg/errors"
	"github.com/angelmondragon/tableside/pkg/logger"
)

const (
	defaultHeartbeat = 15 * time.Second
	eventBuffer      = 8
)

// OrderTracker is the order status surface the HTTP handlers drive.
type OrderTracker interface {
	Track(ctx context.Context, orderNumber string) (*orders.TrackedOrder, error)
	Subscribe(orderNumber string, listener tracking.Listener) (*tracking.Subscription, error)
}

// OrderFetch returns the latest known view of an order.
func OrderFetch(tracker OrderTracker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		order, err := tracker.Track(r.Context(), chi.URLParam(r, "orderNumber"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// OrderEvents streams status changes of an order as server-sent events. The stream opens with
// the current view, then emits one "status" event per change and ends after a terminal status
// or when the client goes away.
func OrderEvents(tracker OrderTracker, logg *logger.Logger, heartbeat time.Duration) http.HandlerFunc {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		orderNumber := chi.URLParam(r, "orderNumber")
		if logg != nil {
			ctx = logg.WithOrderNumber(ctx, orderNumber)
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "streaming unsupported"))
			return
		}

		current, err := tracker.Track(ctx, orderNumber)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		stop := make(chan struct{})
		defer close(stop)
		updates := make(chan *orders.TrackedOrder, eventBuffer)
		sub, err := tracker.Subscribe(orderNumber, func(order *orders.TrackedOrder) {
			select {
			case updates <- order:
			case <-stop:
			}
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		defer sub.Stop()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		last := current.Status
		if err := writeEvent(w, current); err != nil {
			return
		}
		flusher.Flush()
		if last.IsTerminal() {
			return
		}

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.Done():
				return
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case order := <-updates:
				if order.Status == last {
					continue
				}
				last = order.Status
				if err := writeEvent(w, order); err != nil {
					if logg != nil {
						logg.Warn(logg.WithField(ctx, "error", err.Error()), "orders.event_write_failed")
					}
					return
				}
				flusher.Flush()
				if last.IsTerminal() {
					return
				}
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, order *orders.TrackedOrder) error {
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: status\nid: %s\ndata: %s\n\n", order.Status, data)
	return err
}
