package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/angelmondragon/tableside/internal/orders"
)

// Subscription is one listener's interest in an order.
type Subscription struct {
	id          uint64
	orderNumber string
	listener    Listener
	sync        *Synchronizer

	ctx     context.Context
	cancel  context.CancelFunc
	updates chan *orders.TrackedOrder
	done    chan struct{}
	once    sync.Once
}

// OrderNumber is the order this subscription follows.
func (sub *Subscription) OrderNumber() string { return sub.orderNumber }

// Done is closed once the subscription has been stopped.
func (sub *Subscription) Done() <-chan struct{} { return sub.done }

// Stop ends polling and delivery. Safe to call more than once.
func (sub *Subscription) Stop() {
	sub.once.Do(func() {
		sub.cancel()
		sub.sync.release(sub)
		close(sub.done)
	})
}

// offer queues an update for delivery without blocking. When the buffer is full the oldest
// pending update is dropped; updates only move forward so the newest one wins.
func (sub *Subscription) offer(order *orders.TrackedOrder) {
	for {
		select {
		case sub.updates <- order:
			return
		default:
		}
		select {
		case <-sub.updates:
		default:
		}
	}
}

func (sub *Subscription) deliverLoop() {
	defer sub.sync.wg.Done()
	for {
		select {
		case <-sub.ctx.Done():
			return
		case order := <-sub.updates:
			if sub.ctx.Err() != nil {
				return
			}
			sub.listener(order)
		}
	}
}

// pollLoop fetches immediately, then on every interval while the push channel is not
// connected, until the order reaches a terminal status.
func (sub *Subscription) pollLoop(ctx context.Context) {
	defer sub.sync.wg.Done()
	s := sub.sync

	s.poll(sub.ctx, ctx, sub.orderNumber)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		if s.isTerminal(sub.orderNumber) {
			return
		}
		select {
		case <-sub.ctx.Done():
			return
		case <-ticker.C:
			if s.connected() != nil {
				continue
			}
			s.poll(sub.ctx, ctx, sub.orderNumber)
		}
	}
}
