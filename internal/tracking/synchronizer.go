package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/tableside/internal/orders"
	"github.com/angelmondragon/tableside/pkg/enums"
	pkgerrors "github.com/angelmondragon/tableside/pkg/errors"
	"github.com/angelmondragon/tableside/pkg/logger"
	"github.com/angelmondragon/tableside/pkg/metrics"
)

const (
	defaultMaxRetries   = 5
	defaultRetryDelay   = 3 * time.Second
	defaultDialTimeout  = 10 * time.Second
	defaultPollInterval = 10 * time.Second
	defaultMinUptime    = 5 * time.Second
	listenerBuffer      = 8

	actionSubscribe   = "subscribe_order"
	actionUnsubscribe = "unsubscribe_order"

	frameStatusUpdated = "order_status_updated"
	frameNewOrder      = "new_order"

	SourcePush = "push"
	SourcePoll = "poll"
)

// Conn is an open push channel.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

// Dialer opens the push channel.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Poller fetches the current state of one order.
type Poller interface {
	TrackOrder(ctx context.Context, orderNumber string) (*orders.TrackedOrder, error)
}

// Listener receives every applied status change of a subscribed order.
type Listener func(order *orders.TrackedOrder)

// Options tunes a Synchronizer. Zero values take the defaults.
type Options struct {
	MaxRetries   int
	RetryDelay   time.Duration
	DialTimeout  time.Duration
	PollInterval time.Duration
	// MinSessionUptime is how long a connection must stay open to reset the retry count.
	MinSessionUptime time.Duration
	Metrics          *metrics.SyncMetrics
}

type subscriptionFrame struct {
	Action      string `json:"action"`
	OrderNumber string `json:"order_number"`
}

type pushFrame struct {
	Type  string               `json:"type"`
	Order *orders.TrackedOrder `json:"order"`
}

type orderEntry struct {
	order *orders.TrackedOrder
	subs  map[uint64]*Subscription
}

// Synchronizer keeps tracked orders current from a push channel with a polling fallback.
type Synchronizer struct {
	dialer  Dialer
	poller  Poller
	logg    *logger.Logger
	metrics *metrics.SyncMetrics

	maxRetries   int
	retryDelay   time.Duration
	dialTimeout  time.Duration
	pollInterval time.Duration
	minUptime    time.Duration

	root   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	state  enums.ConnectionState
	conn   Conn
	orders map[string]*orderEntry
	nextID uint64

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// NewSynchronizer builds a synchronizer. A nil dialer disables push and polls only.
func NewSynchronizer(dialer Dialer, poller Poller, logg *logger.Logger, opts Options) (*Synchronizer, error) {
	if poller == nil {
		return nil, fmt.Errorf("poller required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	s := &Synchronizer{
		dialer:       dialer,
		poller:       poller,
		logg:         logg,
		metrics:      opts.Metrics,
		maxRetries:   opts.MaxRetries,
		retryDelay:   opts.RetryDelay,
		dialTimeout:  opts.DialTimeout,
		pollInterval: opts.PollInterval,
		minUptime:    opts.MinSessionUptime,
		state:        enums.ConnectionStateDisconnected,
		orders:       make(map[string]*orderEntry),
	}
	if s.maxRetries <= 0 {
		s.maxRetries = defaultMaxRetries
	}
	if s.retryDelay <= 0 {
		s.retryDelay = defaultRetryDelay
	}
	if s.dialTimeout <= 0 {
		s.dialTimeout = defaultDialTimeout
	}
	if s.pollInterval <= 0 {
		s.pollInterval = defaultPollInterval
	}
	if s.minUptime <= 0 {
		s.minUptime = defaultMinUptime
	}
	if dialer == nil {
		s.state = enums.ConnectionStatePollingOnly
	}
	s.root, s.cancel = context.WithCancel(context.Background())
	s.metrics.SetConnectionState(s.state.GaugeValue())
	return s, nil
}

// State reports the push channel state.
func (s *Synchronizer) State() enums.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Synchronizer) setState(ctx context.Context, next enums.ConnectionState) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	s.stateChanged(ctx, prev, next)
}

func (s *Synchronizer) stateChanged(ctx context.Context, prev, next enums.ConnectionState) {
	if prev == next {
		return
	}
	s.metrics.SetConnectionState(next.GaugeValue())
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"from": prev.String(), "to": next.String()}), "tracking.connection_state")
}

// Run drives the push connection until ctx is cancelled or reconnect attempts are exhausted,
// after which the synchronizer stays in polling-only mode. A connection that drops before
// MinSessionUptime counts as a failed attempt.
func (s *Synchronizer) Run(ctx context.Context) error {
	if s.dialer == nil {
		s.setState(ctx, enums.ConnectionStatePollingOnly)
		return nil
	}

	failures := 0
	for {
		if ctx.Err() != nil {
			s.setState(ctx, enums.ConnectionStateDisconnected)
			return nil
		}

		s.setState(ctx, enums.ConnectionStateConnecting)
		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.setState(ctx, enums.ConnectionStateDisconnected)
				return nil
			}
			failures++
			s.metrics.IncConnectAttempt("error")
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"attempt": failures,
				"max":     s.maxRetries,
				"error":   err.Error(),
			}), "tracking.dial_failed")
		} else {
			s.metrics.IncConnectAttempt("ok")
			opened := time.Now()
			s.attach(ctx, conn)
			s.readLoop(ctx, conn)
			s.detach(conn)
			if ctx.Err() != nil {
				s.setState(ctx, enums.ConnectionStateDisconnected)
				return nil
			}
			if uptime := time.Since(opened); uptime < s.minUptime {
				failures++
				s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
					"attempt":   failures,
					"max":       s.maxRetries,
					"uptime_ms": uptime.Milliseconds(),
				}), "tracking.push_dropped_early")
			} else {
				failures = 0
			}
		}

		if failures >= s.maxRetries {
			s.setState(ctx, enums.ConnectionStatePollingOnly)
			s.logg.Warn(ctx, "tracking.push_abandoned_polling_only")
			return nil
		}
		s.setState(ctx, enums.ConnectionStateDisconnected)
		if !sleep(ctx, s.retryDelay) {
			return nil
		}
	}
}

func (s *Synchronizer) dial(ctx context.Context) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.dialTimeout)
	defer cancel()
	return s.dialer.Dial(dialCtx)
}

// attach publishes the connection and re-subscribes every active order. The connection,
// the Connected state and the snapshot of active orders change under one lock so a
// concurrent Subscribe is either in the snapshot or sees the connection.
func (s *Synchronizer) attach(ctx context.Context, conn Conn) {
	s.mu.Lock()
	s.conn = conn
	prev := s.state
	s.state = enums.ConnectionStateConnected
	active := make([]string, 0, len(s.orders))
	for number := range s.orders {
		active = append(active, number)
	}
	s.mu.Unlock()

	s.stateChanged(ctx, prev, enums.ConnectionStateConnected)
	for _, number := range active {
		s.send(ctx, conn, subscriptionFrame{Action: actionSubscribe, OrderNumber: number})
	}
}

func (s *Synchronizer) detach(conn Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Synchronizer) readLoop(ctx context.Context, conn Conn) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "tracking.push_closed")
			}
			return
		}
		s.handleFrame(ctx, data)
	}
}

func (s *Synchronizer) handleFrame(ctx context.Context, data []byte) {
	var frame pushFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "tracking.malformed_frame")
		return
	}
	switch frame.Type {
	case frameStatusUpdated, frameNewOrder:
	default:
		s.logg.Debug(s.logg.WithField(ctx, "frame_type", frame.Type), "tracking.ignored_frame")
		return
	}
	if frame.Order == nil || strings.TrimSpace(frame.Order.OrderNumber) == "" {
		s.logg.Warn(s.logg.WithField(ctx, "frame_type", frame.Type), "tracking.frame_without_order")
		return
	}
	s.apply(ctx, frame.Order, SourcePush)
}

func (s *Synchronizer) send(ctx context.Context, conn Conn, frame subscriptionFrame) {
	s.writeMu.Lock()
	err := conn.WriteJSON(frame)
	s.writeMu.Unlock()
	if err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"action":       frame.Action,
			"order_number": frame.OrderNumber,
			"error":        err.Error(),
		}), "tracking.send_failed")
	}
}

func (s *Synchronizer) connected() Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectedLocked()
}

func (s *Synchronizer) connectedLocked() Conn {
	if s.state != enums.ConnectionStateConnected {
		return nil
	}
	return s.conn
}

// apply reconciles an update into the cache and fans it out to subscribers of that order.
// Updates for orders nobody tracks are dropped.
func (s *Synchronizer) apply(ctx context.Context, incoming *orders.TrackedOrder, source string) Decision {
	ctx = s.logg.WithOrderNumber(ctx, incoming.OrderNumber)

	s.mu.Lock()
	entry, ok := s.orders[incoming.OrderNumber]
	if !ok {
		s.mu.Unlock()
		s.metrics.IncUpdate(source, DecisionIgnored.String())
		return DecisionIgnored
	}
	next, decision := Reconcile(entry.order, incoming)
	if decision.Applied() {
		entry.order = next
		for _, sub := range entry.subs {
			sub.offer(next.Clone())
		}
	}
	s.mu.Unlock()

	s.metrics.IncUpdate(source, decision.String())
	fields := map[string]any{"source": source, "decision": decision.String(), "status": incoming.Status.String()}
	switch decision {
	case DecisionApplied:
		s.logg.Info(s.logg.WithFields(ctx, fields), "tracking.status_applied")
	case DecisionRejectedBackward, DecisionRejectedUnknown, DecisionRejectedTerminal:
		s.logg.Warn(s.logg.WithFields(ctx, fields), "tracking.status_rejected")
	}
	return decision
}

// Snapshot returns the cached view of an order.
func (s *Synchronizer) Snapshot(orderNumber string) (*orders.TrackedOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.orders[orderNumber]
	if !ok || entry.order == nil {
		return nil, false
	}
	return entry.order.Clone(), true
}

// Track returns the cached view of an order, fetching it when nothing is cached.
func (s *Synchronizer) Track(ctx context.Context, orderNumber string) (*orders.TrackedOrder, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number is required")
	}
	if cached, ok := s.Snapshot(orderNumber); ok {
		return cached, nil
	}
	order, err := s.poller.TrackOrder(ctx, orderNumber)
	if err != nil {
		s.metrics.IncPoll("error")
		return nil, err
	}
	s.metrics.IncPoll("ok")
	if !order.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("backend reported unknown status %q", order.Status))
	}
	return order, nil
}

// Subscribe starts tracking orderNumber and delivers every applied change to listener until
// the returned subscription is stopped.
func (s *Synchronizer) Subscribe(orderNumber string, listener Listener) (*Subscription, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number is required")
	}
	if listener == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "listener is required")
	}
	if s.root.Err() != nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "synchronizer is closed")
	}

	ctx, cancel := context.WithCancel(s.root)
	sub := &Subscription{
		orderNumber: orderNumber,
		listener:    listener,
		sync:        s,
		ctx:         ctx,
		cancel:      cancel,
		updates:     make(chan *orders.TrackedOrder, listenerBuffer),
		done:        make(chan struct{}),
	}

	s.mu.Lock()
	s.nextID++
	sub.id = s.nextID
	entry, existed := s.orders[orderNumber]
	if !existed {
		entry = &orderEntry{subs: make(map[uint64]*Subscription)}
		s.orders[orderNumber] = entry
	}
	entry.subs[sub.id] = sub
	if entry.order != nil {
		sub.offer(entry.order.Clone())
	}
	var conn Conn
	if !existed {
		conn = s.connectedLocked()
	}
	tracked := len(s.orders)
	s.mu.Unlock()

	s.metrics.SetSubscriptions(tracked)
	logCtx := s.logg.WithOrderNumber(context.Background(), orderNumber)
	if conn != nil {
		s.send(logCtx, conn, subscriptionFrame{Action: actionSubscribe, OrderNumber: orderNumber})
	}

	s.wg.Add(2)
	go sub.deliverLoop()
	go sub.pollLoop(logCtx)
	return sub, nil
}

func (s *Synchronizer) release(sub *Subscription) {
	s.mu.Lock()
	entry, ok := s.orders[sub.orderNumber]
	last := false
	if ok {
		delete(entry.subs, sub.id)
		if len(entry.subs) == 0 {
			delete(s.orders, sub.orderNumber)
			last = true
		}
	}
	tracked := len(s.orders)
	s.mu.Unlock()

	s.metrics.SetSubscriptions(tracked)
	if last {
		if conn := s.connected(); conn != nil {
			s.send(s.logg.WithOrderNumber(context.Background(), sub.orderNumber), conn,
				subscriptionFrame{Action: actionUnsubscribe, OrderNumber: sub.orderNumber})
		}
	}
}

func (s *Synchronizer) isTerminal(orderNumber string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.orders[orderNumber]
	return ok && entry.order != nil && entry.order.Status.IsTerminal()
}

// Close stops every subscription and waits for their goroutines.
func (s *Synchronizer) Close() {
	s.cancel()
	s.mu.Lock()
	var subs []*Subscription
	for _, entry := range s.orders {
		for _, sub := range entry.subs {
			subs = append(subs, sub)
		}
	}
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Stop()
	}
	s.wg.Wait()
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Synchronizer) poll(ctx, logCtx context.Context, orderNumber string) {
	order, err := s.poller.TrackOrder(ctx, orderNumber)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.metrics.IncPoll("error")
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "tracking.poll_failed")
		return
	}
	s.metrics.IncPoll("ok")
	if order.OrderNumber == "" {
		order.OrderNumber = orderNumber
	}
	s.apply(logCtx, order, SourcePoll)
}
