package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angelmondragon/tableside/internal/orders"
	"github.com/angelmondragon/tableside/internal/storage"
	pkgerrors "github.com/angelmondragon/tableside/pkg/errors"
	"github.com/angelmondragon/tableside/pkg/logger"
	"github.com/angelmondragon/tableside/pkg/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

const (
	defaultCheckoutTimeout = 30 * time.Second
	defaultStorageRetry    = 30 * time.Second
	maxGuestNameLength     = 100
	maxPendingAdds         = 50
	lockStripes            = 256

	// MaxLineQuantity caps the quantity of a single cart line.
	MaxLineQuantity = 99

	// tombstone marks a key removed while storage was unreachable.
	tombstone = "\x00removed"

	WarningStorageDegraded = "storage unavailable; cart is kept in memory only"
	WarningCorruptCart     = "stored cart could not be read and was reset"
	WarningQuantityCapped  = "line quantity is capped"
)

// OrderSubmitter hands a built order to the restaurant backend.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, req orders.Request, idempotencyKey string) (*orders.Confirmation, error)
}

// Options tunes a Manager.
type Options struct {
	CheckoutTimeout time.Duration
	// StorageRetry is how long the manager waits before trying storage again after a failure.
	StorageRetry time.Duration
	Metrics      *metrics.CartMetrics
	Now          func() time.Time
}

// AddItemInput describes one add-to-cart request. Quantity 0 means 1.
type AddItemInput struct {
	Item     MenuItem
	Quantity int
	Variant  string
}

// Result is returned by every cart operation that yields a session.
type Result struct {
	Session  *Session
	Total    decimal.Decimal
	Deferred bool
	Warnings []string
}

// Manager owns cart sessions for guest and member scopes.
type Manager struct {
	store     storage.Store
	fallback  *storage.Memory
	degraded  atomic.Bool
	failedAt  atomic.Int64
	retry     time.Duration
	submitter OrderSubmitter
	logg      *logger.Logger
	metrics   *metrics.CartMetrics
	timeout   time.Duration
	now       func() time.Time

	locks [lockStripes]sync.Mutex

	pendingMu sync.Mutex
	pending   map[ScopeKey][]AddItemInput
}

// NewManager wires a cart manager to its storage and order submitter.
func NewManager(store storage.Store, submitter OrderSubmitter, logg *logger.Logger, opts Options) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("storage required")
	}
	if submitter == nil {
		return nil, fmt.Errorf("order submitter required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	timeout := opts.CheckoutTimeout
	if timeout <= 0 {
		timeout = defaultCheckoutTimeout
	}
	retry := opts.StorageRetry
	if retry <= 0 {
		retry = defaultStorageRetry
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store:     store,
		fallback:  storage.NewMemory(0),
		retry:     retry,
		submitter: submitter,
		logg:      logg,
		metrics:   opts.Metrics,
		timeout:   timeout,
		now:       now,
		pending:   make(map[ScopeKey][]AddItemInput),
	}, nil
}

// Degraded reports whether storage is failing and carts are kept in memory.
func (m *Manager) Degraded() bool {
	return m.degraded.Load()
}

// Ping checks cart storage and leaves degraded mode when it answers again.
func (m *Manager) Ping(ctx context.Context) error {
	pinger, ok := m.store.(storage.Pinger)
	if !ok {
		return nil
	}
	if err := pinger.Ping(ctx); err != nil {
		if !requestEnded(ctx, err) {
			m.markDegraded(ctx, "ping", err)
		}
		return err
	}
	m.markHealthy(ctx)
	return nil
}

func stripe(scope ScopeKey) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(scope))
	return int(h.Sum32() % lockStripes)
}

func (m *Manager) lock(scope ScopeKey) func() {
	l := &m.locks[stripe(scope)]
	l.Lock()
	return l.Unlock
}

// lockPair acquires the locks of two scopes in a stable order.
func (m *Manager) lockPair(a, b ScopeKey) func() {
	ia, ib := stripe(a), stripe(b)
	if ia == ib {
		return m.lock(a)
	}
	if ib < ia {
		ia, ib = ib, ia
	}
	m.locks[ia].Lock()
	m.locks[ib].Lock()
	return func() {
		m.locks[ib].Unlock()
		m.locks[ia].Unlock()
	}
}

// requestEnded reports a failure caused by the caller's context rather than by storage.
func requestEnded(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func requestError(err error) error {
	return pkgerrors.Wrap(pkgerrors.CodeTimeout, err, "request ended before cart storage answered")
}

func (m *Manager) markDegraded(ctx context.Context, op string, err error) {
	m.metrics.IncStorageFailure(op)
	m.failedAt.Store(m.now().UnixNano())
	if m.degraded.CompareAndSwap(false, true) {
		m.metrics.SetDegraded(true)
		m.logg.Error(m.logg.WithField(ctx, "storage_op", op), "cart.storage_degraded", err)
	}
}

func (m *Manager) markHealthy(ctx context.Context) {
	if m.degraded.CompareAndSwap(true, false) {
		m.metrics.SetDegraded(false)
		m.logg.Info(ctx, "cart.storage_recovered")
	}
}

// storeUsable is false while degraded, until the retry interval since the last failure elapses.
func (m *Manager) storeUsable() bool {
	if !m.degraded.Load() {
		return true
	}
	return m.now().UnixNano()-m.failedAt.Load() >= int64(m.retry)
}

func (m *Manager) fromFallback(ctx context.Context, key string) (string, error) {
	value, err := m.fallback.Get(ctx, key)
	if err == nil && value == tombstone {
		return "", storage.ErrNotFound
	}
	return value, err
}

// writeBack moves a value written while degraded into storage. The in-memory copy is kept
// until storage accepts it.
func (m *Manager) writeBack(ctx context.Context, key, local string) (string, error) {
	var err error
	if local == tombstone {
		err = m.store.Remove(ctx, key)
	} else {
		err = m.store.Set(ctx, key, local)
	}
	switch {
	case err == nil:
		_ = m.fallback.Remove(ctx, key)
	case !requestEnded(ctx, err):
		m.markDegraded(ctx, "write_back", err)
	}
	if local == tombstone {
		return "", storage.ErrNotFound
	}
	return local, nil
}

func (m *Manager) get(ctx context.Context, key string) (string, error) {
	if m.storeUsable() {
		value, err := m.store.Get(ctx, key)
		switch {
		case err == nil || errors.Is(err, storage.ErrNotFound):
			m.markHealthy(ctx)
			if local, localErr := m.fallback.Get(ctx, key); localErr == nil {
				return m.writeBack(ctx, key, local)
			}
			return value, err
		case requestEnded(ctx, err):
			return "", err
		}
		m.markDegraded(ctx, "get", err)
	}
	return m.fromFallback(ctx, key)
}

func (m *Manager) set(ctx context.Context, key, value string) error {
	if m.storeUsable() {
		err := m.store.Set(ctx, key, value)
		switch {
		case err == nil:
			m.markHealthy(ctx)
			_ = m.fallback.Remove(ctx, key)
			return nil
		case requestEnded(ctx, err):
			return err
		}
		m.markDegraded(ctx, "set", err)
	}
	return m.fallback.Set(ctx, key, value)
}

func (m *Manager) remove(ctx context.Context, key string) error {
	if m.storeUsable() {
		err := m.store.Remove(ctx, key)
		switch {
		case err == nil:
			m.markHealthy(ctx)
			_ = m.fallback.Remove(ctx, key)
			return nil
		case requestEnded(ctx, err):
			return err
		}
		m.markDegraded(ctx, "remove", err)
	}
	return m.fallback.Set(ctx, key, tombstone)
}

func (m *Manager) warnings(extra ...string) []string {
	out := make([]string, 0, len(extra)+1)
	for _, w := range extra {
		if w != "" {
			out = append(out, w)
		}
	}
	if m.degraded.Load() {
		out = append(out, WarningStorageDegraded)
	}
	return out
}

// load reads the scope's cart. Missing data is an empty cart; unreadable data is reset.
func (m *Manager) load(ctx context.Context, scope ScopeKey) (*Session, string, error) {
	session := newSession(scope)
	warning := ""

	raw, err := m.get(ctx, cartKey(scope))
	switch {
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return nil, "", requestError(err)
	case err == nil:
		var decoded Session
		if decodeErr := json.Unmarshal([]byte(raw), &decoded); decodeErr != nil {
			m.logg.Error(ctx, "cart.corrupt_session", decodeErr)
			warning = WarningCorruptCart
			break
		}
		decoded.ScopeKey = scope
		if decoded.Lines == nil {
			decoded.Lines = []Line{}
		}
		session = &decoded
	}

	if table, ok := scope.TableNumber(); ok && session.OwnerDisplayName == "" {
		name, nameErr := m.get(ctx, guestNameKey(table))
		switch {
		case nameErr == nil:
			session.OwnerDisplayName = name
		case !errors.Is(nameErr, storage.ErrNotFound):
			return nil, "", requestError(nameErr)
		}
	}
	for i := range session.Lines {
		if session.Lines[i].Quantity > MaxLineQuantity {
			session.Lines[i].Quantity = MaxLineQuantity
		}
	}
	return session, warning, nil
}

func (m *Manager) save(ctx context.Context, session *Session) error {
	session.UpdatedAt = m.now().UTC()
	payload, err := json.Marshal(session)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode cart")
	}
	if err := m.set(ctx, cartKey(session.ScopeKey), string(payload)); err != nil {
		return requestError(err)
	}
	return nil
}

func (m *Manager) result(session *Session, deferred bool, warnings ...string) Result {
	return Result{
		Session:  session.clone(),
		Total:    TotalPrice(session),
		Deferred: deferred,
		Warnings: m.warnings(warnings...),
	}
}

func (m *Manager) scopeContext(ctx context.Context, scope ScopeKey) context.Context {
	return m.logg.WithScopeKey(ctx, scope.String())
}

// LoadSession returns the current cart for scope, empty when nothing is stored.
func (m *Manager) LoadSession(ctx context.Context, scope ScopeKey) (Result, error) {
	if err := scope.validate(); err != nil {
		return Result{}, err
	}
	ctx = m.scopeContext(ctx, scope)
	unlock := m.lock(scope)
	defer unlock()

	session, warning, err := m.load(ctx, scope)
	if err != nil {
		return Result{}, err
	}
	return m.result(session, false, warning), nil
}

func normalizeAdd(in AddItemInput) (AddItemInput, error) {
	in.Item.ID = strings.TrimSpace(in.Item.ID)
	if in.Item.ID == "" {
		return in, pkgerrors.New(pkgerrors.CodeValidation, "item id is required")
	}
	if in.Item.Price.IsNegative() {
		return in, pkgerrors.New(pkgerrors.CodeValidation, "item price cannot be negative")
	}
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	if in.Quantity < 0 {
		return in, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}
	if in.Quantity > MaxLineQuantity {
		return in, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity must be at most %d", MaxLineQuantity))
	}
	in.Variant = strings.TrimSpace(in.Variant)
	return in, nil
}

func lineFor(in AddItemInput) Line {
	return Line{
		ItemID:    in.Item.ID,
		Variant:   in.Variant,
		Name:      in.Item.Name,
		UnitPrice: in.Item.Price,
		Quantity:  in.Quantity,
	}
}

// AddItem merges an item into the cart. A guest cart without an owner name queues the add
// until SetGuestName is called and reports Deferred.
func (m *Manager) AddItem(ctx context.Context, scope ScopeKey, in AddItemInput) (Result, error) {
	if err := scope.validate(); err != nil {
		return Result{}, err
	}
	in, err := normalizeAdd(in)
	if err != nil {
		m.metrics.IncMutation("add_item", "invalid")
		return Result{}, err
	}
	ctx = m.scopeContext(ctx, scope)
	unlock := m.lock(scope)
	defer unlock()

	session, warning, err := m.load(ctx, scope)
	if err != nil {
		return Result{}, err
	}
	if scope.IsGuest() && session.OwnerDisplayName == "" {
		if !m.queuePending(scope, in) {
			m.metrics.IncMutation("add_item", "queue_full")
			return Result{}, pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("at most %d items can wait for a guest name", maxPendingAdds))
		}
		m.metrics.IncMutation("add_item", "deferred")
		m.logg.Info(m.logg.WithField(ctx, "item_id", in.Item.ID), "cart.add_deferred")
		return m.result(session, true, warning), nil
	}

	capped := ""
	if session.merge(lineFor(in)) {
		capped = WarningQuantityCapped
	}
	session.CheckoutKey = ""
	if err := m.save(ctx, session); err != nil {
		return Result{}, err
	}
	m.metrics.IncMutation("add_item", "ok")
	return m.result(session, false, warning, capped), nil
}

func (m *Manager) queuePending(scope ScopeKey, in AddItemInput) bool {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	if len(m.pending[scope]) >= maxPendingAdds {
		return false
	}
	m.pending[scope] = append(m.pending[scope], in)
	return true
}

// PendingAdds reports how many adds are waiting for a guest name.
func (m *Manager) PendingAdds(scope ScopeKey) int {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	return len(m.pending[scope])
}

func (m *Manager) requeue(scope ScopeKey, queued []AddItemInput) {
	if len(queued) == 0 {
		return
	}
	m.pendingMu.Lock()
	m.pending[scope] = append(queued, m.pending[scope]...)
	m.pendingMu.Unlock()
}

func (m *Manager) takePending(scope ScopeKey) []AddItemInput {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	queued := m.pending[scope]
	delete(m.pending, scope)
	return queued
}

// SetGuestName records the display name for a table and replays queued adds once, in order.
func (m *Manager) SetGuestName(ctx context.Context, scope ScopeKey, name string) (Result, error) {
	if err := scope.validate(); err != nil {
		return Result{}, err
	}
	table, ok := scope.TableNumber()
	if !ok {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "only table carts carry a guest name")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "guest name is required")
	}
	if len([]rune(name)) > maxGuestNameLength {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("guest name must be at most %d characters", maxGuestNameLength))
	}

	ctx = m.scopeContext(ctx, scope)
	unlock := m.lock(scope)
	defer unlock()

	if err := m.set(ctx, guestNameKey(table), name); err != nil {
		return Result{}, requestError(err)
	}
	session, warning, err := m.load(ctx, scope)
	if err != nil {
		return Result{}, err
	}
	session.OwnerDisplayName = name

	queued := m.takePending(scope)
	for _, in := range queued {
		session.merge(lineFor(in))
	}
	session.CheckoutKey = ""
	if err := m.save(ctx, session); err != nil {
		m.requeue(scope, queued)
		return Result{}, err
	}

	m.metrics.IncMutation("set_guest_name", "ok")
	m.logg.Info(m.logg.WithField(ctx, "replayed_adds", len(queued)), "cart.guest_name_set")
	return m.result(session, false, warning), nil
}

// UpdateQuantity sets a line's quantity, clamped to [1, MaxLineQuantity].
func (m *Manager) UpdateQuantity(ctx context.Context, scope ScopeKey, itemID, variant string, quantity int) (Result, error) {
	if err := scope.validate(); err != nil {
		return Result{}, err
	}
	quantity = max(1, min(quantity, MaxLineQuantity))
	itemID = strings.TrimSpace(itemID)
	ctx = m.scopeContext(ctx, scope)
	unlock := m.lock(scope)
	defer unlock()

	session, warning, err := m.load(ctx, scope)
	if err != nil {
		return Result{}, err
	}
	idx := session.find(itemID, strings.TrimSpace(variant))
	if idx < 0 {
		m.metrics.IncMutation("update_quantity", "not_found")
		return Result{}, pkgerrors.New(pkgerrors.CodeNotFound, "item is not in the cart").
			WithDetails(map[string]any{"item_id": itemID, "variant": variant})
	}
	session.Lines[idx].Quantity = quantity
	session.CheckoutKey = ""
	if err := m.save(ctx, session); err != nil {
		return Result{}, err
	}
	m.metrics.IncMutation("update_quantity", "ok")
	return m.result(session, false, warning), nil
}

// RemoveItem deletes a line. Removing an absent line changes nothing.
func (m *Manager) RemoveItem(ctx context.Context, scope ScopeKey, itemID, variant string) (Result, error) {
	if err := scope.validate(); err != nil {
		return Result{}, err
	}
	itemID = strings.TrimSpace(itemID)
	ctx = m.scopeContext(ctx, scope)
	unlock := m.lock(scope)
	defer unlock()

	session, warning, err := m.load(ctx, scope)
	if err != nil {
		return Result{}, err
	}
	idx := session.find(itemID, strings.TrimSpace(variant))
	if idx < 0 {
		m.metrics.IncMutation("remove_item", "noop")
		return m.result(session, false, warning), nil
	}
	session.Lines = append(session.Lines[:idx], session.Lines[idx+1:]...)
	session.CheckoutKey = ""
	if err := m.save(ctx, session); err != nil {
		return Result{}, err
	}
	m.metrics.IncMutation("remove_item", "ok")
	return m.result(session, false, warning), nil
}

// Clear wipes the stored cart for scope. The guest name is kept.
func (m *Manager) Clear(ctx context.Context, scope ScopeKey) error {
	if err := scope.validate(); err != nil {
		return err
	}
	ctx = m.scopeContext(ctx, scope)
	unlock := m.lock(scope)
	defer unlock()
	return m.clearLocked(ctx, scope)
}

func (m *Manager) clearLocked(ctx context.Context, scope ScopeKey) error {
	if err := m.remove(ctx, cartKey(scope)); err != nil {
		m.metrics.IncMutation("clear", "error")
		return requestError(err)
	}
	m.metrics.IncMutation("clear", "ok")
	return nil
}

// Forget drops everything held for scope: cart, guest name and queued adds.
func (m *Manager) Forget(ctx context.Context, scope ScopeKey) error {
	if err := scope.validate(); err != nil {
		return err
	}
	ctx = m.scopeContext(ctx, scope)
	unlock := m.lock(scope)
	defer unlock()

	m.takePending(scope)
	err := m.remove(ctx, cartKey(scope))
	if table, ok := scope.TableNumber(); ok {
		err = multierr.Append(err, m.remove(ctx, guestNameKey(table)))
	}
	if err != nil {
		m.metrics.IncMutation("forget", "error")
		return requestError(err)
	}
	m.metrics.IncMutation("forget", "ok")
	return nil
}

// AdoptGuestCart moves a table cart into a member cart after login. Quantities are summed per
// (item, variant); the member's existing price snapshot wins. The guest cart is cleared.
func (m *Manager) AdoptGuestCart(ctx context.Context, guest, member ScopeKey) (Result, error) {
	if err := guest.validate(); err != nil {
		return Result{}, err
	}
	if err := member.validate(); err != nil {
		return Result{}, err
	}
	if !guest.IsGuest() || member.IsGuest() {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "adoption moves a table cart into a member cart")
	}
	ctx = m.logg.WithFields(ctx, map[string]any{"scope_key": member.String(), "guest_scope_key": guest.String()})
	unlock := m.lockPair(guest, member)
	defer unlock()

	guestSession, guestWarning, err := m.load(ctx, guest)
	if err != nil {
		return Result{}, err
	}
	memberSession, memberWarning, err := m.load(ctx, member)
	if err != nil {
		return Result{}, err
	}
	if guestSession.IsEmpty() {
		return m.result(memberSession, false, guestWarning, memberWarning), nil
	}

	for _, line := range guestSession.Lines {
		memberSession.merge(line)
	}
	memberSession.CheckoutKey = ""
	if err := m.save(ctx, memberSession); err != nil {
		return Result{}, err
	}
	if err := m.clearLocked(context.WithoutCancel(ctx), guest); err != nil {
		m.logg.Error(ctx, "cart.adopt_clear_failed", err)
	}
	m.takePending(guest)

	m.metrics.IncMutation("adopt_guest", "ok")
	m.logg.Info(m.logg.WithField(ctx, "adopted_lines", len(guestSession.Lines)), "cart.guest_adopted")
	return m.result(memberSession, false, guestWarning, memberWarning), nil
}
