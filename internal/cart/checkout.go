package cart

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/tableside/internal/orders"
	pkgerrors "github.com/angelmondragon/tableside/pkg/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CheckoutInput carries optional order notes.
type CheckoutInput struct {
	Notes string
}

// CheckoutResult is returned after the backend accepted the order.
type CheckoutResult struct {
	Confirmation *orders.Confirmation
	Total        decimal.Decimal
	Warnings     []string
}

// BuildRequest turns a session into the immutable order request sent to the backend.
func BuildRequest(session *Session, notes string) orders.Request {
	req := orders.Request{
		Items: make([]orders.RequestItem, 0, len(session.Lines)),
		Notes: strings.TrimSpace(notes),
	}
	for _, l := range session.Lines {
		req.Items = append(req.Items, orders.RequestItem{MenuItemID: l.ItemID, Quantity: l.Quantity})
	}
	if table, ok := session.ScopeKey.TableNumber(); ok {
		name := session.OwnerDisplayName
		req.TableNumber = &table
		req.GuestName = &name
	}
	return req
}

// Checkout submits the cart as an order. The cart is cleared only after the backend accepts it;
// every failure leaves it untouched.
func (m *Manager) Checkout(ctx context.Context, scope ScopeKey, in CheckoutInput) (*CheckoutResult, error) {
	if err := scope.validate(); err != nil {
		return nil, err
	}
	ctx = m.scopeContext(ctx, scope)
	unlock := m.lock(scope)
	defer unlock()

	session, warning, err := m.load(ctx, scope)
	if err != nil {
		return nil, err
	}
	if session.IsEmpty() {
		m.metrics.ObserveCheckout("empty_cart", 0)
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	if scope.IsGuest() && strings.TrimSpace(session.OwnerDisplayName) == "" {
		m.metrics.ObserveCheckout("missing_guest_name", 0)
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "guest name is required before checkout")
	}

	req := BuildRequest(session, in.Notes)
	if err := req.Validate(); err != nil {
		m.metrics.ObserveCheckout("invalid", 0)
		return nil, err
	}

	// Reused across failed attempts until the cart changes.
	if session.CheckoutKey == "" {
		session.CheckoutKey = uuid.NewString()
		if err := m.save(ctx, session); err != nil {
			return nil, err
		}
	}
	ctx = m.logg.WithField(ctx, "checkout_key", session.CheckoutKey)

	submitCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	started := time.Now()
	confirmation, err := m.submitter.SubmitOrder(submitCtx, req, session.CheckoutKey)
	elapsed := time.Since(started)
	if err != nil {
		err = classifySubmitError(err)
		m.metrics.ObserveCheckout(string(pkgerrors.CodeOf(err)), elapsed)
		m.logg.Error(ctx, "cart.checkout_failed", err)
		return nil, err
	}

	total := TotalPrice(session)
	// the order exists; the cart goes even if the caller has gone away
	if err := m.clearLocked(context.WithoutCancel(ctx), scope); err != nil {
		m.logg.Error(ctx, "cart.checkout_clear_failed", err)
	}
	m.metrics.ObserveCheckout("ok", elapsed)
	m.logg.Info(m.logg.WithOrderNumber(ctx, confirmation.OrderNumber), "cart.checkout_succeeded")

	return &CheckoutResult{
		Confirmation: confirmation,
		Total:        total,
		Warnings:     m.warnings(warning),
	}, nil
}

func classifySubmitError(err error) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return pkgerrors.Wrap(pkgerrors.CodeTimeout, err, "order submission timed out")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "order submission failed")
}
