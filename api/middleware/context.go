package middleware

import (
	"context"

	"github.com/angelmondragon/tableside/internal/cart"
	"github.com/angelmondragon/tableside/pkg/enums"
)

type contextKey string

const (
	ctxUserID contextKey = "user_id"
	ctxScope  contextKey = "scope_key"
	ctxRole   contextKey = "member_role"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

// ScopeFromContext returns the cart scope resolved for the request, or "" when none was set.
func ScopeFromContext(ctx context.Context) cart.ScopeKey {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxScope).(cart.ScopeKey); ok {
		return v
	}
	return ""
}

// WithUserID injects the member identifier into the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxUserID, userID)
}

// WithScope injects the cart scope for downstream handlers.
func WithScope(ctx context.Context, scope cart.ScopeKey) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxScope, scope)
}

// MemberRoleFromContext returns the role of the signed-in member, or "" for guests.
func MemberRoleFromContext(ctx context.Context) enums.MemberRole {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(enums.MemberRole); ok {
		return v
	}
	return ""
}

func WithMemberRole(ctx context.Context, role enums.MemberRole) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxRole, role)
}
