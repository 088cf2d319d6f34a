package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/angelmondragon/tableside/api/responses"
	"github.com/angelmondragon/tableside/internal/cart"
	pkgAuth "github.com/angelmondragon/tableside/pkg/auth"
	"github.com/angelmondragon/tableside/pkg/config"
	pkgerrors "github.com/angelmondragon/tableside/pkg/errors"
	"github.com/angelmondragon/tableside/pkg/logger"
)

const (
	tableHeader = "X-Table-Number"
	tableQuery  = "table"
)

// Scope resolves the cart scope of the caller. A table number (header or query) yields the
// guest scope of that table; otherwise a bearer token is required and its user_id claim
// yields the member scope. Tables above App.MaxTableNumber are rejected when the limit is set.
func Scope(cfg *config.Config, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity := cart.Identity{}

			if raw := tableNumber(r); raw != "" {
				table, err := strconv.Atoi(raw)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "table number must be numeric"))
					return
				}
				if limit := cfg.App.MaxTableNumber; limit > 0 && table > limit {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "table number must be at most "+strconv.Itoa(limit)))
					return
				}
				identity.TableNumber = table
			} else {
				token := pkgAuth.BearerToken(r.Header.Get("Authorization"))
				if token == "" {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "table number or credentials required"))
					return
				}
				claims, err := pkgAuth.ParseAccessToken(cfg.JWT, token)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
					return
				}
				identity.MemberID = claims.UserID
				ctx = WithUserID(ctx, claims.UserID)
				ctx = WithMemberRole(ctx, claims.Role)
				if logg != nil {
					ctx = logg.WithFields(ctx, map[string]any{
						"user_id":     claims.UserID,
						"member_role": claims.Role.String(),
					})
				}
			}

			scope, err := cart.ResolveScope(identity)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}

			ctx = WithScope(ctx, scope)
			if logg != nil {
				ctx = logg.WithScopeKey(ctx, scope.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func tableNumber(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(tableHeader)); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get(tableQuery))
}
