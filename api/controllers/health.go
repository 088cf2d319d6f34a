package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/tableside/api/responses"
	"github.com/angelmondragon/tableside/pkg/config"
	pkgerrors "github.com/angelmondragon/tableside/pkg/errors"
	"github.com/angelmondragon/tableside/pkg/logger"
)

const readinessTimeout = 2 * time.Second

// Pinger is any dependency that can report its own health.
type Pinger interface {
	Ping(context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Tableside-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings cart storage and answers 503 when it is unreachable. A successful ping through
// the cart manager also ends its degraded mode.
func HealthReady(cfg *config.Config, logg *logger.Logger, storage Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Tableside-Env", cfg.App.Env)
		if storage != nil {
			ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
			defer cancel()
			if err := storage.Ping(ctx); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cart storage unavailable"))
				return
			}
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
