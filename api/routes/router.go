package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/tableside/api/controllers"
	"github.com/angelmondragon/tableside/api/middleware"
	"github.com/angelmondragon/tableside/pkg/config"
	"github.com/angelmondragon/tableside/pkg/logger"
	pkgredis "github.com/angelmondragon/tableside/pkg/redis"
)

// NewRouter wires the gateway routes. readiness is pinged by /health/ready. idempotency may be
// nil when redis is not configured, in which case checkout is not replay protected.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	readiness controllers.Pinger,
	idempotency pkgredis.IdempotencyStore,
	carts controllers.CartService,
	tracker controllers.OrderTracker,
	gatherer prometheus.Gatherer,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/orders/{orderNumber}", func(r chi.Router) {
			r.Get("/", controllers.OrderFetch(tracker, logg))
			r.Get("/events", controllers.OrderEvents(tracker, logg, cfg.App.EventHeartbeat))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Scope(cfg, logg))

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", controllers.CartFetch(carts, logg))
				r.Delete("/", controllers.CartForget(carts, logg))
				r.Put("/guest-name", controllers.CartSetGuestName(carts, logg))
				r.Post("/adopt-guest", controllers.CartAdoptGuest(carts, logg))
				r.Post("/items", controllers.CartAddItem(carts, logg))
				r.Patch("/items/{itemID}", controllers.CartUpdateItem(carts, logg))
				r.Delete("/items/{itemID}", controllers.CartRemoveItem(carts, logg))
			})

			r.With(middleware.Idempotency(idempotency, logg)).Post("/checkout", controllers.Checkout(carts, logg))
		})
	})

	return r
}
