// Package http wires the storefront's HTTP surface.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerochristian/robloxkeys/internal/cart"
	"github.com/nerochristian/robloxkeys/internal/checkout"
	"github.com/nerochristian/robloxkeys/internal/repository"
	"github.com/nerochristian/robloxkeys/pkg/health"
	"github.com/nerochristian/robloxkeys/pkg/middleware"
)

// NewRouter creates a chi router with all storefront routes registered.
func NewRouter(
	machine *checkout.Machine,
	cartService *cart.Service,
	sessions repository.SessionStore,
	healthHandler *health.Handler,
	corsCfg middleware.CORSConfig,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(3 * time.Minute)) // must outlast the crypto polling budget
	r.Use(middleware.CORS(corsCfg))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Metrics(chiRoutePattern))
	r.Use(middleware.RequestLogger(logger))

	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	checkoutHandler := NewCheckoutHandler(machine, logger)
	cartHandler := NewCartHandler(cartService, logger)
	sessionHandler := NewSessionHandler(sessions, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Get("/products", cartHandler.ListProducts)

		r.Group(func(r chi.Router) {
			r.Use(UserIDFromHeader)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cartHandler.GetCart)
				r.Delete("/", cartHandler.ClearCart)
				r.Post("/items", cartHandler.AddItem)
				r.Put("/items/{lineID}", cartHandler.UpdateItemQuantity)
				r.Delete("/items/{lineID}", cartHandler.RemoveItem)
			})

			r.Route("/checkout", func(r chi.Router) {
				r.Post("/start", checkoutHandler.Start)
				r.Post("/payment", checkoutHandler.OpenPayment)
				r.Post("/execute", checkoutHandler.Execute)
				r.Get("/return", checkoutHandler.HandleReturn)
				r.Get("/state", checkoutHandler.GetState)
			})

			r.Route("/session", func(r chi.Router) {
				r.Put("/", sessionHandler.Save)
				r.Delete("/", sessionHandler.Delete)
			})
		})
	})

	return r
}

// chiRoutePattern resolves the matched route pattern for metric labels.
func chiRoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}
