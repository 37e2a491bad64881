package rest

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/meddevice-orders/internal/audit"
	"github.com/frahmantamala/meddevice-orders/internal/auth"
	"github.com/frahmantamala/meddevice-orders/internal/obs"
	"github.com/frahmantamala/meddevice-orders/internal/order"
	"github.com/frahmantamala/meddevice-orders/internal/transport/middleware"
	"github.com/frahmantamala/meddevice-orders/internal/transport/swagger"
	"github.com/frahmantamala/meddevice-orders/internal/user"
	"github.com/go-chi/chi"
)

// Handlers groups everything the router mounts. Nil handlers leave their
// routes unregistered.
type Handlers struct {
	Health *HealthHandler
	Auth   *auth.Handler
	User   *user.Handler
	Order  *order.Handler
	Audit  *audit.Handler
}

type RouterOptions struct {
	AllowedOrigins string
	OpenAPISpec    []byte
	Validator      *middleware.OpenAPIValidator
	AuthLimiter    *middleware.RateLimiter
	ClientIP       *middleware.ClientIPResolver
	Metrics        *obs.Metrics
	MetricsPath    string
}

func RegisterAllRoutes(router *chi.Mux, h Handlers, opts RouterOptions, logger *slog.Logger) {
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.RequestID)
	if opts.ClientIP != nil {
		router.Use(opts.ClientIP.Middleware)
	} else {
		router.Use(middleware.ClientIP)
	}
	router.Use(middleware.CORS(opts.AllowedOrigins))
	router.Use(middleware.LoggingMiddleware(logger))
	if opts.Metrics != nil {
		router.Use(middleware.Metrics(opts.Metrics))
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Method(http.MethodGet, path, opts.Metrics.Handler())
	}

	if len(opts.OpenAPISpec) > 0 {
		spec := opts.OpenAPISpec
		router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/yaml")
			_, _ = w.Write(spec)
		})
		router.Handle("/swagger/*", swagger.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		if opts.Validator != nil {
			r.Use(opts.Validator.Middleware)
		}

		if h.Health != nil {
			r.Get("/health", h.Health.Health)
			r.Get("/ping", h.Health.Ping)
		}

		if h.Auth == nil {
			return
		}

		r.Route("/auth", func(ar chi.Router) {
			if opts.AuthLimiter != nil {
				ar.Use(opts.AuthLimiter.Middleware)
			}
			ar.Post("/login", h.Auth.Login)
			ar.Post("/refresh", h.Auth.RefreshSession)
			ar.Post("/password-reset", h.Auth.RequestPasswordReset)
			ar.Post("/password-reset/confirm", h.Auth.ConfirmPasswordReset)
			ar.Post("/password-change", h.Auth.ChangePassword)
		})

		r.Group(func(pr chi.Router) {
			pr.Use(h.Auth.AuthMiddleware)

			pr.Get("/authorize", h.Auth.Authorize)

			if h.User != nil {
				pr.Get("/me", h.User.GetCurrentUser)
				pr.Post("/users/{userID}/roles", h.User.AssignRole)
			}

			if h.Order != nil {
				pr.Route("/orders", func(or chi.Router) {
					or.Post("/", h.Order.CreateOrder)
					or.Get("/", h.Order.ListOrders)
					or.Get("/{orderNumber}", h.Order.GetOrder)
					or.Post("/{orderNumber}/transitions", h.Order.TransitionOrder)
					or.Get("/{orderNumber}/transitions", h.Order.ListTransitions)
					or.Get("/{orderNumber}/available-transitions", h.Order.AvailableTransitions)
				})
			}

			if h.Audit != nil {
				pr.Get("/audit", h.Audit.ListAudit)
			}
		})
	})
}
