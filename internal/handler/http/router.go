package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/altenburg/erp-identity/internal/auth"
	"github.com/altenburg/erp-identity/pkg/health"
	"github.com/altenburg/erp-identity/pkg/middleware"
)

// RouterConfig collects the collaborators the router mounts.
type RouterConfig struct {
	Auth        Authenticator
	Users       UserAdministrator
	Verifier    middleware.TokenVerifier
	Policy      *auth.Policy
	Limiter     *middleware.RateLimiter
	Health      *health.Handler
	CORSOrigins []string
	Logger      *slog.Logger
}

// NewRouter creates a chi router with all identity routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Tracing)
	r.Use(middleware.RequestLogging(cfg.Logger))
	r.Use(middleware.Metrics)

	// Health check endpoints
	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	authHandler := NewAuthHandler(cfg.Auth, cfg.Logger)
	userHandler := NewUserHandler(cfg.Users, cfg.Logger)
	authenticate := middleware.Authenticate(cfg.Verifier)

	r.Route("/api/auth", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Group(func(r chi.Router) {
			r.Use(cfg.Limiter.Middleware)

			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
		})
		r.Post("/logout", authHandler.Logout)

		r.With(authenticate, authorize(cfg.Policy, auth.OpCurrentSession)).
			Get("/me", authHandler.Me)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(authenticate)

		r.With(authorize(cfg.Policy, auth.OpListRoles)).Get("/roles", userHandler.ListRoles)

		r.Route("/users", func(r chi.Router) {
			r.With(authorize(cfg.Policy, auth.OpListUsers)).Get("/", userHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.With(authorize(cfg.Policy, auth.OpGetUser)).Get("/", userHandler.Get)
				r.With(authorize(cfg.Policy, auth.OpUpdateUser)).Put("/", userHandler.Update)
				r.With(authorize(cfg.Policy, auth.OpDeleteUser)).Delete("/", userHandler.Delete)
				r.With(authorize(cfg.Policy, auth.OpUpdateRoles)).Put("/roles", userHandler.UpdateRoles)
				r.With(authorize(cfg.Policy, auth.OpSetActive)).Put("/status", userHandler.SetStatus)
				r.With(authorize(cfg.Policy, auth.OpSetLock)).Put("/lock", userHandler.SetLock)
				r.With(authorize(cfg.Policy, auth.OpUpdatePassword)).Put("/password", authHandler.UpdatePassword)
			})
		})
	})

	return r
}
