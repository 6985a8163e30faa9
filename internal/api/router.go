package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/hugh/insightforge/internal/api/handlers"
	"github.com/hugh/insightforge/internal/api/middleware"
	"github.com/hugh/insightforge/internal/api/respond"
	"github.com/hugh/insightforge/internal/apperr"
	"github.com/hugh/insightforge/internal/auth"
	"github.com/hugh/insightforge/internal/authz"
	"github.com/hugh/insightforge/internal/tenancy"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Router struct {
	chi.Router
	stops []func()
}

type RouterConfig struct {
	DB             *gorm.DB
	Redis          *redis.Client
	Logger         *slog.Logger
	JWTService     *auth.JWTService
	AuthService    *auth.Service
	Tenancy        *tenancy.Service
	OAuth          auth.OAuthProvider      // nil disables social login
	Queue          handlers.TaskEnqueuer   // nil applies usage changes inline
	LoginLimiter   middleware.LoginLimiter // nil disables login throttling
	AllowedOrigins []string                // CORS allowed origins
	RateLimitReqs  int                     // Rate limit requests per window
	RateLimitSecs  int                     // Rate limit window in seconds
	SecureCookies  bool
}

func NewRouter(cfg RouterConfig) *Router {
	r := chi.NewRouter()
	router := &Router{Router: r}

	// Global middleware
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))

	// Rate limiting - applied globally to prevent abuse
	if cfg.RateLimitReqs > 0 {
		limiter := middleware.NewRateLimiter(cfg.RateLimitReqs, cfg.RateLimitSecs)
		router.stops = append(router.stops, limiter.Stop)
		r.Use(middleware.RateLimit(limiter, middleware.ByIP))
	}

	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Auth-Token"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respond.Message(w, http.StatusNotFound, apperr.KindNotFound, "Resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respond.Message(w, http.StatusMethodNotAllowed, apperr.KindValidation, "Method not allowed")
	})

	csrfStore := middleware.NewCSRFStore()
	router.stops = append(router.stops, csrfStore.Stop)

	// Initialize handlers
	refreshTTL := cfg.JWTService.RefreshTTL()
	healthHandler := handlers.NewHealthHandler(cfg.DB, cfg.Redis)
	authHandler := handlers.NewAuthHandler(cfg.AuthService, refreshTTL, cfg.SecureCookies, cfg.Logger)
	meHandler := handlers.NewMeHandler(cfg.AuthService, cfg.Logger)
	orgHandler := handlers.NewOrganizationHandler(cfg.Tenancy, cfg.Queue, cfg.Logger)
	memberHandler := handlers.NewMemberHandler(cfg.Tenancy, cfg.Logger)

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	requireOrg := func(action authz.Action) func(http.Handler) http.Handler {
		return middleware.RequireOrgAction(cfg.Tenancy, action, cfg.Logger)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Public auth endpoints
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.Register)
			if cfg.LoginLimiter != nil {
				r.With(middleware.LoginThrottle(cfg.LoginLimiter, cfg.Logger)).Post("/login", authHandler.Login)
			} else {
				r.Post("/login", authHandler.Login)
			}
			r.Post("/refresh", authHandler.Refresh)
			r.Post("/logout", authHandler.Logout)

			if cfg.OAuth != nil {
				oauthHandler := handlers.NewOAuthHandler(cfg.OAuth, refreshTTL, cfg.SecureCookies, cfg.Logger)
				r.Get("/oauth/google/login", oauthHandler.Login)
				r.Get("/oauth/google/callback", oauthHandler.Callback)
			}
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWTService))
			r.Use(middleware.CSRF(csrfStore, cfg.SecureCookies))

			r.Get("/me", meHandler.Get)
			r.Put("/me/password", meHandler.ChangePassword)

			r.Route("/organizations", func(r chi.Router) {
				r.Get("/", orgHandler.List)
				r.Post("/", orgHandler.Create)

				r.Route("/{slug}", func(r chi.Router) {
					r.With(requireOrg(authz.ActionView)).Get("/", orgHandler.Get)
					r.With(requireOrg(authz.ActionManageSettings)).Put("/", orgHandler.Update)
					r.With(requireOrg(authz.ActionDeleteOrganization)).Delete("/", orgHandler.Delete)
					r.With(requireOrg(authz.ActionUploadData)).Post("/usage", orgHandler.Usage)

					r.Route("/members", func(r chi.Router) {
						r.With(requireOrg(authz.ActionView)).Get("/", memberHandler.List)
						r.With(requireOrg(authz.ActionManageMembers)).Post("/", memberHandler.Add)
						r.With(requireOrg(authz.ActionManageMembers)).Put("/{userID}", memberHandler.UpdateRole)
						// Self-removal is checked by the handler.
						r.With(requireOrg(authz.ActionView)).Delete("/{userID}", memberHandler.Remove)
					})
				})
			})
		})
	})

	return router
}

// Close stops the router's background cleanup goroutines.
func (r *Router) Close() {
	for _, stop := range r.stops {
		stop()
	}
}
