package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carebridge/identity/pkg/health"
	"github.com/carebridge/identity/pkg/middleware"

	"github.com/carebridge/identity/internal/domain"
	"github.com/carebridge/identity/internal/service"
)

// RouterConfig carries everything the router needs beyond the service.
type RouterConfig struct {
	Cookies           CookieConfig
	CORSOrigins       []string
	Environment       string
	RateLimitRPS      int
	RateLimitBurst    int
	PprofAllowedCIDRs []string
	// App is the downstream application the route guard protects. Nil means
	// the identity service runs standalone and unknown paths 404 (still
	// behind the guard).
	App http.Handler
}

// NewRouter assembles the identity service's full HTTP surface: the auth
// API, operational endpoints, and the route guard around the application.
func NewRouter(
	authService *service.AuthService,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: cfg.CORSOrigins,
		Environment:    cfg.Environment,
	}))
	r.Use(middleware.Tracing("identity"))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics("identity"))

	// Operational endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)

	authHandler := NewAuthHandler(authService, cfg.Cookies)

	// The session resolver backs both RouteGuard and the bearer middleware.
	validate := func(ctx context.Context, token string) (*middleware.Claims, error) {
		session, err := authService.Resolve(ctx, token)
		if err != nil {
			return nil, err
		}
		u := session.User
		return &middleware.Claims{
			UserID:          u.ID,
			Email:           u.Email,
			FirstName:       u.FirstName,
			LastName:        u.LastName,
			Role:            string(u.Role),
			Verified:        u.EmailVerified,
			ProfileComplete: u.ProfileComplete,
			Permissions:     append(domain.Permissions(u.Role), u.PermissionOverrides...),
		}, nil
	}

	rateLimited := middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)

	r.Route("/api/auth", func(r chi.Router) {
		r.Use(middleware.NoStore)
		r.Use(ContentTypeJSON)

		// Public endpoints. Login and reset requests are rate limited per
		// client IP on top of the redis attempt counter.
		r.Group(func(r chi.Router) {
			r.Use(rateLimited)
			r.Post("/login", authHandler.Login)
			r.Post("/password-reset/request", authHandler.RequestPasswordReset)
		})
		r.Post("/register", authHandler.Register)
		r.Post("/refresh", authHandler.Refresh)
		r.Post("/password-reset/confirm", authHandler.ConfirmPasswordReset)
		r.Post("/verify-email", authHandler.VerifyEmail)
		r.Get("/status", authHandler.Status)

		// Bearer-only endpoints.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(validate))
			r.Post("/logout", authHandler.Logout)
			r.Put("/password", authHandler.ChangePassword)
			r.Post("/verify-email/resend", authHandler.ResendVerification)
			r.Post("/profile-complete", authHandler.MarkProfileComplete)
		})
	})

	// Everything else is the application, behind the route guard.
	app := cfg.App
	if app == nil {
		app = http.NotFoundHandler()
	}
	guard := RouteGuard(authService.Resolve)
	r.NotFound(guard(app).ServeHTTP)

	return r
}

// ContentTypeJSON enforces that requests with a body have Content-Type: application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 || r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if !strings.HasPrefix(ct, "application/json") {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnsupportedMediaType)
				_, _ = w.Write([]byte(`{"error":{"code":"UNSUPPORTED_MEDIA_TYPE","message":"Content-Type must be application/json"}}`))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
