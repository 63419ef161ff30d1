package http

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/rvasek/authbridge/internal/auth"
	"github.com/rvasek/authbridge/internal/config"
	"github.com/rvasek/authbridge/internal/httputil"
	"github.com/rvasek/authbridge/internal/logging"
	"github.com/rvasek/authbridge/internal/user"
)

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, authHandler *auth.Handler, authMiddleware *auth.Middleware, logger *logging.Logger) *chi.Mux {
	r := chi.NewRouter()

	// CORS - must be first. Credentials are required for the session cookie.
	if len(cfg.Server.TrustedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.Server.TrustedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           300, // 5 minutes
		}))
	}

	// Global middleware
	r.Use(SecurityHeaders)               // Security headers on all responses
	r.Use(middleware.Recoverer)          // Recover from panics
	r.Use(middleware.RequestID)          // Add request ID
	r.Use(middleware.RealIP)             // Set RemoteAddr to real IP
	r.Use(logging.RequestLogger(logger)) // Structured logging with request context
	r.Use(middleware.Compress(5))        // Compress responses

	// Public routes
	r.Get("/health", handleHealth)

	// Swagger UI - only in development
	if cfg.Server.IsDevelopment() {
		log.Println("Swagger UI enabled at /swagger/*")
		r.Get("/swagger/*", httpSwagger.WrapHandler)
	}

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Get("/google", authHandler.GoogleLogin)
		r.Get("/google/callback", authHandler.GoogleCallback)
		r.Post("/link-account", authHandler.LinkAccount)
		r.Get("/verify-email", authHandler.VerifyEmail)
		r.Post("/resend-verification", authHandler.ResendVerificationEmail)
		r.Post("/logout", authHandler.Logout)
	})

	// Protected routes (require a live session)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.RequireSession)
		r.Get("/auth/me", authHandler.Me)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.RequireRole(user.RoleAdmin))
			r.Get("/admin/ping", handleAdminPing)
		})
	})

	return r
}

// handleHealth is a simple health check endpoint
// @Summary      Health check
// @Tags         health
// @Produce      json
// @Success      200 {object} map[string]string
// @Router       /health [get]
func handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, map[string]string{"status": "api is running"}, http.StatusOK)
}

// handleAdminPing verifies admin role gating end to end.
// @Summary      Admin ping
// @Tags         admin
// @Produce      json
// @Success      200 {object} map[string]string
// @Failure      403 {object} map[string]string "Forbidden"
// @Router       /admin/ping [get]
func handleAdminPing(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, map[string]string{"message": "pong"}, http.StatusOK)
}
