package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/lms-api/internal/api/http/handlers"
	"github.com/spec-kit/lms-api/internal/auth"
	"github.com/spec-kit/lms-api/internal/ratelimit"
)

// RouteConfig bundles dependencies for route registration. Nil limiters and a
// nil Metrics handler are skipped.
type RouteConfig struct {
	Health    *handlers.HealthHandler
	Auth      *handlers.AuthHandler
	Uploads   *handlers.UploadHandler
	Materials *handlers.MaterialHandler
	Metrics   fiber.Handler

	AuthMiddleware *auth.AuthMiddleware
	MaterialGate   *auth.ResourceGate
	// SessionGate is a ResourceGate that only accepts bearer session tokens.
	SessionGate *auth.ResourceGate
	AdminGate   *auth.AdminResourceGate

	APILimiter   *ratelimit.Limiter
	AuthLimiter  *ratelimit.Limiter
	ResetLimiter *ratelimit.Limiter
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", cfg.Metrics)
	}

	api := app.Group("/api", limit(cfg.APILimiter))

	authGroup := api.Group("/auth")
	authGroup.Post("/register", limit(cfg.AuthLimiter), cfg.Auth.Register)
	authGroup.Post("/login", limit(cfg.AuthLimiter), cfg.Auth.Login)
	authGroup.Post("/promote", limit(cfg.AuthLimiter), cfg.AuthMiddleware.Optional, cfg.Auth.Promote)
	authGroup.Get("/me", cfg.AuthMiddleware.Handle, auth.RequireRoles(), cfg.Auth.Me)
	authGroup.Post("/forgot-password", limit(cfg.ResetLimiter), cfg.Auth.ForgotPassword)
	authGroup.Post("/reset-password", limit(cfg.ResetLimiter), cfg.Auth.ResetPassword)

	upload := api.Group("/upload", cfg.AuthMiddleware.Handle, auth.RequireAdmin())
	upload.Post("/file", cfg.Uploads.UploadFile)
	upload.Post("/files", cfg.Uploads.UploadFiles)

	api.Get("/courses/:courseId/materials", cfg.SessionGate.Handle, cfg.Materials.List)
	api.Post("/courses/:courseId/materials/access-token", cfg.SessionGate.Handle, cfg.Materials.AccessToken)
	api.Get("/courses/:courseId/materials/:filename", cfg.MaterialGate.Handle, cfg.Materials.Serve)
	api.Get("/materials/:filename", cfg.MaterialGate.Handle, cfg.Materials.Serve)

	api.Get("/admin/courses/:courseId/materials/:filename", cfg.AdminGate.Handle, cfg.Materials.Serve)
}

func limit(l *ratelimit.Limiter) fiber.Handler {
	if l == nil {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return l.Handle
}
