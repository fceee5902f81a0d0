package routes

import (
	"github.com/argus-sec/argus/internal/config"
	"github.com/argus-sec/argus/internal/handlers"
	"github.com/argus-sec/argus/internal/middleware"
	"github.com/gofiber/fiber/v2"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	authHandler *handlers.AuthHandler,
	assetHandler *handlers.AssetHandler,
	sessionHandler *handlers.SessionHandler,
	auditHandler *handlers.AuditHandler,
	systemHandler *handlers.SystemHandler,
) {
	// ─── Public ──────────────────────────────────────────────────────────
	app.Get("/api/health", systemHandler.Health)

	// ─── Auth ────────────────────────────────────────────────────────────
	app.Post("/api/auth/login", authHandler.Login)
	app.Post("/api/auth/refresh", authHandler.Refresh)

	// ─── Protected routes ────────────────────────────────────────────────
	api := app.Group("/api", middleware.JWTProtected(cfg.JWTSecret))

	api.Get("/auth/me", authHandler.Me)

	// Dashboard
	api.Get("/dashboard/overview", systemHandler.DashboardOverview)
	api.Post("/system/sweep", systemHandler.TriggerSweep)

	// Assets
	api.Get("/assets", assetHandler.ListAssets)
	api.Post("/assets", assetHandler.CreateAsset)
	api.Get("/assets/:id", assetHandler.GetAsset)
	api.Delete("/assets/:id", assetHandler.DeleteAsset)
	api.Put("/assets/:id/credential", assetHandler.SetAdminCredential)
	api.Post("/assets/:id/test", assetHandler.TestConnection)
	api.Get("/assets/:id/databases", assetHandler.ListDatabases)

	// Sessions
	api.Get("/sessions", sessionHandler.ListSessions)
	api.Post("/sessions", sessionHandler.CreateSession)
	api.Get("/sessions/:id", sessionHandler.GetSession)
	api.Post("/sessions/:id/start", sessionHandler.StartSession)
	api.Post("/sessions/:id/end", sessionHandler.EndSession)
	api.Post("/sessions/:id/cancel", sessionHandler.CancelSession)
	api.Get("/sessions/:id/queries", sessionHandler.QueryLogs)
	api.Get("/sessions/:id/audits", auditHandler.ListSessionAudits)

	// Audit trail
	api.Get("/audits", auditHandler.ListAuditLogs)
}
