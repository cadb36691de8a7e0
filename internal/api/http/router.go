package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Users          *handlers.UsersHandler
	Tickets        *handlers.TicketsHandler
	Attachments    *handlers.AttachmentsHandler
	Admin          *handlers.AdminHandler
	AuthMiddleware fiber.Handler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/register", cfg.Users.Register)
	authGroup.Post("/login", cfg.Users.Login)

	tickets := app.Group("/tickets", cfg.AuthMiddleware, auth.RequireAnyRole())
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Get("/:id/transitions", cfg.Tickets.ListTransitions)
	tickets.Patch("/:id/status", cfg.Tickets.UpdateStatus)
	tickets.Put("/:id/assignment", cfg.Tickets.Assign)
	tickets.Get("/:id/history", cfg.Tickets.ListHistory)
	tickets.Get("/:id/attachments", cfg.Attachments.List)
	tickets.Post("/:id/attachments", cfg.Attachments.Upload)
	tickets.Delete("/:id/attachments/:attachmentID", cfg.Attachments.Delete)

	admin := app.Group("/admin", cfg.AuthMiddleware, auth.RequireRole(domain.RoleAdmin))
	admin.Post("/retention/sweeps", cfg.Admin.RunRetentionSweep)
	admin.Put("/users/:id/role", cfg.Admin.ChangeUserRole)
	admin.Put("/users/:id/status", cfg.Admin.SetUserStatus)
}
