package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/spec-kit/support-service/internal/api/http/handlers"
	"github.com/spec-kit/support-service/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	StaffTickets   *handlers.StaffTicketsHandler
	AuthMiddleware *auth.AuthMiddleware
	MessageLimiter *PrincipalRateLimiter
}

// NewApp builds the Fiber app. Immutable is required because handler values
// such as route params are kept past the request by the repositories.
func NewApp(name string, logger *zap.Logger) *fiber.App {
	return fiber.New(fiber.Config{
		AppName:      name,
		Immutable:    true,
		ErrorHandler: ErrorHandler(logger),
	})
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	tickets := app.Group("/tickets", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Post("/:id/messages", cfg.MessageLimiter.Handle, cfg.Tickets.AddMessage)
	tickets.Post("/:id/close", cfg.Tickets.CloseTicket)

	admin := app.Group("/admin/tickets", cfg.AuthMiddleware.Handle, auth.RequireStaff())
	admin.Get("/", cfg.StaffTickets.ListTickets)
	admin.Get("/stats", cfg.StaffTickets.Stats)
	admin.Get("/:id", cfg.StaffTickets.GetTicket)
	admin.Patch("/:id", cfg.StaffTickets.UpdateTicket)
	admin.Post("/:id/assign", cfg.StaffTickets.AssignToSelf)
	admin.Post("/:id/messages", cfg.MessageLimiter.Handle, cfg.Tickets.AddMessage)
}
