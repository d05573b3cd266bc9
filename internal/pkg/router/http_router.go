package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/RaphaelSchmid/ShipLog/app/controllers"
	"github.com/RaphaelSchmid/ShipLog/internal/pkg/middleware"
	"github.com/RaphaelSchmid/ShipLog/internal/pkg/session"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init session
	session.NewSessionStore()

	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware)

	// The webhook lives outside /api/v1 and outside any auth: the provider
	// authenticates with its signature over the raw body, not with a session.
	app.Post("/billing/webhook", controllers.HandleBillingWebhook)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
