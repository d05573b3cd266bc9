package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/RaphaelSchmid/ShipLog/app/controllers"
	"github.com/RaphaelSchmid/ShipLog/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	auth := v1.Group("/auth")
	auth.Post("/register", controllers.HandleAuthRegister)
	auth.Post("/login", controllers.HandleAuthLogin)
	auth.Post("/logout", controllers.HandleAuthLogout)

	user := v1.Group("/user", middleware.RequireAuth)
	user.Get("/account", controllers.HandleGetUserAccount)

	subscription := v1.Group("/subscription", middleware.RequireAuth)
	subscription.Get("/", controllers.HandleGetSubscription)

	billing := v1.Group("/billing", middleware.RequireAuth)
	billing.Post("/checkout-session", controllers.HandleBillingCheckout)
	billing.Post("/portal-session", controllers.HandleBillingPortal)
	billing.Post("/cancel", controllers.HandleBillingCancel)

	logs := v1.Group("/logs", middleware.RequireAuth)
	logs.Post("/", controllers.HandleCreateDailyLog)
	logs.Get("/", controllers.HandleListDailyLogs)
	logs.Get("/:uuid", controllers.HandleGetDailyLog)
	logs.Put("/:uuid", controllers.HandleUpdateDailyLog)
	logs.Delete("/:uuid", controllers.HandleDeleteDailyLog)

	posts := v1.Group("/posts", middleware.RequireAuth)
	posts.Post("/generate", controllers.HandleGeneratePost)
	posts.Get("/", controllers.HandleListPosts)
	posts.Get("/:uuid", controllers.HandleGetPost)
	posts.Put("/:uuid", controllers.HandleUpdatePost)
	posts.Delete("/:uuid", controllers.HandleDeletePost)

	admin := v1.Group("/admin", middleware.RequireAdmin)
	admin.Get("/flags", controllers.HandleAdminListFlags)
	admin.Post("/flags/:id/resolve", controllers.HandleAdminResolveFlag)
	admin.Get("/users", controllers.HandleAdminListUsers)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
