package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/TobiasKraft/FanWerk/app/controllers"
	"github.com/TobiasKraft/FanWerk/internal/pkg/subscription"
)

type ApiRouter struct {
	svc *subscription.Service
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")
	sc := controllers.NewSubscriptionController(h.svc)
	subs := v1.Group("/subscriptions")
	subs.Post("/", sc.HandleSubscribe)
	subs.Post("/verify", sc.HandleVerify)
	subs.Post("/abandon", sc.HandleAbandon)
	subs.Post("/sync", sc.HandleSync)
	subs.Get("/state/:creator_id", sc.HandleState)
	subs.Delete("/:creator_id", sc.HandleCancel)
	subs.Post("/:creator_id/reactivate", sc.HandleReactivate)
}

func NewApiRouter(svc *subscription.Service) *ApiRouter {
	return &ApiRouter{svc: svc}
}
