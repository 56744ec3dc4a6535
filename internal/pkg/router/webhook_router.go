package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/TobiasKraft/FanWerk/app/controllers"
	"github.com/TobiasKraft/FanWerk/internal/pkg/subscription"
)

type WebhookRouter struct {
	svc *subscription.Service
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	wc := controllers.NewWebhookController(h.svc)
	app.Post("/webhooks/payments", wc.HandlePaymentWebhook)
}

func NewWebhookRouter(svc *subscription.Service) *WebhookRouter {
	return &WebhookRouter{svc: svc}
}
