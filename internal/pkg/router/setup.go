package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/TobiasKraft/FanWerk/internal/pkg/subscription"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

func InstallRouter(app *fiber.App, svc *subscription.Service) {
	// Webhook routes first: they must never sit behind the API rate limiter,
	// the processor retries aggressively on anything but 2xx.
	setup(app, NewWebhookRouter(svc), NewApiRouter(svc))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
