package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/TobiasKraft/FanWerk/internal/pkg/env"
	"github.com/TobiasKraft/FanWerk/internal/pkg/subscription"
)

// WebhookController receives payment processor deliveries. The processor
// redelivers anything not acknowledged with 2xx, so the status code is the
// contract: only failures we want redelivered return 5xx.
type WebhookController struct {
	svc *subscription.Service
}

func NewWebhookController(svc *subscription.Service) *WebhookController {
	return &WebhookController{svc: svc}
}

// HandlePaymentWebhook verifies, deduplicates and applies a delivery.
func (wc *WebhookController) HandlePaymentWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get("FW-Signature")
	secret := env.GetEnv("PAYMENT_WEBHOOK_SECRET", "")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	result, err := wc.svc.HandleDelivery(ctx, rawBody, signature, secret)
	if err != nil {
		log.Errorf("[Webhook] delivery failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_failed"})
	}

	switch result.Status {
	case subscription.DeliveryDuplicate:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	case subscription.DeliveryUnauthorized:
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	case subscription.DeliveryMalformed:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	default:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "changed": result.Changed})
	}
}
