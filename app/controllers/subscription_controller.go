package controllers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/TobiasKraft/FanWerk/internal/pkg/payments"
	"github.com/TobiasKraft/FanWerk/internal/pkg/subscription"
)

const subscriptionRequestTimeout = 15 * time.Second

var validate = validator.New()

// SubscriptionController exposes the membership lifecycle over the JSON API.
type SubscriptionController struct {
	svc *subscription.Service
}

func NewSubscriptionController(svc *subscription.Service) *SubscriptionController {
	return &SubscriptionController{svc: svc}
}

type subscribeRequest struct {
	CreatorID uint `json:"creator_id" validate:"required,gt=0"`
	TierID    uint `json:"tier_id" validate:"required,gt=0"`
}

type syncRequest struct {
	CreatorID uint `json:"creator_id" validate:"required,gt=0"`
	Limit     int  `json:"limit" validate:"omitempty,gte=1,lte=100"`
}

// currentUserID resolves the authenticated user from the gateway-injected
// header. The API gateway terminates authentication upstream.
func currentUserID(c *fiber.Ctx) uint {
	raw := c.Get("X-User-ID")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}

// HandleSubscribe starts a new subscription or switches the tier on an
// existing one. Replays of an in-flight attempt return the same session.
func (sc *SubscriptionController) HandleSubscribe(c *fiber.Ctx) error {
	userID := currentUserID(c)
	if userID == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var req subscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed request body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "creator_id and tier_id are required"})
	}

	ctx, cancel := context.WithTimeout(c.Context(), subscriptionRequestTimeout)
	defer cancel()

	outcome, err := sc.svc.CreateOrChange(ctx, userID, req.TierID, req.CreatorID)
	if err != nil {
		return subscriptionError(c, err)
	}
	if outcome.Changed {
		return c.JSON(fiber.Map{"changed": true, "subscription": outcome.Subscription})
	}
	return c.JSON(fiber.Map{
		"changed": false,
		"session": fiber.Map{
			"subscription_id": outcome.Session.SubscriptionID,
			"client_secret":   outcome.Session.ClientSecret,
		},
	})
}

// HandleVerify blocks until the webhook write for a confirmed payment lands in
// the ledger, or the retry budget runs out. It never reports failure after the
// processor confirmed payment.
func (sc *SubscriptionController) HandleVerify(c *fiber.Ctx) error {
	userID := currentUserID(c)
	if userID == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var req subscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed request body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "creator_id and tier_id are required"})
	}

	result, err := sc.svc.VerifyActivation(c.Context(), userID, req.TierID, req.CreatorID)
	if err != nil {
		return subscriptionError(c, err)
	}
	return c.JSON(fiber.Map{
		"subscribed":  true,
		"provisional": result == subscription.ResultProvisional,
	})
}

// HandleAbandon cleans up after the user closed the payment dialog.
func (sc *SubscriptionController) HandleAbandon(c *fiber.Ctx) error {
	userID := currentUserID(c)
	if userID == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var req subscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed request body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "creator_id and tier_id are required"})
	}

	ctx, cancel := context.WithTimeout(c.Context(), subscriptionRequestTimeout)
	defer cancel()

	if err := sc.svc.AbandonFlow(ctx, userID, req.TierID, req.CreatorID); err != nil {
		return subscriptionError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

// HandleCancel schedules an end-of-period cancellation.
func (sc *SubscriptionController) HandleCancel(c *fiber.Ctx) error {
	userID := currentUserID(c)
	if userID == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}
	creatorID := paramUint(c, "creator_id")
	if creatorID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid creator id"})
	}

	ctx, cancel := context.WithTimeout(c.Context(), subscriptionRequestTimeout)
	defer cancel()

	sub, err := sc.svc.Cancel(ctx, userID, creatorID)
	if err != nil {
		return subscriptionError(c, err)
	}
	return c.JSON(fiber.Map{
		"status":             sub.Status,
		"current_period_end": sub.CurrentPeriodEnd,
	})
}

// HandleReactivate undoes a scheduled cancellation before the period closes.
func (sc *SubscriptionController) HandleReactivate(c *fiber.Ctx) error {
	userID := currentUserID(c)
	if userID == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}
	creatorID := paramUint(c, "creator_id")
	if creatorID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid creator id"})
	}

	ctx, cancel := context.WithTimeout(c.Context(), subscriptionRequestTimeout)
	defer cancel()

	sub, err := sc.svc.Reactivate(ctx, userID, creatorID)
	if err != nil {
		return subscriptionError(c, err)
	}
	return c.JSON(fiber.Map{"status": sub.Status})
}

// HandleState returns the subscriber view for the caller and a creator.
func (sc *SubscriptionController) HandleState(c *fiber.Ctx) error {
	userID := currentUserID(c)
	if userID == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}
	creatorID := paramUint(c, "creator_id")
	if creatorID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid creator id"})
	}

	state, err := sc.svc.State(c.Context(), userID, creatorID)
	if err != nil {
		return subscriptionError(c, err)
	}
	return c.JSON(state)
}

// HandleSync replays the processor's recent event history for a creator into
// the ledger. Used by support tooling and the creator dashboard.
func (sc *SubscriptionController) HandleSync(c *fiber.Ctx) error {
	userID := currentUserID(c)
	if userID == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var req syncRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed request body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "creator_id is required"})
	}
	limit := req.Limit
	if limit == 0 {
		limit = 50
	}

	ctx, cancel := context.WithTimeout(c.Context(), 60*time.Second)
	defer cancel()

	repaired, err := sc.svc.SyncRecent(ctx, req.CreatorID, limit)
	if err != nil {
		return subscriptionError(c, err)
	}
	return c.JSON(fiber.Map{"repaired": repaired})
}

func paramUint(c *fiber.Ctx, name string) uint {
	v, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil {
		return 0
	}
	return uint(v)
}

// subscriptionError maps the service error taxonomy onto HTTP responses.
// Internal detail stays in the logs; clients get stable codes.
func subscriptionError(c *fiber.Ctx, err error) error {
	var apiErr *payments.APIError
	switch {
	case errors.Is(err, subscription.ErrAlreadyInProgress):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "in_progress", "message": "A subscription attempt is already in progress"})
	case errors.Is(err, subscription.ErrAlreadySubscribed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "already_subscribed", "message": "You already subscribe to this tier"})
	case errors.Is(err, subscription.ErrInvalidRequest):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": err.Error()})
	case errors.As(err, &apiErr):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "payment_provider_error", "message": apiErr.Message})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Something went wrong"})
	}
}
