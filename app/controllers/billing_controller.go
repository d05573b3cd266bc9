package controllers

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/RaphaelSchmid/ShipLog/internal/pkg/billing"
	"github.com/RaphaelSchmid/ShipLog/internal/pkg/database"
	"github.com/RaphaelSchmid/ShipLog/internal/pkg/entitlements"
	"github.com/RaphaelSchmid/ShipLog/internal/pkg/env"
	"github.com/RaphaelSchmid/ShipLog/internal/pkg/usercontext"
)

func billingService() *billing.Service {
	return billing.NewServiceFromDB(database.GetDB(), billing.NewStripeProvider(), entitlements.LoadConfig())
}

// HandleGetSubscription returns the caller's subscription snapshot.
func HandleGetSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	snapshot, err := billingService().Snapshot(userCtx.UserID)
	if err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "No subscription record")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load subscription")
	}
	return c.JSON(snapshot)
}

type checkoutRequest struct {
	Plan string `json:"plan" validate:"required"`
}

// HandleBillingCheckout starts a checkout for the paid plan and returns the
// redirect URL.
func HandleBillingCheckout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "Invalid JSON body")
	}
	if err := validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", validationMessage(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	url, err := billingService().StartCheckout(ctx, userCtx.UserID, req.Plan)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInvalidPlan):
			return jsonError(c, fiber.StatusUnprocessableEntity, "invalid_plan", "Unknown plan")
		case errors.Is(err, billing.ErrNotFound):
			return jsonError(c, fiber.StatusNotFound, "not_found", "No subscription record")
		case errors.Is(err, billing.ErrProviderUnavailable):
			return jsonError(c, fiber.StatusServiceUnavailable, "provider_unavailable", "Billing provider unreachable, try again")
		default:
			log.Printf("checkout failed for user %d: %v", userCtx.UserID, err)
			return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Checkout failed")
		}
	}
	return c.JSON(fiber.Map{"url": url})
}

// HandleBillingPortal returns a billing portal redirect URL.
func HandleBillingPortal(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	url, err := billingService().OpenPortal(ctx, userCtx.UserID)
	if err != nil {
		if errors.Is(err, billing.ErrProviderUnavailable) {
			return jsonError(c, fiber.StatusServiceUnavailable, "provider_unavailable", "Billing provider unreachable, try again")
		}
		log.Printf("portal session failed for user %d: %v", userCtx.UserID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not open billing portal")
	}
	return c.JSON(fiber.Map{"url": url})
}

// HandleBillingCancel cancels the subscription with immediate effect.
func HandleBillingCancel(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	endedAt, err := billingService().CancelSubscription(ctx, userCtx.UserID)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrNotFound):
			return jsonError(c, fiber.StatusNotFound, "not_found", "No subscription record")
		case errors.Is(err, billing.ErrProviderUnavailable):
			return jsonError(c, fiber.StatusServiceUnavailable, "provider_unavailable", "Billing provider unreachable, try again")
		default:
			log.Printf("cancel failed for user %d: %v", userCtx.UserID, err)
			return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Cancellation failed")
		}
	}
	return c.JSON(fiber.Map{
		"status":       string(entitlements.StatusCancelled),
		"cancelled_at": endedAt.UTC().Format(time.RFC3339),
	})
}

// HandleBillingWebhook receives provider events. Contract with the provider:
// 2xx acknowledges, 4xx rejects bad requests (no redelivery helps), 5xx asks
// for redelivery. The raw body is used for signature verification, never a
// re-serialized copy.
func HandleBillingWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	sigHeader := c.Get("Stripe-Signature")
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")

	ev, err := billing.VerifyAndParseEvent(rawBody, sigHeader, secret)
	if err != nil {
		log.Printf("billing webhook rejected: %v", err)
		return jsonError(c, fiber.StatusBadRequest, "invalid_event", "Signature or payload invalid")
	}
	if ev.Kind == "" {
		// Not an event type we process; acknowledge so retries stop.
		return c.JSON(fiber.Map{"ok": true, "ignored": true})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	result, err := billingService().ProcessDelivery(ctx, *ev, rawBody)
	if err != nil {
		log.Printf("billing webhook %s (%s) failed: %v", ev.ID, ev.Type, err)
		return jsonError(c, fiber.StatusInternalServerError, "event_processing_failed", "Temporary failure, please redeliver")
	}
	if result == billing.DeliveryDuplicate {
		return c.JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	return c.JSON(fiber.Map{"ok": true})
}
