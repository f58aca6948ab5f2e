package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PurchaseDesk/internal/pkg/billing"
	"github.com/ManuelReschke/PurchaseDesk/internal/pkg/membership"
)

// StripeWebhookHandler processes a raw Stripe delivery.
type StripeWebhookHandler interface {
	HandleStripeWebhook(ctx context.Context, payload []byte, signatureHeader string) (*billing.WebhookResult, error)
}

type BillingController struct {
	webhooks StripeWebhookHandler
	timeout  time.Duration
}

func NewBillingController(webhooks StripeWebhookHandler) *BillingController {
	return &BillingController{webhooks: webhooks, timeout: DefaultRequestTimeout}
}

// HandleStripeWebhook receives checkout events. Non-2xx answers make Stripe
// redeliver, so only failures a retry can fix return 5xx.
// POST /api/v1/billing/stripe/webhook
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	ctx, cancel := context.WithTimeout(c.UserContext(), bc.timeout)
	defer cancel()

	res, err := bc.webhooks.HandleStripeWebhook(ctx, rawBody, c.Get("Stripe-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInvalidSignature):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
		case errors.Is(err, billing.ErrInvalidPayload):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
		case errors.Is(err, billing.ErrUnmappedPlan):
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "unmapped_plan"})
		case errors.Is(err, membership.ErrValidation):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "rejected", "message": err.Error()})
		default:
			log.Errorw("stripe webhook processing failed", "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_processing_failed"})
		}
	}
	return c.JSON(fiber.Map{
		"ok":           true,
		"eventId":      res.EventID,
		"duplicate":    res.Duplicate,
		"ignored":      res.Ignored,
		"membershipId": res.MembershipID,
	})
}
