package controllers

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PurchaseDesk/internal/pkg/billing"
	"github.com/ManuelReschke/PurchaseDesk/internal/pkg/membership"
)

type fakeWebhooks struct {
	gotSignature string
	result       *billing.WebhookResult
	err          error
}

func (f *fakeWebhooks) HandleStripeWebhook(_ context.Context, _ []byte, sig string) (*billing.WebhookResult, error) {
	f.gotSignature = sig
	return f.result, f.err
}

func TestHandleStripeWebhook_StatusMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{nil, fiber.StatusOK},
		{billing.ErrInvalidSignature, fiber.StatusUnauthorized},
		{fmt.Errorf("%w: bad json", billing.ErrInvalidPayload), fiber.StatusBadRequest},
		{billing.ErrUnmappedPlan, fiber.StatusUnprocessableEntity},
		{errors.Join(membership.ErrValidation, errors.New("unknown user")), fiber.StatusBadRequest},
		{&membership.StoreError{Op: "assign", Step: "create_record", UserID: 1, Err: errors.New("down")}, fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		name := "ok"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			hooks := &fakeWebhooks{err: tt.err, result: &billing.WebhookResult{EventID: "evt_1", MembershipID: 3}}
			app := fiber.New()
			app.Post("/webhook", NewBillingController(hooks).HandleStripeWebhook)

			req := httptest.NewRequest("POST", "/webhook", strings.NewReader(`{"id":"evt_1"}`))
			req.Header.Set("Stripe-Signature", "t=1,v1=ab")
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, "t=1,v1=ab", hooks.gotSignature)
		})
	}
}
