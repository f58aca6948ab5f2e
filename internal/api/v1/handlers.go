package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to the controllers so the v1 surface stays a thin binding
	"github.com/ManuelReschke/PurchaseDesk/app/controllers"
)

// Pong is the ping response body.
type Pong struct {
	Ping string `json:"ping"`
}

// APIServer implements the ServerInterface
type APIServer struct {
	membership *controllers.MembershipController
	billing    *controllers.BillingController
}

// NewAPIServer creates a new API server instance
func NewAPIServer(membership *controllers.MembershipController, billing *controllers.BillingController) *APIServer {
	return &APIServer{membership: membership, billing: billing}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(Pong{Ping: "pong"})
}

func (s *APIServer) PostMembershipAssign(c *fiber.Ctx) error {
	return s.membership.HandleAssign(c)
}

func (s *APIServer) PostMembershipSweepExpired(c *fiber.Ctx) error {
	return s.membership.HandleSweepExpired(c)
}

func (s *APIServer) PostMembershipRepair(c *fiber.Ctx) error {
	return s.membership.HandleRepair(c)
}

func (s *APIServer) PostMembershipRepairEnqueue(c *fiber.Ctx) error {
	return s.membership.HandleEnqueueRepair(c)
}

func (s *APIServer) PostMembershipFree(c *fiber.Ctx) error {
	return s.membership.HandleFree(c)
}

// GetMembershipActive reads userId from the route params.
func (s *APIServer) GetMembershipActive(c *fiber.Ctx) error {
	return s.membership.HandleActive(c)
}

func (s *APIServer) GetMembershipStats(c *fiber.Ctx) error {
	return s.membership.HandleStats(c)
}

func (s *APIServer) GetMembershipTypes(c *fiber.Ctx) error {
	return s.membership.HandleTypes(c)
}

// PostBillingStripeWebhook is authenticated by the Stripe signature, not the
// internal token.
func (s *APIServer) PostBillingStripeWebhook(c *fiber.Ctx) error {
	return s.billing.HandleStripeWebhook(c)
}
