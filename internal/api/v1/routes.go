package apiv1

import "github.com/gofiber/fiber/v2"

// ServerInterface lists the v1 operations documented in public/docs/v1/openapi.yml.
type ServerInterface interface {
	GetPing(c *fiber.Ctx) error
	PostMembershipAssign(c *fiber.Ctx) error
	PostMembershipSweepExpired(c *fiber.Ctx) error
	PostMembershipRepair(c *fiber.Ctx) error
	PostMembershipRepairEnqueue(c *fiber.Ctx) error
	PostMembershipFree(c *fiber.Ctx) error
	GetMembershipActive(c *fiber.Ctx) error
	GetMembershipStats(c *fiber.Ctx) error
	GetMembershipTypes(c *fiber.Ctx) error
	PostBillingStripeWebhook(c *fiber.Ctx) error
}

// RegisterHandlers mounts the v1 operations on router. internal guards the
// membership group.
func RegisterHandlers(router fiber.Router, si ServerInterface, internal ...fiber.Handler) {
	router.Get("/ping", si.GetPing)

	handlers := make([]fiber.Handler, 0, len(internal))
	handlers = append(handlers, internal...)
	m := router.Group("/membership", handlers...)
	m.Post("/assign", si.PostMembershipAssign)
	m.Post("/sweep-expired", si.PostMembershipSweepExpired)
	m.Post("/repair", si.PostMembershipRepair)
	m.Post("/repair/enqueue", si.PostMembershipRepairEnqueue)
	m.Post("/free", si.PostMembershipFree)
	m.Get("/active/:userId", si.GetMembershipActive)
	m.Get("/stats", si.GetMembershipStats)
	m.Get("/types", si.GetMembershipTypes)

	router.Post("/billing/stripe/webhook", si.PostBillingStripeWebhook)
}
