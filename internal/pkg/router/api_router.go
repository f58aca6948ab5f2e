package router

import (
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	apiv1 "github.com/ManuelReschke/PurchaseDesk/internal/api/v1"
	"github.com/ManuelReschke/PurchaseDesk/internal/pkg/middleware"
)

// ApiConfig carries what the /api tree needs besides the handlers.
type ApiConfig struct {
	InternalToken string
	// Spec enables request validation against the OpenAPI document when set.
	Spec *openapi3.T
	// LimiterStorage shares rate-limit counters between instances. Nil keeps
	// them in memory.
	LimiterStorage fiber.Storage
	LimiterMax     int
	LimiterWindow  time.Duration
}

type ApiRouter struct {
	server apiv1.ServerInterface
	cfg    ApiConfig
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	limiterCfg := limiter.Config{
		Max:        h.cfg.LimiterMax,
		Expiration: h.cfg.LimiterWindow,
		Storage:    h.cfg.LimiterStorage,
		// Stripe redeliveries must not be throttled away
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == apiv1.BasePath+"/billing/stripe/webhook"
		},
	}
	api := app.Group("/api", limiter.New(limiterCfg))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	var v1 fiber.Router = app.Group(apiv1.BasePath)
	if h.cfg.Spec != nil {
		validate, err := apiv1.RequestValidator(h.cfg.Spec, apiv1.BasePath+"/billing")
		if err != nil {
			log.Errorf("OpenAPI request validation disabled: %v", err)
		} else {
			v1 = app.Group(apiv1.BasePath, validate)
		}
	}
	apiv1.RegisterHandlers(v1, h.server, middleware.InternalTokenAuth(h.cfg.InternalToken))
}

func NewApiRouter(server apiv1.ServerInterface, cfg ApiConfig) *ApiRouter {
	if cfg.LimiterMax <= 0 {
		cfg.LimiterMax = 120
	}
	if cfg.LimiterWindow <= 0 {
		cfg.LimiterWindow = time.Minute
	}
	return &ApiRouter{server: server, cfg: cfg}
}
