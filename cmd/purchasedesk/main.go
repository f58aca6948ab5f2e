package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/PurchaseDesk/app/controllers"
	"github.com/ManuelReschke/PurchaseDesk/app/repository"
	apiv1 "github.com/ManuelReschke/PurchaseDesk/internal/api/v1"
	"github.com/ManuelReschke/PurchaseDesk/internal/pkg/billing"
	"github.com/ManuelReschke/PurchaseDesk/internal/pkg/cache"
	"github.com/ManuelReschke/PurchaseDesk/internal/pkg/database"
	"github.com/ManuelReschke/PurchaseDesk/internal/pkg/env"
	"github.com/ManuelReschke/PurchaseDesk/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PurchaseDesk/internal/pkg/membership"
	"github.com/ManuelReschke/PurchaseDesk/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/PurchaseDesk/internal/pkg/notify"
	"github.com/ManuelReschke/PurchaseDesk/internal/pkg/router"
)

const openAPIFile = "public/docs/v1/openapi.yml"

func main() {
	app, manager := NewApplication()
	manager.Start()

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := app.Listen(addr); err != nil {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		log.Errorf("server shutdown error: %v", err)
	}
	manager.Stop()
	log.Info("server stopped")
}

func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	rdb := cache.GetClient()
	repository.InitializeFactory(db)
	repos := repository.GetGlobalRepositories()

	// MEMBERSHIP ENGINE
	queue := jobqueue.NewQueue(rdb, env.GetEnvInt("JOB_WORKERS", 3))
	counters := counter.NewMembershipCounters(rdb)
	var activeCache *cache.ActiveMembershipCache
	engine := membership.NewEngine(repos,
		membership.WithDefaultPlan(uint(env.GetEnvInt("MEMBERSHIP_DEFAULT_TYPE_ID", 0))),
		membership.WithFallbackValidity(env.GetEnvDuration("MEMBERSHIP_FALLBACK_VALIDITY", membership.DefaultFallbackValidity)),
		membership.WithRepairScheduler(queue),
		membership.WithListener(membership.ListenerFunc(func(ctx context.Context, ev membership.Event) {
			activeCache.HandleMembershipEvent(ctx, ev)
		})),
		membership.WithListener(jobqueue.NewNotifier(queue)),
		membership.WithListener(counters),
	)
	activeCache = cache.NewActiveMembershipCache(rdb, engine, env.GetEnvDuration("MEMBERSHIP_CACHE_TTL", cache.DefaultActiveMembershipTTL))

	startupCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if plan, err := engine.ResolveDefaultPlan(startupCtx); err != nil {
		log.Warnw("no default membership plan; fallback grants will fail until one exists", "error", err)
	} else {
		log.Infow("default membership plan resolved", "membership_type_id", plan.ID, "slug", plan.Slug)
	}

	queue.SetReconciler(engine)
	queue.SetSink(notify.NewSinkFromEnv(repos.User))
	manager := jobqueue.NewManager(queue, env.GetEnvDuration("MEMBERSHIP_SWEEP_INTERVAL", jobqueue.DefaultSweepInterval))

	// Define possible base paths
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/purchasedesk to project root
		"../../../", // Fallback
	}
	basePath := ""
	for _, path := range basePaths {
		if _, err := os.Stat(path + openAPIFile); !os.IsNotExist(err) {
			basePath = path
			break
		}
	}
	if basePath == "" {
		panic("Could not find project root directory")
	}

	doc, err := apiv1.LoadSpec(basePath + openAPIFile)
	if err != nil {
		panic(err)
	}

	// init fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	}), monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: basePath + openAPIFile,
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	webhooks := billing.NewServiceFromDB(db, engine, env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		billing.WithSignatureTolerance(env.GetEnvDuration("STRIPE_SIGNATURE_TOLERANCE", billing.DefaultSignatureTolerance)))
	membershipController := controllers.NewMembershipController(engine, activeCache, repos.MembershipType, counters)
	membershipController.SetRepairQueue(queue)
	server := apiv1.NewAPIServer(membershipController, controllers.NewBillingController(webhooks))
	router.InstallRouter(app, router.NewApiRouter(server, router.ApiConfig{
		InternalToken:  env.GetEnv("INTERNAL_API_TOKEN", ""),
		Spec:           doc,
		LimiterStorage: router.NewLimiterStorage(),
		LimiterMax:     env.GetEnvInt("API_RATE_LIMIT", 120),
		LimiterWindow:  env.GetEnvDuration("API_RATE_WINDOW", time.Minute),
	}))

	return app, manager
}
