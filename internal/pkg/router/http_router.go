package router

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"

	"github.com/TobiasKnoll/SubSync/app/controllers"
	"github.com/TobiasKnoll/SubSync/internal/pkg/cache"
	"github.com/TobiasKnoll/SubSync/internal/pkg/constants"
	"github.com/TobiasKnoll/SubSync/internal/pkg/database"
	"github.com/TobiasKnoll/SubSync/internal/pkg/env"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Initialize shared service wiring before any route can fire
	controllers.InitializeReconcileService()
	controllers.InitializeAdminController()

	h.registerWebhookRoutes(app)
	h.registerAdminRoutes(app)
	h.registerHealthRoutes(app)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}

func (h HttpRouter) registerWebhookRoutes(app *fiber.App) {
	// Provider webhooks (no CSRF, signature-verified in controller)
	app.Post(constants.BillingWebhookRoute, controllers.HandleBillingWebhook)
}

func (h HttpRouter) registerAdminRoutes(app *fiber.App) {
	admin := app.Group(constants.AdminAPIPrefix, basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("ADMIN_USER", "admin"): env.GetEnv("ADMIN_PASSWORD", ""),
		},
	}))

	admin.Post("/users/:id/resync", controllers.HandleAdminUserResync)
	admin.Get("/users/:id/subscriptions", controllers.HandleAdminUserSubscriptions)
	admin.Get("/subscriptions/:id/log", controllers.HandleAdminTransactionLog)
	admin.Get("/events", controllers.HandleAdminBillingEvents)
	admin.Get("/queue/stats", controllers.HandleAdminQueueStats)
	admin.Post("/counters/reset", controllers.HandleAdminResetOutcomeCounters)
}

func (h HttpRouter) registerHealthRoutes(app *fiber.App) {
	app.Get(constants.HealthRoute, func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		status := fiber.Map{"status": "ok"}
		code := fiber.StatusOK

		if db := database.GetDB(); db != nil {
			if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
				status["database"] = "down"
				code = fiber.StatusServiceUnavailable
			}
		}
		if client := cache.GetClient(); client != nil {
			if err := client.Ping(ctx).Err(); err != nil {
				status["redis"] = "down"
				code = fiber.StatusServiceUnavailable
			}
		}
		return c.Status(code).JSON(status)
	})
}
