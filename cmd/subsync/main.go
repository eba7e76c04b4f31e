package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/TobiasKnoll/SubSync/internal/pkg/cache"
	"github.com/TobiasKnoll/SubSync/internal/pkg/constants"
	"github.com/TobiasKnoll/SubSync/internal/pkg/database"
	"github.com/TobiasKnoll/SubSync/internal/pkg/env"
	"github.com/TobiasKnoll/SubSync/internal/pkg/jobqueue"
	"github.com/TobiasKnoll/SubSync/internal/pkg/router"
)

func main() {
	app := NewApplication()

	// Drain workers before the listener goes away so in-flight jobs finish.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		jobqueue.GetManager().Stop()
		_ = app.Shutdown()
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20, // webhook payloads are small
	})
	app.Use(recover.New(), logger.New())
	app.Get(constants.MetricsRoute, monitor.New())

	// ROUTER
	router.InstallRouter(app)

	// Background workers for entitlement retries, resyncs and emails
	jobqueue.GetManager().Start()

	return app
}
