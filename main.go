package main

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/TobiasKraft/FanWerk/app/repository"
	"github.com/TobiasKraft/FanWerk/internal/pkg/cache"
	"github.com/TobiasKraft/FanWerk/internal/pkg/database"
	"github.com/TobiasKraft/FanWerk/internal/pkg/env"
	"github.com/TobiasKraft/FanWerk/internal/pkg/eventbus"
	"github.com/TobiasKraft/FanWerk/internal/pkg/payments"
	"github.com/TobiasKraft/FanWerk/internal/pkg/router"
	"github.com/TobiasKraft/FanWerk/internal/pkg/subscription"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	repos := repository.NewRepositories(database.GetDB())
	processor := payments.NewClientFromEnv()
	bus := eventbus.New()
	svc := subscription.NewService(repos, processor, bus, cache.NewViewStore())

	app := fiber.New(fiber.Config{
		AppName: "fanwerk",
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	// ROUTER
	router.InstallRouter(app, svc)

	return app
}
