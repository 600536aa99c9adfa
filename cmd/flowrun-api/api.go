// Package main provides the flowrun API server: workflow management, manual
// triggers, webhook ingress and execution status.
package main

import (
	"log/slog"

	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/web"
	"github.com/dukex/flowrun/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	triggers    web.Triggers
	validate    *validator.Validate
}

func NewAPI(logger *slog.Logger, persistence persistence.Persistence, triggers web.Triggers) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		triggers:    triggers,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(workflow.NewRepository(a.persistence), a.triggers, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("flowrun API")
	})

	handlers.Routes(app)

	return app
}
