// Package bootstrap wires configuration, adapters, and the HTTP app.
package bootstrap

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"unibox_server/adapter/in/http"
	"unibox_server/config"
	"unibox_server/infra/middleware"
	"unibox_server/pkg/logger"
)

// NewAPI builds the Fiber application with all routes registered. The
// returned cleanup releases the outbound adapters.
func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	logger.Init(logger.Config{
		Level:   logger.ParseLevel(cfg.LogLevel),
		Service: "unibox-api",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		ReadTimeout:           cfg.RequestTimeout,
		WriteTimeout:          cfg.RequestTimeout,

		// go-json replaces encoding/json for both directions
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit: 10 * 1024 * 1024,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	if allowOrigins == "" {
		if cfg.IsProduction() {
			allowOrigins = ""
		} else {
			allowOrigins = "http://localhost:3000,http://localhost:5173"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  allowOrigins,
		AllowMethods:  "GET,POST,PATCH,DELETE,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders: "X-Request-ID",
		MaxAge:        86400,
	}))

	// Health check
	healthHandler := http.NewHealthHandler(deps.TokenStore)
	healthHandler.Register(app)

	// OAuth flow and provider-backed endpoints
	authHandler := http.NewAuthHandler(deps.Providers, deps.Sessions)
	authHandler.Register(app)

	emailHandler := http.NewEmailHandler(deps.Providers, deps.Sessions, cfg.ProviderMaxFetch)
	emailHandler.Register(app)

	sessionHandler := http.NewSessionHandler(deps.Sessions)
	sessionHandler.Register(app)

	logger.Info("API server initialized successfully")

	return app, cleanup, nil
}
