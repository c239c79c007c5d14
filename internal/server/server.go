// Package server assembles the Fiber application.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/session"

	"mailtriage/config"
	"mailtriage/handlers/api"
	"mailtriage/handlers/web"
	"mailtriage/internal/instrumentation"
	"mailtriage/internal/logging"
	"mailtriage/internal/server/middleware"
	"mailtriage/internal/triage"
	"mailtriage/templates"
)

// SessionCookie is the name of the session cookie.
const SessionCookie = "mailtriage_session"

// Options holds the dependencies of the web application.
type Options struct {
	Config    *config.Config
	Service   *triage.Service
	Tokens    *api.TokenSigner
	Storage   fiber.Storage
	Telemetry *instrumentation.Provider
	Logger    *slog.Logger
}

// Helper function to determine if request is an API request
func isAPIRequest(c *fiber.Ctx) bool {
	if c == nil {
		return false
	}

	// Check for HTMX request first
	if c.Get("HX-Request") != "" {
		return true
	}

	return strings.HasSuffix(c.Path(), ".json")
}

func errorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		msg := "Internal Server Error"

		var e *fiber.Error
		if errors.As(err, &e) {
			code = e.Code
			msg = e.Message
		}
		if code >= fiber.StatusInternalServerError {
			logger.Error("request failed",
				slog.String("path", c.Path()),
				slog.Int("status_code", code),
				logging.Err(err))
		}

		// Handle API requests differently
		if isAPIRequest(c) {
			return c.Status(code).JSON(fiber.Map{
				"error": msg,
			})
		}

		// Render error page for regular requests
		return c.Status(code).Render("error", fiber.Map{
			"Title":  "Error",
			"Status": "",
			"Error":  msg,
			"Code":   code,
		})
	}
}

// New builds the application with all routes registered.
func New(opts Options) *fiber.App {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	app := fiber.New(fiber.Config{
		Views:                 templates.NewEngine(),
		ViewsLayout:           "layouts/main",
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
	})

	sessions := session.New(session.Config{
		Storage:        opts.Storage,
		Expiration:     cfg.Storage.Expiration,
		KeyLookup:      "cookie:" + SessionCookie,
		CookieSecure:   cfg.Security.CookieSecure,
		CookieHTTPOnly: true,
		CookieSameSite: fiber.CookieSameSiteLaxMode,
	})

	app.Use(middleware.Logger(logger, opts.Telemetry.Metrics()))
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.SecurityHeaders(cfg.Security.CookieSecure))

	// Health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})

	if h := opts.Telemetry.PrometheusHandler(); h != nil {
		app.Get("/metrics", adaptor.HTTPHandler(h))
	}

	app.Use(middleware.NoStore())

	handler := web.NewTriageHandler(opts.Service, sessions, opts.Tokens, opts.Telemetry.Metrics(), logger)

	limit := func(c *fiber.Ctx) error { return c.Next() }
	if cfg.Server.RateLimit > 0 {
		limit = middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst).Handler()
	}

	app.Get("/", handler.ShowSearch)
	app.Post("/search", limit, handler.HandleSearch)
	app.Get("/results", handler.ShowResults)
	app.Get("/results.json", handler.RawResults)
	app.Post("/action", limit, handler.HandleAction)

	// 404 Handler for undefined routes
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Page not found")
	})

	return app
}

// Serve listens on addr until ctx is done, then shuts down within timeout.
func Serve(ctx context.Context, app *fiber.App, addr string, timeout time.Duration, logger *slog.Logger) error {
	errc := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", slog.String("addr", addr))
		errc <- app.Listen(addr)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("error starting HTTP server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down HTTP server", slog.Duration("timeout", timeout))
	if err := app.ShutdownWithTimeout(timeout); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errc
}
