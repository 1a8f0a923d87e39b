package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/fetchcache/cacher"
)

// StatusSource is the read/repair surface of a cache exposed over HTTP.
type StatusSource interface {
	Root() string
	Stats() cacher.Stats
	Lookup(key string) (cacher.Record, bool)
	VerifyAndRepair(ctx context.Context) (cacher.VerifyReport, error)
	Gatherer() prometheus.Gatherer
}

var _ StatusSource = (*cacher.Cacher)(nil)

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Source     StatusSource
	ListenPort int
}

const contextKeyRequestID = "_fetchcache_request_id"

// NewApp builds a Fiber application with request-id middleware and structured
// error handling. Routes are registered separately by the routes package.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Source == nil {
		return nil, errors.New("status source is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  errorHandler(opts.Logger),
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	return app, nil
}

// RegisterFallback 必须在所有路由注册之后调用，未命中的路径统一返回 JSON 404。
func RegisterFallback(app *fiber.App, logger *logrus.Logger) {
	app.Use(func(c fiber.Ctx) error {
		logger.WithFields(logrus.Fields{
			"action":     "route_lookup",
			"path":       c.Path(),
			"request_id": RequestID(c),
		}).Debug("route unmapped")
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "not_found",
		})
	})
}

// requestContextMiddleware 负责生成请求 ID。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
		logger.WithError(err).WithFields(logrus.Fields{
			"action":     "request",
			"path":       c.Path(),
			"status":     status,
			"request_id": RequestID(c),
		}).Error("request failed")
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
