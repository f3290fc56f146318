package http

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/lms-api/internal/observability"
	"github.com/spec-kit/lms-api/internal/security"
	apperrors "github.com/spec-kit/lms-api/pkg/util/errorutil"
)

// RegisterMiddlewares attaches global middlewares. Security headers come first
// so that every response, including rejections, carries them.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, timeout time.Duration) {
	app.Use(security.Headers())
	app.Use(errorHandlingMiddleware(logger, metrics))
	app.Use(observability.RequestLogger(logger, metrics))
	app.Use(security.SuspiciousRequestLogger(logger))
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
}

// ErrorHandler renders errors raised outside the middleware chain, such as
// oversized bodies rejected by fiber itself.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		security.SetHeaders(c)
		return renderError(c, logger, apperrors.ToDomainError(err))
	}
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func errorHandlingMiddleware(logger *zap.Logger, metrics *observability.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				err = apperrors.NewInternalError(nil)
			}
			if err != nil {
				domainErr := apperrors.ToDomainError(err)
				metrics.RecordError(c.Route().Path, c.Method(), domainErr.Code)
				err = renderError(c, logger, domainErr)
			}
		}()
		return c.Next()
	}
}

func renderError(c *fiber.Ctx, logger *zap.Logger, domainErr *apperrors.DomainError) error {
	response := fiber.Map{
		"error": domainErr.Message,
		"code":  domainErr.Code,
	}
	if len(domainErr.Details) > 0 {
		response["details"] = domainErr.Details
	}
	if domainErr.HTTPStatus >= 500 {
		logger.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(domainErr))
	}
	return c.Status(domainErr.HTTPStatus).JSON(response)
}
