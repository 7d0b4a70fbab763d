package server

import (
	"errors"
	"fmt"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/TobiSchelling/feedrank/internal/apperrors"
)

// ErrorHandlingMiddleware renders structured errors as JSON. echo's own
// HTTP errors pass through to its default handler.
func ErrorHandlingMiddleware(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				return err
			}
			return writeError(c, logger, apperrors.AsStructuredError(err))
		}
	}
}

func writeError(c echo.Context, logger *zap.Logger, err *apperrors.Error) error {
	logError(c, logger, err)
	if err := c.JSON(err.HTTPStatus(), err.ToResponse()); err != nil {
		return fmt.Errorf("failed to write error response: %w", err)
	}
	return nil
}

func logError(c echo.Context, logger *zap.Logger, err *apperrors.Error) {
	fields := []zap.Field{
		zap.String("error_type", string(err.Type)),
		zap.String("message", err.Message),
		zap.String("path", c.Request().URL.Path),
		zap.String("method", c.Request().Method),
		zap.Int("status", err.HTTPStatus()),
	}
	for k, v := range err.Context {
		fields = append(fields, zap.Any(k, v))
	}

	switch err.Type {
	case apperrors.TypeValidation:
		logger.Info("validation error", fields...)
	case apperrors.TypeNotFound:
		logger.Info("not found", fields...)
	case apperrors.TypeUnauthorized, apperrors.TypeRateLimited:
		logger.Warn("request rejected", fields...)
	case apperrors.TypeConflict:
		logger.Warn("conflict", fields...)
	case apperrors.TypeUnavailable:
		logger.Warn("storage timeout", append(fields, zap.NamedError("cause", err.Cause))...)
	default:
		if err.Cause != nil {
			fields = append(fields, zap.NamedError("cause", err.Cause))
		}
		logger.Error("internal error", fields...)
	}
}
