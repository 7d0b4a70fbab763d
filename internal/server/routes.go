package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/TobiSchelling/feedrank/internal/apperrors"
	"github.com/TobiSchelling/feedrank/internal/auth"
	"github.com/TobiSchelling/feedrank/internal/metrics"
	"github.com/TobiSchelling/feedrank/internal/ratelimit"
)

func (s *Server) registerRoutes() {
	s.echo.Use(s.requestLogger())
	s.echo.Use(middleware.Recover())
	s.echo.Use(metrics.NewHTTPMetrics(s.registry).Middleware())
	s.echo.Use(ErrorHandlingMiddleware(s.logger))

	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/version", s.handleVersion)
	s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler(s.registry)))
	s.echo.GET("/feed", s.handleFeed)
	s.echo.GET("/processed/sample", s.handleSample)

	// Rate limiting runs before signature checks so unsigned floods are
	// counted too.
	var write []echo.MiddlewareFunc
	if s.limiter != nil {
		write = append(write, ratelimit.Middleware(s.limiter, nil, s.denyRateLimited))
	}
	if s.verifier != nil {
		write = append(write, auth.Middleware(s.verifier, nil, s.rejected))
	}
	s.echo.POST("/feedback", s.handleFeedback, write...)
	s.echo.POST("/requeue", s.handleRequeue, write...)
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			s.logger.Info("request", fields...)
			return nil
		},
	})
}

func (s *Server) denyRateLimited(c echo.Context, identifier string, _ error) error {
	s.rejected("rate_limited")
	s.logger.Warn("rate limit exceeded", zap.String("caller", identifier))
	return writeError(c, s.logger, apperrors.RateLimitedError("rate limit exceeded"))
}

func (s *Server) rejected(reason string) {
	if s.metrics != nil {
		s.metrics.RejectedTotal.WithLabelValues(reason).Inc()
	}
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"version": s.version})
}
