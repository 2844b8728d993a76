package server

import (
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const correlationKey = "correlation_id"

// New builds an echo instance with recovery, correlation ids and request
// logging, and registers h's routes on it.
func New(h *Handler, logger *slog.Logger) *echo.Echo {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(Correlation())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("component", "http"),
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("correlation_id", CorrelationID(c)),
			}
			level := slog.LevelInfo
			if v.Error != nil {
				level = slog.LevelError
				attrs = append(attrs, slog.Any("err", v.Error))
			}
			logger.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	}))

	h.RegisterRoutes(e)
	return e
}

// Correlation propagates the caller's X-Correlation-Id or generates one, and
// echoes it on the response.
func Correlation() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := strings.TrimSpace(c.Request().Header.Get(CorrelationHeader))
			if id == "" {
				id = uuid.NewString()
			}
			c.Set(correlationKey, id)
			c.Response().Header().Set(CorrelationHeader, id)
			return next(c)
		}
	}
}

// CorrelationID returns the id assigned by Correlation, or "" outside it.
func CorrelationID(c echo.Context) string {
	id, _ := c.Get(correlationKey).(string)
	return id
}
