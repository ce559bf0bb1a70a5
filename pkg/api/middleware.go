package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/buntinglabs/mundi/pkg/metrics"
)

// statusFromError derives the response status from a handler's return value.
// The response writer exposes no status, so the error is the source of truth:
// nil means the handler wrote a 2xx itself.
func statusFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}
	return http.StatusInternalServerError
}

// requestLogger logs each request with its route, status, and latency, and
// feeds the request counter.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			start := time.Now()
			err := next(c)
			status := statusFromError(err)

			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			metrics.HTTPRequests.WithLabelValues(c.Request().Method, route, fmt.Sprintf("%d", status)).Inc()

			slog.Info("HTTP request",
				"method", c.Request().Method,
				"route", route,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds())
			return err
		}
	}
}

// securityHeaders sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}
