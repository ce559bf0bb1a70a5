package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/buntinglabs/mundi/pkg/config"
)

// DemoUserID is the single identity every request maps to in edit mode.
// Multi-tenant identity arrives through proxy headers when deployed behind
// an auth layer.
const DemoUserID = "00000000-0000-0000-0000-000000000001"

const userIDKey = "user_id"

// currentUser returns the user id the request is attributed to.
func currentUser(c *echo.Context) string {
	if id, ok := c.Get(userIDKey).(string); ok && id != "" {
		return id
	}
	return DemoUserID
}

// authMiddleware attributes requests to a user and enforces the auth mode.
// edit: everyone is the demo user with full access. view_only: reads only.
func authMiddleware(mode config.AuthMode) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			userID := DemoUserID
			if forwarded := c.Request().Header.Get("X-Forwarded-User"); forwarded != "" {
				userID = forwarded
			}
			c.Set(userIDKey, userID)

			if mode == config.AuthModeViewOnly && !isReadVerb(c.Request().Method) {
				return echo.NewHTTPError(http.StatusForbidden, "server is in view-only mode")
			}
			return next(c)
		}
	}
}

func isReadVerb(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
