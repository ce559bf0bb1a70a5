package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/buntinglabs/mundi/pkg/lock"
	"github.com/buntinglabs/mundi/pkg/postgis"
	"github.com/buntinglabs/mundi/pkg/services"
)

// mapServiceError maps service-layer errors to HTTP error responses.
// Forbidden maps to 404 so resource existence does not leak across users.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, services.ErrNotFound) || errors.Is(err, services.ErrForbidden) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, services.ErrAlreadyExists) {
		return echo.NewHTTPError(http.StatusConflict, "resource already exists")
	}
	if errors.Is(err, lock.ErrConversationBusy) {
		return echo.NewHTTPError(http.StatusConflict, "conversation is already being processed")
	}
	if errors.Is(err, postgis.ErrLoopbackDisallowed) {
		return echo.NewHTTPError(http.StatusBadRequest, "localhost database address is not allowed")
	}
	if errors.Is(err, postgis.ErrPolicyNotConfigured) {
		slog.Error("POSTGIS_LOCALHOST_POLICY is not configured")
		return echo.NewHTTPError(http.StatusInternalServerError, "server is not configured for database connections")
	}

	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
