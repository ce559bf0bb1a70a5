package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buntinglabs/mundi/pkg/config"
	"github.com/buntinglabs/mundi/pkg/lock"
	"github.com/buntinglabs/mundi/pkg/postgis"
	"github.com/buntinglabs/mundi/pkg/services"
)

func TestParseTileCoord(t *testing.T) {
	tests := []struct {
		z, x, y string
		want    tileCoord
		wantErr bool
	}{
		{"0", "0", "0.mvt", tileCoord{0, 0, 0}, false},
		{"18", "262143", "262143.mvt", tileCoord{18, 262143, 262143}, false},
		{"4", "7", "11", tileCoord{4, 7, 11}, false},
		{"19", "0", "0.mvt", tileCoord{}, true},
		{"-1", "0", "0.mvt", tileCoord{}, true},
		{"4", "16", "0.mvt", tileCoord{}, true},
		{"4", "0", "16.mvt", tileCoord{}, true},
		{"4", "-1", "0.mvt", tileCoord{}, true},
		{"z", "0", "0.mvt", tileCoord{}, true},
		{"4", "0", "a.mvt", tileCoord{}, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s/%s", tt.z, tt.x, tt.y), func(t *testing.T) {
			got, err := parseTileCoord(tt.z, tt.x, tt.y)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitLayerFile(t *testing.T) {
	id, ext, err := splitLayerFile("L2kXa9BqWp3d.pmtiles")
	require.NoError(t, err)
	assert.Equal(t, "L2kXa9BqWp3d", id)
	assert.Equal(t, ".pmtiles", ext)

	id, ext, err = splitLayerFile("L2kXa9BqWp3d.cog.tif")
	require.NoError(t, err)
	assert.Equal(t, "L2kXa9BqWp3d", id)
	assert.Equal(t, ".cog.tif", ext)

	_, _, err = splitLayerFile("L2kXa9BqWp3d")
	assert.Error(t, err, "missing extension")
	_, _, err = splitLayerFile("Lshort.fgb")
	assert.Error(t, err, "id too short")
	_, _, err = splitLayerFile(".fgb")
	assert.Error(t, err)
}

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"validation", services.NewValidationError("title", "is required"), http.StatusBadRequest},
		{"not found", services.ErrNotFound, http.StatusNotFound},
		{"forbidden masks as not found", services.ErrForbidden, http.StatusNotFound},
		{"already exists", services.ErrAlreadyExists, http.StatusConflict},
		{"conversation busy", lock.ErrConversationBusy, http.StatusConflict},
		{"loopback disallowed", postgis.ErrLoopbackDisallowed, http.StatusBadRequest},
		{"policy unset", postgis.ErrPolicyNotConfigured, http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
		{"wrapped not found", fmt.Errorf("failed to load map: %w", services.ErrNotFound), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpErr := mapServiceError(tt.err)
			assert.Equal(t, tt.code, httpErr.Code)
		})
	}
}

func TestAuthMiddlewareEditMode(t *testing.T) {
	e := echo.New()
	var seenUser string
	handler := authMiddleware(config.AuthModeEdit)(func(c *echo.Context) error {
		seenUser = currentUser(c)
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/maps/create", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	require.NoError(t, handler(c))
	assert.Equal(t, DemoUserID, seenUser)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddlewareForwardedUser(t *testing.T) {
	e := echo.New()
	var seenUser string
	handler := authMiddleware(config.AuthModeEdit)(func(c *echo.Context) error {
		seenUser = currentUser(c)
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("X-Forwarded-User", "user-42")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	require.NoError(t, handler(c))
	assert.Equal(t, "user-42", seenUser)
}

func TestAuthMiddlewareViewOnly(t *testing.T) {
	e := echo.New()
	handler := authMiddleware(config.AuthModeViewOnly)(func(c *echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		req := httptest.NewRequest(method, "/api/conversations", nil)
		c := e.NewContext(req, httptest.NewRecorder())
		assert.NoError(t, handler(c), method)
	}

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		req := httptest.NewRequest(method, "/api/maps/create", nil)
		c := e.NewContext(req, httptest.NewRecorder())
		err := handler(c)
		var httpErr *echo.HTTPError
		require.ErrorAs(t, err, &httpErr, method)
		assert.Equal(t, http.StatusForbidden, httpErr.Code, method)
	}
}

func TestStatusFromError(t *testing.T) {
	assert.Equal(t, http.StatusOK, statusFromError(nil))
	assert.Equal(t, http.StatusNotFound, statusFromError(echo.NewHTTPError(http.StatusNotFound, "gone")))
	assert.Equal(t, http.StatusConflict,
		statusFromError(fmt.Errorf("handler: %w", echo.NewHTTPError(http.StatusConflict, "busy"))))
	assert.Equal(t, http.StatusInternalServerError, statusFromError(errors.New("boom")))
}

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"https://embed.example.com", "https://partner.example.org"}
	assert.True(t, originAllowed("https://embed.example.com", allowed))
	assert.False(t, originAllowed("https://evil.example.com", allowed))
	assert.False(t, originAllowed("https://embed.example.com.evil.net", allowed))
	assert.False(t, originAllowed("https://embed.example.com", nil))
}

func TestResolveLayerKeyAndContentTypes(t *testing.T) {
	assert.Equal(t, "application/geo+json", contentTypeForExt(".geojson"))
	assert.Equal(t, "image/tiff", contentTypeForExt(".cog.tif"))
	assert.Equal(t, "application/octet-stream", contentTypeForExt(".fgb"))
	assert.Equal(t, "application/octet-stream", contentTypeForExt(".unknown"))
}
