package api

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/buntinglabs/mundi/pkg/models"
	"github.com/buntinglabs/mundi/pkg/storage"
	"github.com/buntinglabs/mundi/pkg/styles"
)

// CreateMapRequest is the body for POST /api/maps/create.
type CreateMapRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// createMapHandler creates a project with its first map snapshot.
func (s *Server) createMapHandler(c *echo.Context) error {
	var req CreateMapRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Title == "" {
		req.Title = "Untitled map"
	}

	m, err := s.maps.CreateProjectWithMap(c.Request().Context(), currentUser(c), req.Title, req.Description)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, m)
}

// layerExtKinds maps accepted upload extensions to layer kinds.
var layerExtKinds = map[string]models.LayerKind{
	".geojson": models.LayerKindVector,
	".gpkg":    models.LayerKindVector,
	".fgb":     models.LayerKindVector,
	".tif":     models.LayerKindRaster,
	".tiff":    models.LayerKindRaster,
	".laz":     models.LayerKindPointCloud,
}

// uploadLayerHandler ingests a multipart layer upload. Attachment mutates
// the DAG: the layer lands on a fresh child snapshot of the target map.
func (s *Server) uploadLayerHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	userID := currentUser(c)

	parent, err := s.maps.GetMap(ctx, c.Param("map_id"), userID)
	if err != nil {
		return mapServiceError(err)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	kind, ok := layerExtKinds[ext]
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unsupported file type %q", ext))
	}

	name := c.FormValue("name")
	if name == "" {
		name = strings.TrimSuffix(fileHeader.Filename, ext)
	}

	src, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read uploaded file")
	}
	defer src.Close()

	layerID := models.GenerateID('L')
	key := storage.UploadKey(userID, parent.ProjectID, layerID, ext)
	if err := s.store.Put(ctx, key, src, "application/octet-stream"); err != nil {
		return mapServiceError(err)
	}

	layer := &models.Layer{
		ID:         layerID,
		OwnerID:    userID,
		Name:       name,
		Kind:       kind,
		StorageKey: key,
		Metadata:   map[string]any{"original_filename": fileHeader.Filename},
	}
	if err := s.layers.CreateLayer(ctx, layer); err != nil {
		return mapServiceError(err)
	}

	child, err := s.maps.ForkMap(ctx, parent, models.ForkReasonUserEdit,
		fmt.Sprintf("Added layer %s", name))
	if err != nil {
		return mapServiceError(err)
	}
	if err := s.maps.AppendLayer(ctx, child.ID, layerID); err != nil {
		return mapServiceError(err)
	}

	if kind == models.LayerKindVector {
		styleID, err := s.styles.InsertStyle(ctx, layerID,
			styles.DefaultRenderLayers(layerID, ""), nil)
		if err != nil {
			return mapServiceError(err)
		}
		if err := s.styles.LinkStyle(ctx, child.ID, layerID, styleID); err != nil {
			return mapServiceError(err)
		}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"layer_id": layerID,
		"name":     name,
		"type":     kind,
		"map_id":   child.ID,
	})
}

// originAllowed reports whether an Origin header value is in the embed
// allowlist. An empty allowlist permits same-origin requests only, which
// never carry a cross-origin header to match.
func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == origin {
			return true
		}
	}
	return false
}

// styleJSONHandler serves the composed style document for a map. Allowlisted
// embed origins get CORS access so third-party pages can load the style.
func (s *Server) styleJSONHandler(c *echo.Context) error {
	ctx := c.Request().Context()

	if origin := c.Request().Header.Get("Origin"); origin != "" &&
		originAllowed(origin, s.cfg.EmbedAllowedOrigins) {
		c.Response().Header().Set("Access-Control-Allow-Origin", origin)
		c.Response().Header().Set("Vary", "Origin")
	}

	m, err := s.maps.GetMap(ctx, c.Param("map_id"), currentUser(c))
	if err != nil {
		return mapServiceError(err)
	}
	active, err := s.styles.ActiveStylesForMap(ctx, m.ID)
	if err != nil {
		return mapServiceError(err)
	}
	doc := styles.Compose(s.cfg.WebsiteDomain, m.ID, m.LayerIDs, active, nil)
	return c.JSON(http.StatusOK, doc)
}

// SetStyleRequest is the body for POST /api/layers/:layer_id/style.
type SetStyleRequest struct {
	MapID string           `json:"map_id"`
	Style []map[string]any `json:"style"`
}

// setStyleHandler replaces the active style for a layer on a map.
func (s *Server) setStyleHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	userID := currentUser(c)
	layerID := c.Param("layer_id")

	var req SetStyleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.MapID == "" || len(req.Style) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "map_id and style are required")
	}

	if _, err := s.layers.GetLayer(ctx, layerID, userID); err != nil {
		return mapServiceError(err)
	}
	m, err := s.maps.GetMap(ctx, req.MapID, userID)
	if err != nil {
		return mapServiceError(err)
	}

	for i, obj := range req.Style {
		if src, _ := obj["source"].(string); src != layerID {
			return echo.NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("style entry %d must use source %q", i, layerID))
		}
		obj["source-layer"] = styles.SourceLayerName
	}

	active, err := s.styles.ActiveStylesForMap(ctx, m.ID)
	if err != nil {
		return mapServiceError(err)
	}
	doc := styles.Compose(s.cfg.WebsiteDomain, m.ID, m.LayerIDs, active,
		map[string][]map[string]any{layerID: req.Style})
	if err := s.toolDeps.Validator.Validate(ctx, doc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var parentStyleID *string
	if current, ok := active[layerID]; ok {
		parentStyleID = &current.ID
	}
	styleID, err := s.styles.InsertStyle(ctx, layerID, req.Style, parentStyleID)
	if err != nil {
		return mapServiceError(err)
	}
	if err := s.styles.LinkStyle(ctx, m.ID, layerID, styleID); err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"style_id": styleID,
		"layer_id": layerID,
	})
}

// layerBytesHandler streams a layer's stored bytes, honoring HTTP range
// requests so PMTiles and COG readers can fetch slices.
func (s *Server) layerBytesHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	userID := currentUser(c)

	layerID, ext, err := splitLayerFile(c.Param("layer_file"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	layer, err := s.layers.GetLayer(ctx, layerID, userID)
	if err != nil {
		return mapServiceError(err)
	}

	key, err := resolveLayerKey(layer, ext)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	c.Response().Header().Set("Accept-Ranges", "bytes")
	contentType := contentTypeForExt(ext)

	if rangeSpec := c.Request().Header.Get("Range"); rangeSpec != "" {
		body, contentRange, length, err := s.store.GetRange(ctx, key, rangeSpec)
		if err != nil {
			return echo.NewHTTPError(http.StatusRequestedRangeNotSatisfiable, "invalid range")
		}
		defer body.Close()
		c.Response().Header().Set("Content-Range", contentRange)
		c.Response().Header().Set("Content-Length", fmt.Sprintf("%d", length))
		c.Response().Header().Set("Content-Type", contentType)
		c.Response().WriteHeader(http.StatusPartialContent)
		_, err = io.Copy(c.Response(), body)
		return err
	}

	body, length, err := s.store.Get(ctx, key)
	if err != nil {
		return mapServiceError(err)
	}
	defer body.Close()
	c.Response().Header().Set("Content-Length", fmt.Sprintf("%d", length))
	return c.Stream(http.StatusOK, contentType, body)
}

// splitLayerFile parses "L…{ext}" path segments like "Labc.pmtiles" or
// "Labc.cog.tif".
func splitLayerFile(param string) (layerID, ext string, err error) {
	dot := strings.IndexByte(param, '.')
	if dot != 12 {
		return "", "", fmt.Errorf("invalid layer file name")
	}
	return param[:dot], param[dot:], nil
}

func resolveLayerKey(layer *models.Layer, ext string) (string, error) {
	switch ext {
	case ".pmtiles":
		if key, ok := layer.Metadata["pmtiles_key"].(string); ok && key != "" {
			return key, nil
		}
		return "", fmt.Errorf("layer has no tiled derivative")
	case ".cog.tif":
		if key, ok := layer.Metadata["cog_key"].(string); ok && key != "" {
			return key, nil
		}
		return storage.COGKey(layer.ID), nil
	default:
		if layer.StorageKey == "" {
			return "", fmt.Errorf("layer has no stored file")
		}
		return layer.StorageKey, nil
	}
}

func contentTypeForExt(ext string) string {
	switch ext {
	case ".geojson":
		return "application/geo+json"
	case ".pmtiles", ".laz", ".fgb":
		return "application/octet-stream"
	case ".cog.tif", ".tif":
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}
