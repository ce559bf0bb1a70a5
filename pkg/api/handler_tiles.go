package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/buntinglabs/mundi/pkg/models"
	"github.com/buntinglabs/mundi/pkg/styles"
)

// maxTileZoom bounds requested tile zoom levels.
const maxTileZoom = 18

type tileCoord struct {
	z, x, y int
}

// parseTileCoord validates z/x/y path segments. The y segment carries the
// ".mvt" suffix.
func parseTileCoord(zs, xs, ys string) (tileCoord, error) {
	ys = strings.TrimSuffix(ys, ".mvt")

	z, err := strconv.Atoi(zs)
	if err != nil || z < 0 || z > maxTileZoom {
		return tileCoord{}, fmt.Errorf("zoom must be between 0 and %d", maxTileZoom)
	}
	x, err := strconv.Atoi(xs)
	if err != nil {
		return tileCoord{}, fmt.Errorf("invalid tile x")
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return tileCoord{}, fmt.Errorf("invalid tile y")
	}
	limit := 1 << z
	if x < 0 || x >= limit || y < 0 || y >= limit {
		return tileCoord{}, fmt.Errorf("tile coordinates out of range for zoom %d", z)
	}
	return tileCoord{z: z, x: x, y: y}, nil
}

// tileHandler serves one vector tile for a PostGIS-backed layer. The fetch
// races client disconnect: when the socket drops mid-query, the query is
// cancelled and an empty response frees the connection.
func (s *Server) tileHandler(c *echo.Context) error {
	userID := currentUser(c)

	coord, err := parseTileCoord(c.Param("z"), c.Param("x"), c.Param("y"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	layer, err := s.layers.GetLayer(c.Request().Context(), c.Param("layer_id"), userID)
	if err != nil {
		return mapServiceError(err)
	}
	if layer.Kind != models.LayerKindPostGIS || layer.ConnectionID == nil || layer.PostGISQuery == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "layer does not serve vector tiles")
	}

	// The request context dies when the client disconnects, so the race is
	// a select between the fetch result and ctx.Done.
	reqCtx := c.Request().Context()
	fetchCtx, cancel := context.WithCancel(reqCtx)
	defer cancel()

	type fetchResult struct {
		tile []byte
		err  error
	}
	results := make(chan fetchResult, 1)
	go func() {
		tile, err := s.fetchTile(fetchCtx, layer, userID, coord)
		results <- fetchResult{tile: tile, err: err}
	}()

	select {
	case <-reqCtx.Done():
		cancel()
		return nil // client is gone; nothing to send
	case result := <-results:
		if result.err != nil {
			return mapServiceError(result.err)
		}
		return c.Blob(http.StatusOK, "application/vnd.mapbox-vector-tile", result.tile)
	}
}

// fetchTile renders one MVT tile from the layer's backing query.
func (s *Server) fetchTile(ctx context.Context, layer *models.Layer, userID string, coord tileCoord) ([]byte, error) {
	pool, err := s.pgManager.Pool(ctx, *layer.ConnectionID, userID)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		`WITH bounds AS (SELECT ST_TileEnvelope($1, $2, $3) AS geom),
		 src AS (SELECT * FROM (%s) AS q),
		 mvtgeom AS (
		   SELECT ST_AsMVTGeom(ST_Transform(src.geom, 3857), bounds.geom) AS geom, src.id
		   FROM src, bounds
		   WHERE ST_Transform(src.geom, 3857) && bounds.geom
		 )
		 SELECT COALESCE(ST_AsMVT(mvtgeom, '%s'), ''::bytea) FROM mvtgeom`,
		*layer.PostGISQuery, styles.SourceLayerName)

	var tile []byte
	if err := pool.QueryRow(ctx, query, coord.z, coord.x, coord.y).Scan(&tile); err != nil {
		return nil, fmt.Errorf("failed to render tile: %w", err)
	}
	return tile, nil
}
