package tools

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/buntinglabs/mundi/pkg/models"
	"github.com/buntinglabs/mundi/pkg/postgis"
	"github.com/buntinglabs/mundi/pkg/styles"
)

func (d *Deps) newLayerFromPostGISTool(connections []*models.PGConnection) *Tool {
	return &Tool{
		Name: "new_layer_from_postgis",
		Description: "Create a new map layer from a SQL query against a connected PostGIS " +
			"database. The query must select an 'id' column and a 'geom' geometry column.",
		EphemeralLabel: "Creating layer from PostGIS...",
		StyleUpdate:    true,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"postgresql_connection_id": map[string]any{
					"type": "string",
					"enum": connectionIDs(connections),
				},
				"query": map[string]any{
					"type":        "string",
					"description": "SQL selecting id and geom columns",
				},
				"layer_name": map[string]any{
					"type":        "string",
					"description": "Human-readable name for the new layer",
				},
			},
			"required":             []any{"postgresql_connection_id", "query", "layer_name"},
			"additionalProperties": false,
		},
		Handler: d.handleNewLayerFromPostGIS,
	}
}

func (d *Deps) handleNewLayerFromPostGIS(ctx context.Context, call *Call) (map[string]any, error) {
	connectionID := call.Args["postgresql_connection_id"].(string)
	query := call.Args["query"].(string)
	layerName := call.Args["layer_name"].(string)

	session, err := d.PostGIS.Connect(ctx, connectionID, call.UserID)
	if err != nil {
		return nil, Recoverablef("could not connect to the database: %v", err)
	}
	defer session.Release(ctx)
	conn := session.Conn()

	// Plan check before anything touches data.
	var planJSON []byte
	if err := conn.QueryRow(ctx, "EXPLAIN (FORMAT JSON) "+query).Scan(&planJSON); err != nil {
		return nil, Recoverablef("query failed to plan: %v", err)
	}
	if err := postgis.VerifyReadOnlyPlan(planJSON); err != nil {
		return nil, Recoverablef("%v", err)
	}

	// Preparing the probe surfaces the column set without fetching rows.
	probe := fmt.Sprintf("SELECT * FROM (%s) AS sub LIMIT 1", query)
	sd, err := conn.Prepare(ctx, "layer_probe", probe)
	if err != nil {
		return nil, Recoverablef("query is not selectable: %v", err)
	}
	defer func() { _ = conn.Deallocate(ctx, "layer_probe") }()

	var hasID, hasGeom bool
	var attributeColumns []string
	for _, field := range sd.Fields {
		switch field.Name {
		case "id":
			hasID = true
		case "geom":
			hasGeom = true
		default:
			attributeColumns = append(attributeColumns, field.Name)
		}
	}
	if !hasID || !hasGeom {
		return nil, Recoverablef("query must select both an 'id' column and a 'geom' geometry column")
	}

	var featureCount int64
	if err := conn.QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS sub", query)).Scan(&featureCount); err != nil {
		return nil, Recoverablef("failed to count features: %v", err)
	}

	geometryType, err := dominantGeometryType(ctx, conn, query)
	if err != nil {
		return nil, Recoverablef("failed to detect geometry type: %v", err)
	}

	bounds, err := wgs84Extent(ctx, conn, query)
	if err != nil {
		return nil, Recoverablef("failed to compute layer extent: %v", err)
	}

	layer := &models.Layer{
		ID:           models.GenerateID('L'),
		OwnerID:      call.UserID,
		Name:         layerName,
		Kind:         models.LayerKindPostGIS,
		ConnectionID: &connectionID,
		PostGISQuery: &query,
		Bounds:       bounds,
		GeometryType: &geometryType,
		FeatureCount: &featureCount,
		Metadata:     map[string]any{"attribute_columns": attributeColumns},
	}
	if err := d.Layers.CreateLayer(ctx, layer); err != nil {
		return nil, fmt.Errorf("failed to persist layer: %w", err)
	}

	styleID, err := d.Styles.InsertStyle(ctx, layer.ID,
		styles.DefaultRenderLayers(layer.ID, geometryType), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to persist default style: %w", err)
	}
	if err := d.Styles.LinkStyle(ctx, call.MapID, layer.ID, styleID); err != nil {
		return nil, fmt.Errorf("failed to link default style: %w", err)
	}
	if err := d.Maps.AppendLayer(ctx, call.MapID, layer.ID); err != nil {
		return nil, fmt.Errorf("failed to attach layer to map: %w", err)
	}

	return map[string]any{
		"layer_id":      layer.ID,
		"name":          layerName,
		"feature_count": featureCount,
		"geometry_type": geometryType,
		"bounds":        bounds,
	}, nil
}

// dominantGeometryType returns the most frequent ST_GeometryType among the
// query's non-null geometries.
func dominantGeometryType(ctx context.Context, conn *pgx.Conn, query string) (string, error) {
	var geometryType string
	err := conn.QueryRow(ctx, fmt.Sprintf(
		`SELECT ST_GeometryType(geom) FROM (%s) AS sub
		 WHERE geom IS NOT NULL
		 GROUP BY 1 ORDER BY COUNT(*) DESC LIMIT 1`, query)).Scan(&geometryType)
	if err != nil {
		return "", err
	}
	return geometryType, nil
}

// wgs84Extent computes the query's bounding box in WGS84. ST_Extent returns
// a SRID-less BOX2D, so the source SRID is stamped back on before the
// transform (a no-op when the source is already 4326).
func wgs84Extent(ctx context.Context, conn *pgx.Conn, query string) ([]float64, error) {
	var west, south, east, north float64
	err := conn.QueryRow(ctx, fmt.Sprintf(
		`WITH src AS (SELECT geom FROM (%s) AS sub WHERE geom IS NOT NULL),
		 ext AS (
		   SELECT ST_Transform(
		     ST_SetSRID(ST_Extent(geom)::geometry,
		                COALESCE(NULLIF((SELECT ST_SRID(geom) FROM src LIMIT 1), 0), 4326)),
		     4326) AS b
		   FROM src
		 )
		 SELECT ST_XMin(b), ST_YMin(b), ST_XMax(b), ST_YMax(b) FROM ext`, query)).
		Scan(&west, &south, &east, &north)
	if err != nil {
		return nil, err
	}
	return []float64{west, south, east, north}, nil
}
