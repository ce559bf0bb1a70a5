package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/buntinglabs/mundi/pkg/models"
	"github.com/buntinglabs/mundi/pkg/storage"
	"github.com/buntinglabs/mundi/pkg/styles"
)

const osmExtractURL = "https://osm.buntinglabs.com/v1/osm/extract"

// osmGeometryKinds maps the three extract geometries to the ST_GeometryType
// used for their default styles.
var osmGeometryKinds = []struct {
	name     string
	geomType string
}{
	{"points", "ST_Point"},
	{"lines", "ST_LineString"},
	{"polygons", "ST_Polygon"},
}

func (d *Deps) downloadFromOSMTool() *Tool {
	return &Tool{
		Name: "download_from_openstreetmap",
		Description: "Download OpenStreetMap features matching a tag filter inside a bounding " +
			"box. Produces up to three layers: points, lines, and polygons.",
		EphemeralLabel: "Downloading from OpenStreetMap...",
		StyleUpdate:    true,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tags": map[string]any{
					"type":        "string",
					"description": "OSM tag filter, e.g. amenity=cafe",
				},
				"bbox": map[string]any{
					"type":        "array",
					"description": "[west, south, east, north] in WGS84 degrees",
					"items":       map[string]any{"type": "number"},
					"minItems":    4,
					"maxItems":    4,
				},
				"layer_name": map[string]any{
					"type": "string",
				},
			},
			"required":             []any{"tags", "bbox", "layer_name"},
			"additionalProperties": false,
		},
		Handler: d.handleDownloadFromOSM,
	}
}

func (d *Deps) handleDownloadFromOSM(ctx context.Context, call *Call) (map[string]any, error) {
	tags := call.Args["tags"].(string)
	layerName := call.Args["layer_name"].(string)
	rawBBox := call.Args["bbox"].([]any)
	bbox := make([]float64, len(rawBBox))
	for i, v := range rawBBox {
		bbox[i] = v.(float64)
	}
	if bbox[0] >= bbox[2] || bbox[1] >= bbox[3] {
		return nil, Recoverablef("bbox must satisfy west < east and south < north")
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}
	var created []map[string]any

	for _, kind := range osmGeometryKinds {
		data, err := d.fetchOSMExtract(ctx, httpClient, tags, bbox, kind.name)
		if err != nil {
			return nil, Recoverablef("OpenStreetMap download failed for %s: %v", kind.name, err)
		}
		if len(data) == 0 {
			continue // no features of this geometry in the bbox
		}

		layerID := models.GenerateID('L')
		key := storage.UploadKey(call.UserID, call.ProjectID, layerID, ".fgb")
		if err := d.Store.Put(ctx, key, bytes.NewReader(data), "application/octet-stream"); err != nil {
			return nil, fmt.Errorf("failed to store OSM extract: %w", err)
		}

		layer := &models.Layer{
			ID:         layerID,
			OwnerID:    call.UserID,
			Name:       fmt.Sprintf("%s (%s)", layerName, kind.name),
			Kind:       models.LayerKindVector,
			StorageKey: key,
			Bounds:     bbox,
			Metadata:   map[string]any{"osm_tags": tags},
		}
		if err := d.Layers.CreateLayer(ctx, layer); err != nil {
			return nil, fmt.Errorf("failed to persist OSM layer: %w", err)
		}

		styleID, err := d.Styles.InsertStyle(ctx, layerID,
			styles.DefaultRenderLayers(layerID, kind.geomType), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to persist default style: %w", err)
		}
		if err := d.Styles.LinkStyle(ctx, call.MapID, layerID, styleID); err != nil {
			return nil, fmt.Errorf("failed to link default style: %w", err)
		}
		if err := d.Maps.AppendLayer(ctx, call.MapID, layerID); err != nil {
			return nil, fmt.Errorf("failed to attach OSM layer: %w", err)
		}

		created = append(created, map[string]any{
			"layer_id": layerID,
			"name":     layer.Name,
			"geometry": kind.name,
		})
	}

	if len(created) == 0 {
		return nil, Recoverablef("no OpenStreetMap features matched %q in the given bbox", tags)
	}
	return map[string]any{"layers": created}, nil
}

func (d *Deps) fetchOSMExtract(ctx context.Context, client *http.Client, tags string, bbox []float64, geometry string) ([]byte, error) {
	params := url.Values{}
	params.Set("tags", tags)
	params.Set("bbox", fmt.Sprintf("%f,%f,%f,%f", bbox[0], bbox[1], bbox[2], bbox[3]))
	params.Set("geometry", geometry)
	params.Set("api_key", d.OSMAPIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, osmExtractURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extract API returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
