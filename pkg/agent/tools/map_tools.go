package tools

import (
	"context"
	"time"

	"github.com/buntinglabs/mundi/pkg/events"
	"github.com/buntinglabs/mundi/pkg/models"
)

func (d *Deps) addLayerToMapTool(unattached []*models.Layer) *Tool {
	ids := make([]any, 0, len(unattached))
	for _, l := range unattached {
		ids = append(ids, l.ID)
	}
	return &Tool{
		Name:           "add_layer_to_map",
		Description:    "Attach one of the user's existing unattached layers to the current map.",
		EphemeralLabel: "Adding layer to map...",
		StyleUpdate:    true,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"layer_id": map[string]any{
					"type": "string",
					"enum": ids,
				},
				"new_name": map[string]any{
					"type":        "string",
					"description": "Optional display name shown in the layer list",
				},
			},
			"required":             []any{"layer_id"},
			"additionalProperties": false,
		},
		Handler: d.handleAddLayerToMap,
	}
}

func (d *Deps) handleAddLayerToMap(ctx context.Context, call *Call) (map[string]any, error) {
	layerID := call.Args["layer_id"].(string)

	layer, err := d.Layers.GetLayer(ctx, layerID, call.UserID)
	if err != nil {
		return nil, Recoverablef("layer %s is not available: %v", layerID, err)
	}
	if err := d.Maps.AppendLayer(ctx, call.MapID, layer.ID); err != nil {
		return nil, Recoverablef("could not attach layer: %v", err)
	}

	name := layer.Name
	if newName, ok := call.Args["new_name"].(string); ok && newName != "" {
		name = newName
	}
	return map[string]any{"layer_id": layer.ID, "name": name}, nil
}

func (d *Deps) zoomToBoundsTool() *Tool {
	return &Tool{
		Name:           "zoom_to_bounds",
		Description:    "Zoom the user's map view to the given WGS84 bounds.",
		EphemeralLabel: "Zooming the map...",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"bounds": map[string]any{
					"type":        "array",
					"description": "[west, south, east, north] in WGS84 degrees",
					"items":       map[string]any{"type": "number"},
					"minItems":    4,
					"maxItems":    4,
				},
			},
			"required":             []any{"bounds"},
			"additionalProperties": false,
		},
		Handler: d.handleZoomToBounds,
	}
}

func (d *Deps) handleZoomToBounds(ctx context.Context, call *Call) (map[string]any, error) {
	raw := call.Args["bounds"].([]any)
	bounds := make([]float64, len(raw))
	for i, v := range raw {
		bounds[i] = v.(float64)
	}

	west, south, east, north := bounds[0], bounds[1], bounds[2], bounds[3]
	if west < -180 || east > 180 || south < -90 || north > 90 {
		return nil, Recoverablef("bounds must be within WGS84: [-180, -90, 180, 90]")
	}
	if west >= east || south >= north {
		return nil, Recoverablef("bounds must satisfy west < east and south < north")
	}

	// The zoom is purely a UI intent delivered over the ephemeral stream.
	// The short sleep gives the client time to animate before completed.
	scope := d.Publisher.BeginAction(ctx, call.ConversationID, "Zooming to bounds",
		events.WithBounds(bounds))
	time.Sleep(250 * time.Millisecond)
	scope.Complete(ctx)

	return map[string]any{"bounds": bounds}, nil
}
