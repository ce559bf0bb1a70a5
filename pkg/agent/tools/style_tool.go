package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/buntinglabs/mundi/pkg/services"
	"github.com/buntinglabs/mundi/pkg/styles"
)

func (d *Deps) setLayerStyleTool() *Tool {
	return &Tool{
		Name: "set_layer_style",
		Description: "Replace the active MapLibre style for a layer on the current map. " +
			"Provide a list of render-layer objects whose 'source' is the layer id.",
		EphemeralLabel: "Updating layer style...",
		StyleUpdate:    true,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"layer_id": map[string]any{
					"type":    "string",
					"pattern": "^L[2-9A-HJ-NP-Za-km-z]{11}$",
				},
				"style": map[string]any{
					"type":     "array",
					"minItems": 1,
					"items": map[string]any{
						"type":     "object",
						"required": []any{"id", "type", "source"},
					},
				},
			},
			"required":             []any{"layer_id", "style"},
			"additionalProperties": false,
		},
		Handler: d.handleSetLayerStyle,
	}
}

func (d *Deps) handleSetLayerStyle(ctx context.Context, call *Call) (map[string]any, error) {
	layerID := call.Args["layer_id"].(string)
	rawLayers := call.Args["style"].([]any)

	if _, err := d.Layers.GetLayer(ctx, layerID, call.UserID); err != nil {
		return nil, Recoverablef("layer %s is not available: %v", layerID, err)
	}

	renderLayers := make([]map[string]any, 0, len(rawLayers))
	for i, raw := range rawLayers {
		obj, ok := raw.(map[string]any)
		if !ok {
			return nil, Recoverablef("style entry %d is not an object", i)
		}
		if src, _ := obj["source"].(string); src != layerID {
			return nil, Recoverablef("style entry %d must use source %q, got %q", i, layerID, obj["source"])
		}
		// MVT-backed layers all serve a single named source layer.
		obj["source-layer"] = styles.SourceLayerName
		renderLayers = append(renderLayers, obj)
	}

	// Validate the full document the override would produce, not the
	// fragment in isolation.
	m, err := d.Maps.GetMap(ctx, call.MapID, call.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load map: %w", err)
	}
	active, err := d.Styles.ActiveStylesForMap(ctx, call.MapID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active styles: %w", err)
	}
	doc := styles.Compose(d.WebsiteDomain, call.MapID, m.LayerIDs, active,
		map[string][]map[string]any{layerID: renderLayers})
	if err := d.Validator.Validate(ctx, doc); err != nil {
		return nil, Recoverablef("%v", err)
	}

	var parentStyleID *string
	if current, ok := active[layerID]; ok {
		parentStyleID = &current.ID
	}

	styleID, err := d.Styles.InsertStyle(ctx, layerID, renderLayers, parentStyleID)
	if err != nil {
		return nil, fmt.Errorf("failed to persist style: %w", err)
	}
	if err := d.Styles.LinkStyle(ctx, call.MapID, layerID, styleID); err != nil {
		return nil, fmt.Errorf("failed to activate style: %w", err)
	}

	return map[string]any{"style_id": styleID, "layer_id": layerID}, nil
}

// recoverableServiceError translates ownership and existence failures into
// tool-visible errors while letting infrastructure errors escape.
func recoverableServiceError(err error, what string) error {
	if errors.Is(err, services.ErrNotFound) || errors.Is(err, services.ErrForbidden) {
		return Recoverablef("%s was not found", what)
	}
	return err
}
