package styles

import (
	"fmt"

	"github.com/buntinglabs/mundi/pkg/models"
)

// Compose assembles a full MapLibre style document for a map: the base
// background, one vector source per layer, and the active render layers.
// overrides replaces the render layers of specific layer ids before
// assembly, so a proposed restyle can be validated against the full
// document it would produce.
func Compose(websiteDomain, mapID string, layerIDs []string, active map[string]*models.Style, overrides map[string][]map[string]any) map[string]any {
	sources := map[string]any{}
	renderLayers := []map[string]any{
		{
			"id":    "background",
			"type":  "background",
			"paint": map[string]any{"background-color": "#f8f4f0"},
		},
	}

	for _, layerID := range layerIDs {
		sources[layerID] = map[string]any{
			"type": "vector",
			"tiles": []string{
				fmt.Sprintf("%s/api/layer/%s/{z}/{x}/{y}.mvt", websiteDomain, layerID),
			},
			"minzoom": 0,
			"maxzoom": 18,
		}

		if override, ok := overrides[layerID]; ok {
			renderLayers = append(renderLayers, override...)
			continue
		}
		if st, ok := active[layerID]; ok {
			renderLayers = append(renderLayers, st.RenderLayers...)
			continue
		}
		renderLayers = append(renderLayers, DefaultRenderLayers(layerID, "")...)
	}

	return map[string]any{
		"version": 8,
		"name":    "map-" + mapID,
		"glyphs":  "https://fonts.openmaptiles.org/{fontstack}/{range}.pbf",
		"sources": sources,
		"layers":  renderLayers,
	}
}
