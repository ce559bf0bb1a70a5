// Package styles generates default layer symbology, composes full map style
// documents, and validates styles via the external validator.
package styles

import (
	"hash/fnv"
	"strings"
)

// SourceLayerName is the source-layer every MVT-backed render layer reads
// from. The tile pipeline reprojects sources into a single named layer.
const SourceLayerName = "reprojectedfgb"

// palette is the fixed 20-color set default styles draw from. A layer's
// color is chosen deterministically from its id so restyles are stable.
var palette = [20]string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#fabebe",
	"#008080", "#e6beff", "#9a6324", "#fffac8", "#800000",
	"#aaffc3", "#808000", "#ffd8b1", "#000075", "#808080",
}

// ColorFor returns the palette color for a layer id.
func ColorFor(layerID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(layerID))
	return palette[h.Sum32()%uint32(len(palette))]
}

// GeometryClass reduces a PostGIS ST_GeometryType value to point, line, or
// polygon. Unknown types style as points.
func GeometryClass(geometryType string) string {
	t := strings.ToLower(strings.TrimPrefix(geometryType, "ST_"))
	switch {
	case strings.Contains(t, "polygon"):
		return "polygon"
	case strings.Contains(t, "linestring") || strings.Contains(t, "line"):
		return "line"
	default:
		return "point"
	}
}

// DefaultRenderLayers builds the deterministic default symbology for a layer
// given its geometry kind.
func DefaultRenderLayers(layerID, geometryType string) []map[string]any {
	color := ColorFor(layerID)
	base := map[string]any{
		"source":       layerID,
		"source-layer": SourceLayerName,
	}

	switch GeometryClass(geometryType) {
	case "polygon":
		fill := cloneWith(base, map[string]any{
			"id":   layerID + "-fill",
			"type": "fill",
			"paint": map[string]any{
				"fill-color":   color,
				"fill-opacity": 0.5,
			},
		})
		outline := cloneWith(base, map[string]any{
			"id":   layerID + "-outline",
			"type": "line",
			"paint": map[string]any{
				"line-color": color,
				"line-width": 1.5,
			},
		})
		return []map[string]any{fill, outline}
	case "line":
		return []map[string]any{cloneWith(base, map[string]any{
			"id":   layerID + "-line",
			"type": "line",
			"paint": map[string]any{
				"line-color": color,
				"line-width": 2.0,
			},
		})}
	default:
		return []map[string]any{cloneWith(base, map[string]any{
			"id":   layerID + "-circle",
			"type": "circle",
			"paint": map[string]any{
				"circle-color":        color,
				"circle-radius":       5.0,
				"circle-stroke-color": "#ffffff",
				"circle-stroke-width": 1.0,
			},
		})}
	}
}

func cloneWith(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
