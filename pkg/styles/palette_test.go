package styles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColorFor_Deterministic(t *testing.T) {
	assert.Equal(t, ColorFor("L23456789ABC"), ColorFor("L23456789ABC"))
	assert.Contains(t, palette[:], ColorFor("LzyxWVutSRqp"))
}

func TestGeometryClass(t *testing.T) {
	assert.Equal(t, "point", GeometryClass("ST_Point"))
	assert.Equal(t, "point", GeometryClass("ST_MultiPoint"))
	assert.Equal(t, "line", GeometryClass("ST_LineString"))
	assert.Equal(t, "line", GeometryClass("ST_MultiLineString"))
	assert.Equal(t, "polygon", GeometryClass("ST_Polygon"))
	assert.Equal(t, "polygon", GeometryClass("ST_MultiPolygon"))
	assert.Equal(t, "point", GeometryClass("ST_GeometryCollection"))
}

func TestDefaultRenderLayers_Polygon(t *testing.T) {
	layers := DefaultRenderLayers("L23456789ABC", "ST_MultiPolygon")
	require.Len(t, layers, 2)
	assert.Equal(t, "fill", layers[0]["type"])
	assert.Equal(t, "line", layers[1]["type"])
	for _, l := range layers {
		assert.Equal(t, "L23456789ABC", l["source"])
		assert.Equal(t, SourceLayerName, l["source-layer"])
	}
}

func TestDefaultRenderLayers_Point(t *testing.T) {
	layers := DefaultRenderLayers("L23456789ABC", "ST_Point")
	require.Len(t, layers, 1)
	assert.Equal(t, "circle", layers[0]["type"])
}

func TestCompose_SourcesAndOverrides(t *testing.T) {
	override := []map[string]any{{
		"id": "La-line", "type": "line", "source": "Labcdefgh234",
		"source-layer": SourceLayerName,
	}}
	doc := Compose("https://mundi.example.com", "M234567890ab",
		[]string{"Labcdefgh234"}, nil,
		map[string][]map[string]any{"Labcdefgh234": override})

	assert.Equal(t, 8, doc["version"])
	sources := doc["sources"].(map[string]any)
	src := sources["Labcdefgh234"].(map[string]any)
	tiles := src["tiles"].([]string)
	require.Len(t, tiles, 1)
	assert.Equal(t, "https://mundi.example.com/api/layer/Labcdefgh234/{z}/{x}/{y}.mvt", tiles[0])

	layers := doc["layers"].([]map[string]any)
	require.Len(t, layers, 2) // background + override
	assert.Equal(t, "background", layers[0]["id"])
	assert.Equal(t, "La-line", layers[1]["id"])
}
