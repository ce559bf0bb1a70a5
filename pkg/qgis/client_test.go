package qgis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePresigner struct{}

func (fakePresigner) PresignGet(ctx context.Context, key string) (string, error) {
	return "https://bucket.example.com/get/" + key, nil
}

func (fakePresigner) PresignPut(ctx context.Context, key string) (string, error) {
	return "https://bucket.example.com/put/" + key, nil
}

func TestAlgorithmID(t *testing.T) {
	assert.Equal(t, "native:buffer", AlgorithmID("native_buffer"))
	assert.Equal(t, "qgis:clip", AlgorithmID("qgis_clip"))
}

func TestIsLayerID(t *testing.T) {
	assert.True(t, IsLayerID("L23456789ABC"))
	assert.False(t, IsLayerID("M23456789ABC"), "wrong prefix")
	assert.False(t, IsLayerID("L23456789AB"), "too short")
	assert.False(t, IsLayerID("L23456789ABCD"), "too long")
	assert.False(t, IsLayerID("L0OIl1234567"), "excluded alphabet characters")
}

func TestPlanOutputKind(t *testing.T) {
	assert.Equal(t, OutputVector, PlanOutputKind("Buffers a vector layer producing a vector result"))
	assert.Equal(t, OutputRaster, PlanOutputKind("Computes a raster hillshade from a raster DEM given vector masks"))
	assert.Equal(t, OutputVector, PlanOutputKind("no keywords at all"), "ties and absences default to vector")
}

func TestRun_MarshalsLayerIDsAsURLs(t *testing.T) {
	var captured runRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"upload_results": map[string]any{"OUTPUT": map[string]any{"uploaded": true}},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, fakePresigner{})
	resolve := func(ctx context.Context, layerID string) (string, error) {
		return "uploads/demo/P1/" + layerID + ".fgb", nil
	}

	result, err := client.Run(context.Background(), "native_buffer", "Buffers a vector layer",
		map[string]any{"INPUT": "L23456789ABC", "DISTANCE": 100.0},
		"demo", "P234567890ab", resolve)
	require.NoError(t, err)

	assert.Equal(t, "native:buffer", captured.AlgorithmID)
	assert.Equal(t, "100", captured.QGISInputs["DISTANCE"])
	assert.NotContains(t, captured.QGISInputs, "INPUT", "layer ids travel as URLs, not scalars")
	assert.Contains(t, captured.InputURLs["INPUT"], "L23456789ABC")
	assert.Contains(t, captured.OutputPresignedPutURLs, "OUTPUT")

	require.Len(t, result.Outputs, 1)
	assert.Equal(t, OutputVector, result.Outputs[0].Kind)
	assert.True(t, IsLayerID(result.Outputs[0].LayerID))
}

func TestRun_MissingUploadIsWorkerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"upload_results": map[string]any{"OUTPUT": map[string]any{"uploaded": false}},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, fakePresigner{})
	resolve := func(ctx context.Context, layerID string) (string, error) { return "", nil }

	_, err := client.Run(context.Background(), "native_buffer", "vector",
		map[string]any{"DISTANCE": "5"}, "demo", "P234567890ab", resolve)

	var workerErr *WorkerError
	require.ErrorAs(t, err, &workerErr)
	assert.NotEmpty(t, workerErr.Raw)
}
