package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/buntinglabs/mundi/pkg/models"
	"github.com/buntinglabs/mundi/pkg/qgis"
	"github.com/buntinglabs/mundi/pkg/styles"
)

// qgisAlgorithmTool wraps one worker-advertised algorithm as a dynamic tool.
func (d *Deps) qgisAlgorithmTool(algo qgis.Algorithm) *Tool {
	schema := map[string]any{"type": "object"}
	if len(algo.Parameters) > 0 {
		var parsed map[string]any
		if err := json.Unmarshal(algo.Parameters, &parsed); err == nil {
			schema = parsed
		}
	}
	return &Tool{
		Name:           algo.Name,
		Description:    algo.Description,
		EphemeralLabel: fmt.Sprintf("QGIS running %s...", qgis.AlgorithmID(algo.Name)),
		StyleUpdate:    true,
		Schema:         schema,
		Handler:        d.qgisHandler(algo),
	}
}

func (d *Deps) qgisHandler(algo qgis.Algorithm) Handler {
	return func(ctx context.Context, call *Call) (map[string]any, error) {
		resolve := func(ctx context.Context, layerID string) (string, error) {
			layer, err := d.Layers.GetLayer(ctx, layerID, call.UserID)
			if err != nil {
				return "", err
			}
			if layer.StorageKey == "" {
				return "", fmt.Errorf("layer %s has no stored file", layerID)
			}
			return layer.StorageKey, nil
		}

		result, err := d.QGIS.Run(ctx, algo.Name, algo.Description, call.Args,
			call.UserID, call.ProjectID, resolve)
		if err != nil {
			var workerErr *qgis.WorkerError
			if errors.As(err, &workerErr) {
				return nil, Recoverablef("%s: %s", workerErr.Message, string(workerErr.Raw))
			}
			return nil, Recoverablef("geoprocessing failed: %v", err)
		}

		var created []map[string]any
		for _, out := range result.Outputs {
			kind := models.LayerKindVector
			geomType := "ST_Polygon"
			if out.Kind == qgis.OutputRaster {
				kind = models.LayerKindRaster
				geomType = ""
			}
			layer := &models.Layer{
				ID:         out.LayerID,
				OwnerID:    call.UserID,
				Name:       fmt.Sprintf("%s output", result.AlgorithmID),
				Kind:       kind,
				StorageKey: out.Key,
				Metadata:   map[string]any{"algorithm_id": result.AlgorithmID},
			}
			if err := d.Layers.CreateLayer(ctx, layer); err != nil {
				return nil, fmt.Errorf("failed to persist output layer: %w", err)
			}
			if kind == models.LayerKindVector {
				styleID, err := d.Styles.InsertStyle(ctx, out.LayerID,
					styles.DefaultRenderLayers(out.LayerID, geomType), nil)
				if err != nil {
					return nil, fmt.Errorf("failed to persist default style: %w", err)
				}
				if err := d.Styles.LinkStyle(ctx, call.MapID, out.LayerID, styleID); err != nil {
					return nil, fmt.Errorf("failed to link default style: %w", err)
				}
			}
			if err := d.Maps.AppendLayer(ctx, call.MapID, out.LayerID); err != nil {
				return nil, fmt.Errorf("failed to attach output layer: %w", err)
			}
			created = append(created, map[string]any{
				"layer_id": out.LayerID,
				"name":     layer.Name,
				"type":     string(kind),
			})
		}

		return map[string]any{
			"algorithm_id": result.AlgorithmID,
			"layers":       created,
		}, nil
	}
}
