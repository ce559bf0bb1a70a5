package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/buntinglabs/mundi/pkg/events"
	"github.com/buntinglabs/mundi/pkg/models"
	"github.com/buntinglabs/mundi/pkg/postgis"
	"github.com/buntinglabs/mundi/pkg/qgis"
	"github.com/buntinglabs/mundi/pkg/services"
	"github.com/buntinglabs/mundi/pkg/storage"
	"github.com/buntinglabs/mundi/pkg/styles"
	"github.com/buntinglabs/mundi/pkg/vectorquery"
)

// Deps bundles the collaborators tool handlers run against.
type Deps struct {
	Maps        *services.MapService
	Layers      *services.LayerService
	Styles      *services.StyleService
	Connections *services.ConnectionService
	PostGIS     *postgis.Manager
	Vector      *vectorquery.Engine
	Store       *storage.Store
	QGIS        *qgis.Client
	Publisher   *events.Publisher
	Validator   *styles.Validator

	WebsiteDomain string
	OSMAPIKey     string
}

// BuildRegistry assembles the per-iteration tool set. unattached feeds the
// add_layer_to_map enum; connections feed the PostGIS tool enums; the QGIS
// catalog contributes one dynamic tool per advertised algorithm.
func (d *Deps) BuildRegistry(ctx context.Context, unattached []*models.Layer, connections []*models.PGConnection) (*Registry, error) {
	r := NewRegistry()

	register := func(t *Tool) error {
		if err := r.Register(t); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", t.Name, err)
		}
		return nil
	}

	if len(connections) > 0 {
		if err := register(d.newLayerFromPostGISTool(connections)); err != nil {
			return nil, err
		}
		if err := register(d.queryPostGISTool(connections)); err != nil {
			return nil, err
		}
	}
	if len(unattached) > 0 {
		if err := register(d.addLayerToMapTool(unattached)); err != nil {
			return nil, err
		}
	}
	if err := register(d.setLayerStyleTool()); err != nil {
		return nil, err
	}
	if err := register(d.queryDuckDBTool()); err != nil {
		return nil, err
	}
	if err := register(d.zoomToBoundsTool()); err != nil {
		return nil, err
	}
	if d.OSMAPIKey != "" {
		if err := register(d.downloadFromOSMTool()); err != nil {
			return nil, err
		}
	}

	if d.QGIS != nil && d.QGIS.Enabled() {
		algos, err := d.QGIS.ListAlgorithms(ctx)
		if err != nil {
			// The worker being down removes its tools from this turn only.
			slog.Warn("Failed to list QGIS algorithms", "error", err)
		}
		for _, algo := range algos {
			if err := register(d.qgisAlgorithmTool(algo)); err != nil {
				return nil, err
			}
		}
	}

	return r, nil
}

func connectionIDs(connections []*models.PGConnection) []any {
	ids := make([]any, 0, len(connections))
	for _, c := range connections {
		ids = append(ids, c.ID)
	}
	return ids
}
