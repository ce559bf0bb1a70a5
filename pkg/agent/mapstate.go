package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/buntinglabs/mundi/pkg/models"
	"github.com/buntinglabs/mundi/pkg/services"
)

// MapStateBuilder renders the system messages that ground the LLM in the
// current map: a markdown description of the map and its layers, plus an
// optional selected-feature document.
type MapStateBuilder struct {
	Maps        *services.MapService
	Layers      *services.LayerService
	Connections *services.ConnectionService
}

// Build returns the system message bodies for a turn. selectedFeature is the
// raw GeoJSON feature the user has selected in the UI, or nil.
func (b *MapStateBuilder) Build(ctx context.Context, m *models.Map, userID string, selectedFeature json.RawMessage) ([]models.MessageBody, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Current map: %s\n\n", m.Title)
	if m.Description != "" {
		sb.WriteString(m.Description)
		sb.WriteString("\n\n")
	}

	if len(m.LayerIDs) == 0 {
		sb.WriteString("The map has no layers yet.\n")
	} else {
		sb.WriteString("## Layers\n\n")
		sb.WriteString("| Layer ID | Name | Type | Geometry | Features |\n")
		sb.WriteString("|---|---|---|---|---|\n")
		for _, layerID := range m.LayerIDs {
			layer, err := b.Layers.GetLayer(ctx, layerID, userID)
			if err != nil {
				return nil, fmt.Errorf("failed to describe layer %s: %w", layerID, err)
			}
			geom, count := "-", "-"
			if layer.GeometryType != nil {
				geom = *layer.GeometryType
			}
			if layer.FeatureCount != nil {
				count = fmt.Sprintf("%d", *layer.FeatureCount)
			}
			fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s |\n",
				layer.ID, layer.Name, layer.Kind, geom, count)
		}
	}

	connections, err := b.Connections.ListByProject(ctx, m.ProjectID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	if len(connections) > 0 {
		sb.WriteString("\n## Connected PostGIS databases\n\n")
		for _, conn := range connections {
			fmt.Fprintf(&sb, "- %s (connection id %s)\n", conn.FriendlyName, conn.ID)
			if summary, err := b.Connections.GetSummary(ctx, conn.ID); err == nil {
				fmt.Fprintf(&sb, "\n%s\n", summary.SummaryMD)
			}
		}
	}

	messages := []models.MessageBody{{Role: models.RoleSystem, Content: sb.String()}}
	if len(selectedFeature) > 0 {
		messages = append(messages, models.MessageBody{
			Role:    models.RoleSystem,
			Content: fmt.Sprintf("The user has selected this feature on the map:\n```json\n%s\n```", selectedFeature),
		})
	}
	return messages, nil
}
