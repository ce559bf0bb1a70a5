package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/buntinglabs/mundi/pkg/models"
)

// StyleService persists layer styles and the active (map, layer) → style
// links. Reassigning a link overwrites it: the active style per pair is
// unique by construction.
type StyleService struct {
	pool *pgxpool.Pool
}

// NewStyleService creates a new StyleService.
func NewStyleService(pool *pgxpool.Pool) *StyleService {
	return &StyleService{pool: pool}
}

// InsertStyle inserts a style record and returns its id.
func (s *StyleService) InsertStyle(ctx context.Context, layerID string, renderLayers []map[string]any, parentStyleID *string) (string, error) {
	styleID := models.GenerateID('S')
	styleJSON, err := json.Marshal(renderLayers)
	if err != nil {
		return "", fmt.Errorf("failed to marshal style: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO layer_styles (style_id, layer_id, style_json, parent_style_id)
		 VALUES ($1, $2, $3, $4)`,
		styleID, layerID, styleJSON, parentStyleID)
	if err != nil {
		return "", fmt.Errorf("failed to insert style: %w", err)
	}
	return styleID, nil
}

// LinkStyle upserts the active style for (map, layer).
func (s *StyleService) LinkStyle(ctx context.Context, mapID, layerID, styleID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO map_layer_styles (map_id, layer_id, style_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (map_id, layer_id) DO UPDATE SET style_id = EXCLUDED.style_id`,
		mapID, layerID, styleID)
	if err != nil {
		return fmt.Errorf("failed to link style: %w", err)
	}
	return nil
}

// ActiveStyle returns the active style id for (map, layer), and the style's
// id the link chain replaced (for history).
func (s *StyleService) ActiveStyle(ctx context.Context, mapID, layerID string) (*models.Style, error) {
	st := &models.Style{}
	var styleJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT ls.style_id, ls.layer_id, ls.style_json, ls.parent_style_id, ls.created_on
		 FROM map_layer_styles mls
		 JOIN layer_styles ls ON ls.style_id = mls.style_id
		 WHERE mls.map_id = $1 AND mls.layer_id = $2`, mapID, layerID).
		Scan(&st.ID, &st.LayerID, &styleJSON, &st.ParentStyleID, &st.CreatedOn)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active style: %w", err)
	}
	if err := json.Unmarshal(styleJSON, &st.RenderLayers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal style json: %w", err)
	}
	return st, nil
}

// ActiveStylesForMap returns the active style per layer of a map, keyed by
// layer id. Layers without a link are absent from the result.
func (s *StyleService) ActiveStylesForMap(ctx context.Context, mapID string) (map[string]*models.Style, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ls.style_id, ls.layer_id, ls.style_json, ls.parent_style_id, ls.created_on
		 FROM map_layer_styles mls
		 JOIN layer_styles ls ON ls.style_id = mls.style_id
		 WHERE mls.map_id = $1`, mapID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch map styles: %w", err)
	}
	defer rows.Close()

	styles := map[string]*models.Style{}
	for rows.Next() {
		st := &models.Style{}
		var styleJSON []byte
		if err := rows.Scan(&st.ID, &st.LayerID, &styleJSON, &st.ParentStyleID, &st.CreatedOn); err != nil {
			return nil, fmt.Errorf("failed to scan style: %w", err)
		}
		if err := json.Unmarshal(styleJSON, &st.RenderLayers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal style json: %w", err)
		}
		styles[st.LayerID] = st
	}
	return styles, rows.Err()
}
