package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/buntinglabs/mundi/pkg/models"
)

// MapService persists projects and map snapshots. Maps form a parent-linked
// DAG: mutations fork a new child snapshot instead of editing in place.
type MapService struct {
	pool *pgxpool.Pool
}

// NewMapService creates a new MapService.
func NewMapService(pool *pgxpool.Pool) *MapService {
	return &MapService{pool: pool}
}

// CreateProjectWithMap creates a project and its first map snapshot.
func (s *MapService) CreateProjectWithMap(ctx context.Context, ownerID, title, description string) (*models.Map, error) {
	projectID := models.GenerateID('P')
	mapID := models.GenerateID('M')

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO projects (id, owner_uuid, title, maps) VALUES ($1, $2, $3, ARRAY[$4])`,
		projectID, ownerID, title, mapID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert project: %w", err)
	}

	m := &models.Map{
		ID:          mapID,
		ProjectID:   projectID,
		OwnerID:     ownerID,
		Title:       title,
		Description: description,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO user_mundiai_maps (id, project_id, owner_uuid, title, description)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_on`,
		mapID, projectID, ownerID, title, description).Scan(&m.CreatedOn)
	if err != nil {
		return nil, fmt.Errorf("failed to insert map: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return m, nil
}

// GetMap fetches one map snapshot, enforcing ownership.
func (s *MapService) GetMap(ctx context.Context, mapID, ownerID string) (*models.Map, error) {
	m := &models.Map{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, owner_uuid, title, description, layers,
		        parent_map_id, fork_reason, created_on
		 FROM user_mundiai_maps WHERE id = $1`, mapID).
		Scan(&m.ID, &m.ProjectID, &m.OwnerID, &m.Title, &m.Description,
			&m.LayerIDs, &m.ParentMapID, &m.ForkReason, &m.CreatedOn)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch map: %w", err)
	}
	if m.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return m, nil
}

// ForkMap creates a child snapshot of the given map, copying its state and
// recording the fork reason and a human-readable diff message on the project.
func (s *MapService) ForkMap(ctx context.Context, parent *models.Map, reason models.ForkReason, diffMessage string) (*models.Map, error) {
	childID := models.GenerateID('M')

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	child := &models.Map{
		ID:          childID,
		ProjectID:   parent.ProjectID,
		OwnerID:     parent.OwnerID,
		Title:       parent.Title,
		Description: parent.Description,
		LayerIDs:    append([]string(nil), parent.LayerIDs...),
		ParentMapID: &parent.ID,
		ForkReason:  &reason,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO user_mundiai_maps
		   (id, project_id, owner_uuid, title, description, layers, parent_map_id, fork_reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_on`,
		child.ID, child.ProjectID, child.OwnerID, child.Title, child.Description,
		child.LayerIDs, child.ParentMapID, child.ForkReason).Scan(&child.CreatedOn)
	if err != nil {
		return nil, fmt.Errorf("failed to insert forked map: %w", err)
	}

	// Carry active style links forward so the child renders identically.
	_, err = tx.Exec(ctx,
		`INSERT INTO map_layer_styles (map_id, layer_id, style_id)
		 SELECT $1, layer_id, style_id FROM map_layer_styles WHERE map_id = $2`,
		child.ID, parent.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to copy style links: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE projects SET maps = array_append(maps, $1),
		        map_diff_messages = array_append(map_diff_messages, $2)
		 WHERE id = $3`,
		child.ID, diffMessage, parent.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to append map to project: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit fork: %w", err)
	}
	return child, nil
}

// AppendLayer appends a layer id to a map's layers array (null-safe,
// duplicate-safe). Used by tool handlers operating on the current snapshot.
func (s *MapService) AppendLayer(ctx context.Context, mapID, layerID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_mundiai_maps
		 SET layers = array_append(COALESCE(layers, '{}'), $1)
		 WHERE id = $2 AND NOT ($1 = ANY(COALESCE(layers, '{}')))`,
		layerID, mapID)
	if err != nil {
		return fmt.Errorf("failed to append layer to map: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already attached or map missing; distinguish for the caller.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM user_mundiai_maps WHERE id = $1)`, mapID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check map existence: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

// AncestorChain walks the parent links from the given map to the root,
// refusing to produce a chain that re-encounters a visited id.
func (s *MapService) AncestorChain(ctx context.Context, mapID string) ([]string, error) {
	visited := map[string]bool{}
	chain := []string{}
	current := &mapID
	for current != nil {
		if visited[*current] {
			return nil, ErrCycle
		}
		visited[*current] = true
		chain = append(chain, *current)

		var parent *string
		err := s.pool.QueryRow(ctx,
			`SELECT parent_map_id FROM user_mundiai_maps WHERE id = $1`, *current).Scan(&parent)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to walk parent chain: %w", err)
		}
		current = parent
	}
	return chain, nil
}

// UnattachedLayers returns up to limit layers the user owns that are not
// attached to the given map. These populate the add_layer_to_map enum.
func (s *MapService) UnattachedLayers(ctx context.Context, ownerID, mapID string, limit int) ([]*models.Layer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT l.layer_id, l.name, l.type
		 FROM map_layers l
		 WHERE l.owner_uuid = $1
		   AND l.layer_id <> ALL(
		     COALESCE((SELECT layers FROM user_mundiai_maps WHERE id = $2), '{}'))
		 ORDER BY l.created_on DESC
		 LIMIT $3`, ownerID, mapID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unattached layers: %w", err)
	}
	defer rows.Close()

	var layers []*models.Layer
	for rows.Next() {
		l := &models.Layer{}
		if err := rows.Scan(&l.ID, &l.Name, &l.Kind); err != nil {
			return nil, fmt.Errorf("failed to scan layer: %w", err)
		}
		layers = append(layers, l)
	}
	return layers, rows.Err()
}
