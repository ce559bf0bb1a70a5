package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/buntinglabs/mundi/pkg/models"
)

// LayerService persists layers.
type LayerService struct {
	pool *pgxpool.Pool
}

// NewLayerService creates a new LayerService.
func NewLayerService(pool *pgxpool.Pool) *LayerService {
	return &LayerService{pool: pool}
}

// CreateLayer inserts a layer row. The caller supplies a pre-generated id so
// object-store keys and the row can share it.
func (s *LayerService) CreateLayer(ctx context.Context, l *models.Layer) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO map_layers
		   (layer_id, owner_uuid, name, type, path, postgis_connection_id,
		    postgis_query, bounds, geometry_type, feature_count, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING created_on`,
		l.ID, l.OwnerID, l.Name, l.Kind, nullIfEmpty(l.StorageKey), l.ConnectionID,
		l.PostGISQuery, l.Bounds, l.GeometryType, l.FeatureCount, l.Metadata).
		Scan(&l.CreatedOn)
	if err != nil {
		return fmt.Errorf("failed to insert layer: %w", err)
	}
	return nil
}

// GetLayer fetches one layer, enforcing ownership.
func (s *LayerService) GetLayer(ctx context.Context, layerID, ownerID string) (*models.Layer, error) {
	l := &models.Layer{}
	var path *string
	err := s.pool.QueryRow(ctx,
		`SELECT layer_id, owner_uuid, name, type, path, postgis_connection_id,
		        postgis_query, bounds, geometry_type, feature_count, metadata, created_on
		 FROM map_layers WHERE layer_id = $1`, layerID).
		Scan(&l.ID, &l.OwnerID, &l.Name, &l.Kind, &path, &l.ConnectionID,
			&l.PostGISQuery, &l.Bounds, &l.GeometryType, &l.FeatureCount,
			&l.Metadata, &l.CreatedOn)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch layer: %w", err)
	}
	if path != nil {
		l.StorageKey = *path
	}
	if l.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return l, nil
}

// UpdateMetadata merges keys into a layer's metadata document. Used for
// derived keys like the cloud-optimized variant's storage key.
func (s *LayerService) UpdateMetadata(ctx context.Context, layerID string, patch map[string]any) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE map_layers SET metadata = metadata || $1 WHERE layer_id = $2`,
		patch, layerID)
	if err != nil {
		return fmt.Errorf("failed to update layer metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
