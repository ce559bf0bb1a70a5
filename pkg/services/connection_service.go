package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/buntinglabs/mundi/pkg/models"
)

// ConnectionService persists user-supplied PostGIS connections and their
// AI-generated summaries.
type ConnectionService struct {
	pool *pgxpool.Pool
}

// NewConnectionService creates a new ConnectionService.
func NewConnectionService(pool *pgxpool.Pool) *ConnectionService {
	return &ConnectionService{pool: pool}
}

// Add stores a connection. The URI is expected to be post-policy (already
// rewritten if the loopback policy demanded it).
func (s *ConnectionService) Add(ctx context.Context, projectID, userID, uri, friendlyName string) (*models.PGConnection, error) {
	c := &models.PGConnection{
		ID:           models.GenerateID('C'),
		ProjectID:    projectID,
		UserID:       userID,
		URI:          uri,
		FriendlyName: friendlyName,
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO project_postgres_connections (id, project_id, user_id, connection_uri, friendly_name)
		 VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.ProjectID, c.UserID, c.URI, c.FriendlyName)
	if err != nil {
		return nil, fmt.Errorf("failed to insert connection: %w", err)
	}
	return c, nil
}

// Get fetches one connection by id, enforcing ownership.
func (s *ConnectionService) Get(ctx context.Context, id, userID string) (*models.PGConnection, error) {
	c := &models.PGConnection{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, user_id, connection_uri, friendly_name,
		        last_error_text, last_error_timestamp
		 FROM project_postgres_connections
		 WHERE id = $1 AND soft_deleted_at IS NULL`, id).
		Scan(&c.ID, &c.ProjectID, &c.UserID, &c.URI, &c.FriendlyName,
			&c.LastErrorText, &c.LastErrorAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch connection: %w", err)
	}
	if c.UserID != userID {
		return nil, ErrForbidden
	}
	return c, nil
}

// ListByProject returns a project's live connections.
func (s *ConnectionService) ListByProject(ctx context.Context, projectID, userID string) ([]*models.PGConnection, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, user_id, connection_uri, friendly_name,
		        last_error_text, last_error_timestamp
		 FROM project_postgres_connections
		 WHERE project_id = $1 AND user_id = $2 AND soft_deleted_at IS NULL`,
		projectID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var out []*models.PGConnection
	for rows.Next() {
		c := &models.PGConnection{}
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.UserID, &c.URI, &c.FriendlyName,
			&c.LastErrorText, &c.LastErrorAt); err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecordError sets last_error_text and last_error_timestamp on a connection.
func (s *ConnectionService) RecordError(ctx context.Context, id, message string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE project_postgres_connections
		 SET last_error_text = $1, last_error_timestamp = now() WHERE id = $2`,
		message, id)
	if err != nil {
		return fmt.Errorf("failed to record connection error: %w", err)
	}
	return nil
}

// ClearError clears the error bookkeeping after a successful attempt.
func (s *ConnectionService) ClearError(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE project_postgres_connections
		 SET last_error_text = NULL, last_error_timestamp = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to clear connection error: %w", err)
	}
	return nil
}

// SaveSummary upserts the AI-generated database summary for a connection.
func (s *ConnectionService) SaveSummary(ctx context.Context, sum *models.PGSummary) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO project_postgres_summary (connection_id, friendly_name, summary_md, table_count)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (connection_id) DO UPDATE
		 SET friendly_name = EXCLUDED.friendly_name,
		     summary_md = EXCLUDED.summary_md,
		     table_count = EXCLUDED.table_count,
		     generated_at = now()`,
		sum.ConnectionID, sum.FriendlyName, sum.SummaryMD, sum.TableCount)
	if err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return nil
}

// GetSummary fetches the AI-generated summary for a connection.
func (s *ConnectionService) GetSummary(ctx context.Context, connectionID string) (*models.PGSummary, error) {
	sum := &models.PGSummary{}
	err := s.pool.QueryRow(ctx,
		`SELECT connection_id, friendly_name, summary_md, table_count, generated_at
		 FROM project_postgres_summary WHERE connection_id = $1`, connectionID).
		Scan(&sum.ConnectionID, &sum.FriendlyName, &sum.SummaryMD, &sum.TableCount, &sum.GeneratedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch summary: %w", err)
	}
	return sum, nil
}
