package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/buntinglabs/mundi/pkg/models"
)

// ConversationService persists conversations.
type ConversationService struct {
	pool *pgxpool.Pool
}

// NewConversationService creates a new ConversationService.
func NewConversationService(pool *pgxpool.Pool) *ConversationService {
	return &ConversationService{pool: pool}
}

// Create inserts a conversation with the title "pending"; the agent loop
// replaces it after the first completed turn.
func (s *ConversationService) Create(ctx context.Context, ownerID, projectID string) (*models.Conversation, error) {
	c := &models.Conversation{OwnerID: ownerID, ProjectID: projectID, Title: "pending"}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO conversations (owner_uuid, project_id)
		 VALUES ($1, $2) RETURNING id, title, created_at, updated_at`,
		ownerID, projectID).Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert conversation: %w", err)
	}
	return c, nil
}

// Get fetches one conversation, enforcing ownership.
func (s *ConversationService) Get(ctx context.Context, id int64, ownerID string) (*models.Conversation, error) {
	c := &models.Conversation{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_uuid, project_id, title, created_at, updated_at
		 FROM conversations WHERE id = $1 AND soft_deleted_at IS NULL`, id).
		Scan(&c.ID, &c.OwnerID, &c.ProjectID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversation: %w", err)
	}
	if c.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return c, nil
}

// ListByProject returns a user's conversations in a project, newest first.
func (s *ConversationService) ListByProject(ctx context.Context, projectID, ownerID string) ([]*models.Conversation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_uuid, project_id, title, created_at, updated_at
		 FROM conversations
		 WHERE project_id = $1 AND owner_uuid = $2 AND soft_deleted_at IS NULL
		 ORDER BY created_at DESC`, projectID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []*models.Conversation
	for rows.Next() {
		c := &models.Conversation{}
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.ProjectID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateTitle replaces the conversation title.
func (s *ConversationService) UpdateTitle(ctx context.Context, id int64, title string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET title = $1, updated_at = now() WHERE id = $2`, title, id)
	if err != nil {
		return fmt.Errorf("failed to update conversation title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
