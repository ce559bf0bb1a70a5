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

// MessageService persists chat messages. Every insert fires the
// chat_completion_messages_notify trigger, which drives the
// reference-notification path on the bus.
type MessageService struct {
	pool *pgxpool.Pool
}

// NewMessageService creates a new MessageService.
func NewMessageService(pool *pgxpool.Pool) *MessageService {
	return &MessageService{pool: pool}
}

// Insert stores one message and returns its id.
func (s *MessageService) Insert(ctx context.Context, conversationID int64, mapID, senderID string, body models.MessageBody) (int64, error) {
	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal message body: %w", err)
	}
	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO chat_completion_messages (conversation_id, map_id, sender_id, message_json)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		conversationID, mapID, senderID, bodyJSON).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}
	return id, nil
}

// Get fetches one message by id.
func (s *MessageService) Get(ctx context.Context, id int64) (*models.Message, error) {
	m := &models.Message{}
	var bodyJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, conversation_id, map_id, sender_id, message_json, created_at
		 FROM chat_completion_messages WHERE id = $1`, id).
		Scan(&m.ID, &m.ConversationID, &m.MapID, &m.SenderID, &bodyJSON, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}
	if err := json.Unmarshal(bodyJSON, &m.Body); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message body: %w", err)
	}
	return m, nil
}

// History returns the full transcript of a conversation in created-at order.
func (s *MessageService) History(ctx context.Context, conversationID int64) ([]*models.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, map_id, sender_id, message_json, created_at
		 FROM chat_completion_messages
		 WHERE conversation_id = $1
		 ORDER BY created_at, id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		m := &models.Message{}
		var bodyJSON []byte
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.MapID, &m.SenderID, &bodyJSON, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if err := json.Unmarshal(bodyJSON, &m.Body); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message body: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SanitizedHistory returns the client-facing view of a conversation:
// system messages filtered, tool calls summarized.
func (s *MessageService) SanitizedHistory(ctx context.Context, conversationID int64) ([]*models.SanitizedMessage, error) {
	history, err := s.History(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	out := make([]*models.SanitizedMessage, 0, len(history))
	for _, m := range history {
		if sm := m.Sanitize(); sm != nil {
			out = append(out, sm)
		}
	}
	return out, nil
}
