package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Publisher broadcasts in-process ephemeral notifications through pg_notify
// so every worker's listener fans them out, not just the local one.
// Reference notifications are never published here; they originate from the
// messages-table trigger.
type Publisher struct {
	pool *pgxpool.Pool
}

// NewPublisher creates a Publisher on the application database pool.
func NewPublisher(pool *pgxpool.Pool) *Publisher {
	return &Publisher{pool: pool}
}

// ActionOption customizes an ephemeral action payload.
type ActionOption func(*Ephemeral)

// WithLayerID attaches the affected layer to the action.
func WithLayerID(layerID string) ActionOption {
	return func(e *Ephemeral) { e.LayerID = &layerID }
}

// WithBounds attaches WGS84 bounds, e.g. for zoom intents.
func WithBounds(bounds []float64) ActionOption {
	return func(e *Ephemeral) { e.Bounds = bounds }
}

// WithStyleUpdate marks that the map style has likely changed and the
// frontend should refetch it.
func WithStyleUpdate() ActionOption {
	return func(e *Ephemeral) { e.Updates.StyleJSON = true }
}

// ActionScope guarantees a paired "completed" broadcast for every "active"
// broadcast. Callers defer Complete; it is idempotent.
type ActionScope struct {
	publisher *Publisher
	payload   Ephemeral
	completed bool
}

// BeginAction publishes status=active for a fresh action id and returns the
// scope. The short sleep after broadcasting yields so the producer cannot
// monopolize delivery ahead of the subscribers.
func (p *Publisher) BeginAction(ctx context.Context, conversationID int64, action string, opts ...ActionOption) *ActionScope {
	e := Ephemeral{
		EphemeralFlag:  true,
		ConversationID: conversationID,
		ActionID:       uuid.NewString(),
		Action:         action,
		Timestamp:      time.Now().UTC(),
		Status:         StatusActive,
	}
	for _, opt := range opts {
		opt(&e)
	}

	if err := p.notify(ctx, e); err != nil {
		slog.Warn("Failed to publish ephemeral active", "action", action, "error", err)
	}
	time.Sleep(10 * time.Millisecond)

	return &ActionScope{publisher: p, payload: e}
}

// Complete publishes the paired status=completed payload. Safe to call more
// than once; only the first call broadcasts.
func (s *ActionScope) Complete(ctx context.Context) {
	if s.completed {
		return
	}
	s.completed = true

	done := s.payload
	now := time.Now().UTC()
	done.Status = StatusCompleted
	done.CompletedAt = &now
	if err := s.publisher.notify(ctx, done); err != nil {
		slog.Warn("Failed to publish ephemeral completed",
			"action", done.Action, "action_id", done.ActionID, "error", err)
	}
}

// ActionID returns the scope's action id.
func (s *ActionScope) ActionID() string {
	return s.payload.ActionID
}

// PublishError broadcasts a fire-and-forget ephemeral error notification.
// Errors are not scopes: there is no completion to pair.
func (p *Publisher) PublishError(ctx context.Context, conversationID int64, action, errorMessage string) {
	e := Ephemeral{
		EphemeralFlag:  true,
		ConversationID: conversationID,
		ActionID:       uuid.NewString(),
		Action:         action,
		Timestamp:      time.Now().UTC(),
		Status:         StatusError,
		ErrorMessage:   errorMessage,
	}
	if err := p.notify(ctx, e); err != nil {
		slog.Warn("Failed to publish ephemeral error", "action", action, "error", err)
	}
}

func (p *Publisher) notify(ctx context.Context, e Ephemeral) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal ephemeral payload: %w", err)
	}
	if _, err := p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", Channel, string(payload)); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}
