// Package events provides real-time event delivery: a single PostgreSQL
// LISTEN subscriber fans database-originated and in-process ephemeral
// notifications out to per-conversation WebSocket subscribers, with
// per-(user, conversation) replay of recently missed events on reconnect.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Channel is the NOTIFY channel every chat event travels on. Message row
// inserts reach it through the chat_completion_messages trigger; in-process
// ephemeral events reach it through the Publisher.
const Channel = "chat_completion_messages_notify"

// Ephemeral statuses.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// MessageRef is a reference notification: "a new message row with this id
// exists". Subscribers re-read the row and emit a sanitized view.
type MessageRef struct {
	ID             int64  `json:"id"`
	ConversationID int64  `json:"conversation_id"`
	MapID          string `json:"map_id"`
}

// EphemeralUpdates flags client state that has likely changed.
type EphemeralUpdates struct {
	// StyleJSON tells the frontend the map style should be refetched.
	StyleJSON bool `json:"style_json"`
}

// Ephemeral is a lifecycle-scoped progress notification bracketing a tool
// invocation, or a fire-and-forget error notification.
type Ephemeral struct {
	EphemeralFlag  bool             `json:"ephemeral"` // always true
	ConversationID int64            `json:"conversation_id"`
	ActionID       string           `json:"action_id"`
	LayerID        *string          `json:"layer_id,omitempty"`
	Action         string           `json:"action"`
	Timestamp      time.Time        `json:"timestamp"`
	CompletedAt    *time.Time       `json:"completed_at"`
	Status         string           `json:"status"`
	Bounds         []float64        `json:"bounds,omitempty"`
	Updates        EphemeralUpdates `json:"updates"`
	ErrorMessage   string           `json:"error_message,omitempty"`
}

// Notification is the typed union delivered to subscriber queues: exactly
// one of Ref or Ephemeral is set.
type Notification struct {
	Ref       *MessageRef
	Ephemeral *Ephemeral
}

// ParseNotification decodes a NOTIFY payload into its typed form.
func ParseNotification(payload []byte) (*Notification, error) {
	var probe struct {
		Ephemeral bool `json:"ephemeral"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse notification payload: %w", err)
	}

	if probe.Ephemeral {
		var e Ephemeral
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("failed to parse ephemeral notification: %w", err)
		}
		return &Notification{Ephemeral: &e}, nil
	}

	var ref MessageRef
	if err := json.Unmarshal(payload, &ref); err != nil {
		return nil, fmt.Errorf("failed to parse reference notification: %w", err)
	}
	if ref.ID == 0 {
		return nil, fmt.Errorf("reference notification missing message id")
	}
	return &Notification{Ref: &ref}, nil
}

// conversationID returns the conversation the notification belongs to.
func (n *Notification) conversationID() int64 {
	if n.Ref != nil {
		return n.Ref.ConversationID
	}
	return n.Ephemeral.ConversationID
}
