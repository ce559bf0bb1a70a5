package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message roles. A conversation read in created-at order is a valid LLM
// transcript: every tool message answers a tool call declared by the
// preceding assistant message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is one structured request from the LLM. Arguments stay a raw JSON
// string end-to-end so the transcript round-trips byte-identical.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // always "function"
	Function ToolFunction `json:"function"`
}

// ToolFunction names the tool and carries its serialized arguments.
type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// MessageBody is the JSON document stored in chat_completion_messages.
// It mirrors the LLM wire format.
type MessageBody struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Message is one stored chat message: the JSON body plus indexed columns.
type Message struct {
	ID             int64
	ConversationID int64
	MapID          string
	SenderID       string
	Body           MessageBody
	CreatedAt      time.Time
}

// SanitizedMessage is the subset of a stored message sent to clients.
// System messages are filtered out before sanitizing; tool calls are
// summarized with a human-readable tagline instead of raw arguments.
type SanitizedMessage struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversation_id"`
	MapID          string     `json:"map_id"`
	Role           string     `json:"role"`
	Content        string     `json:"content,omitempty"`
	ToolCalls      []ToolTag  `json:"tool_calls,omitempty"`
	ToolResponse   *ToolState `json:"tool_response,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ToolTag is the client-facing summary of one tool call.
type ToolTag struct {
	ID      string `json:"id"`
	Tagline string `json:"tagline"`
	Icon    string `json:"icon"`
}

// ToolState is the client-facing summary of a tool result message.
type ToolState struct {
	ToolCallID string `json:"tool_call_id"`
	Status     string `json:"status"`
}

// toolTaglines maps tool names to the short labels shown in the chat UI.
var toolTaglines = map[string][2]string{
	"new_layer_from_postgis":      {"Creating layer from PostGIS", "database"},
	"add_layer_to_map":            {"Adding layer to map", "layers"},
	"set_layer_style":             {"Styling layer", "palette"},
	"query_duckdb_sql":            {"Querying layer data", "table"},
	"query_postgis_database":      {"Querying PostgreSQL database", "database"},
	"zoom_to_bounds":              {"Zooming map", "zoom"},
	"download_from_openstreetmap": {"Downloading from OpenStreetMap", "globe"},
}

// Sanitize converts a stored message into its client-facing form.
// Returns nil for system messages, which are never sent to clients.
func (m *Message) Sanitize() *SanitizedMessage {
	if m.Body.Role == RoleSystem {
		return nil
	}

	out := &SanitizedMessage{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		MapID:          m.MapID,
		Role:           m.Body.Role,
		CreatedAt:      m.CreatedAt,
	}

	switch m.Body.Role {
	case RoleTool:
		// Expose only the result status, never the raw payload.
		status := "success"
		var res struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal([]byte(m.Body.Content), &res); err == nil && res.Status != "" {
			status = res.Status
		}
		out.ToolResponse = &ToolState{ToolCallID: m.Body.ToolCallID, Status: status}
	default:
		out.Content = m.Body.Content
		for _, tc := range m.Body.ToolCalls {
			tagline, icon := ToolTagline(tc.Function.Name)
			out.ToolCalls = append(out.ToolCalls, ToolTag{ID: tc.ID, Tagline: tagline, Icon: icon})
		}
	}
	return out
}

// ToolTagline returns the UI tagline and icon for a tool name. QGIS
// algorithm tools fall through to a generated label.
func ToolTagline(name string) (string, string) {
	if t, ok := toolTaglines[name]; ok {
		return t[0], t[1]
	}
	return fmt.Sprintf("Running %s", name), "wrench"
}
