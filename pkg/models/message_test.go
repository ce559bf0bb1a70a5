package models

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSystemMessageIsDropped(t *testing.T) {
	m := &Message{ID: 1, Body: MessageBody{Role: RoleSystem, Content: "map state"}}
	assert.Nil(t, m.Sanitize())
}

func TestSanitizeUserMessage(t *testing.T) {
	m := &Message{
		ID:             2,
		ConversationID: 9,
		MapID:          "M2kXa9BqWp3d",
		Body:           MessageBody{Role: RoleUser, Content: "show me the rivers"},
		CreatedAt:      time.Now(),
	}
	out := m.Sanitize()
	require.NotNil(t, out)
	assert.Equal(t, RoleUser, out.Role)
	assert.Equal(t, "show me the rivers", out.Content)
	assert.Nil(t, out.ToolResponse)
}

func TestSanitizeAssistantToolCallsBecomeTaglines(t *testing.T) {
	m := &Message{
		ID: 3,
		Body: MessageBody{
			Role:    RoleAssistant,
			Content: "",
			ToolCalls: []ToolCall{
				{ID: "call_1", Type: "function", Function: ToolFunction{
					Name:      "set_layer_style",
					Arguments: `{"layer_id": "L2kXa9BqWp3d"}`,
				}},
				{ID: "call_2", Type: "function", Function: ToolFunction{
					Name:      "qgis_native_buffer",
					Arguments: `{}`,
				}},
			},
		},
	}
	out := m.Sanitize()
	require.NotNil(t, out)
	require.Len(t, out.ToolCalls, 2)
	assert.Equal(t, "call_1", out.ToolCalls[0].ID)
	assert.Equal(t, "Styling layer", out.ToolCalls[0].Tagline)
	assert.Equal(t, "palette", out.ToolCalls[0].Icon)
	assert.Equal(t, "Running qgis_native_buffer", out.ToolCalls[1].Tagline)
	assert.Equal(t, "wrench", out.ToolCalls[1].Icon)
}

func TestSanitizeToolMessageHidesPayload(t *testing.T) {
	m := &Message{
		ID: 4,
		Body: MessageBody{
			Role:       RoleTool,
			Content:    `{"status":"error","error":"no such table"}`,
			ToolCallID: "call_1",
		},
	}
	out := m.Sanitize()
	require.NotNil(t, out)
	assert.Empty(t, out.Content)
	require.NotNil(t, out.ToolResponse)
	assert.Equal(t, "call_1", out.ToolResponse.ToolCallID)
	assert.Equal(t, "error", out.ToolResponse.Status)
}

func TestSanitizeToolMessageNonJSONDefaultsToSuccess(t *testing.T) {
	m := &Message{
		Body: MessageBody{Role: RoleTool, Content: "tool execution was cancelled", ToolCallID: "call_9"},
	}
	out := m.Sanitize()
	require.NotNil(t, out)
	assert.Equal(t, "success", out.ToolResponse.Status)
}

var idPattern = regexp.MustCompile(`^[2-9A-HJ-NP-Za-km-z]{11}$`)

func TestGenerateID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		id := GenerateID('L')
		require.Len(t, id, 12)
		assert.Equal(t, byte('L'), id[0])
		assert.Regexp(t, idPattern, id[1:])
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 200, "ids collide far too often")
}
