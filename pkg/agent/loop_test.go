package agent

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buntinglabs/mundi/pkg/models"
)

func TestTranscriptPrependsSystemPrompt(t *testing.T) {
	history := []*models.Message{
		{Body: models.MessageBody{Role: models.RoleUser, Content: "hi"}},
		{Body: models.MessageBody{Role: models.RoleAssistant, Content: "hello"}},
	}

	out := transcript(history)
	require.Len(t, out, 3)
	assert.Equal(t, openai.ChatMessageRoleSystem, out[0].Role)
	assert.Equal(t, systemPrompt, out[0].Content)
	assert.Equal(t, "hi", out[1].Content)
	assert.Equal(t, "hello", out[2].Content)
}

func TestTranscriptPreservesToolPlumbing(t *testing.T) {
	history := []*models.Message{
		{Body: models.MessageBody{
			Role: models.RoleAssistant,
			ToolCalls: []models.ToolCall{{
				ID:   "call_1",
				Type: "function",
				Function: models.ToolFunction{
					Name:      "zoom_to_bounds",
					Arguments: `{"bounds":[-122.5,37.7,-122.3,37.8]}`,
				},
			}},
		}},
		{Body: models.MessageBody{
			Role:       models.RoleTool,
			Content:    `{"status":"success"}`,
			ToolCallID: "call_1",
		}},
	}

	out := transcript(history)
	require.Len(t, out, 3)

	assistant := out[1]
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "call_1", assistant.ToolCalls[0].ID)
	assert.Equal(t, "zoom_to_bounds", assistant.ToolCalls[0].Function.Name)
	assert.Equal(t, `{"bounds":[-122.5,37.7,-122.3,37.8]}`, assistant.ToolCalls[0].Function.Arguments)

	tool := out[2]
	assert.Equal(t, "call_1", tool.ToolCallID)
	assert.Equal(t, `{"status":"success"}`, tool.Content)
}

func TestToolCallConversionRoundTrips(t *testing.T) {
	wire := []openai.ToolCall{{
		ID:   "call_7",
		Type: openai.ToolTypeFunction,
		Function: openai.FunctionCall{
			Name:      "query_duckdb_sql",
			Arguments: `{"layer_id":"L2kXa9BqWp3d","sql_query":"SELECT 1"}`,
		},
	}}

	stored := fromOpenAIToolCalls(wire)
	require.Len(t, stored, 1)
	assert.Equal(t, "function", stored[0].Type)

	back := toOpenAIToolCalls(stored)
	require.Len(t, back, 1)
	assert.Equal(t, wire[0].ID, back[0].ID)
	assert.Equal(t, wire[0].Function.Name, back[0].Function.Name)
	assert.Equal(t, wire[0].Function.Arguments, back[0].Function.Arguments,
		"arguments must round-trip byte-identical")
}

func TestToolCallConversionEmpty(t *testing.T) {
	assert.Nil(t, fromOpenAIToolCalls(nil))
	assert.Nil(t, toOpenAIToolCalls(nil))
}
