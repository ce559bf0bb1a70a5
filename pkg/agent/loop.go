// Package agent runs the agentic chat loop: the LLM proposes tool calls,
// the system executes them, and results are appended to the transcript until
// the LLM answers in plain text or the iteration budget runs out.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/buntinglabs/mundi/pkg/agent/tools"
	"github.com/buntinglabs/mundi/pkg/events"
	"github.com/buntinglabs/mundi/pkg/llm"
	"github.com/buntinglabs/mundi/pkg/lock"
	"github.com/buntinglabs/mundi/pkg/metrics"
	"github.com/buntinglabs/mundi/pkg/models"
	"github.com/buntinglabs/mundi/pkg/services"
)

// maxIterations bounds one turn of the loop.
const maxIterations = 25

const systemPrompt = `You are Kue, a GIS assistant embedded in the Mundi web map editor.
You help users explore, query, and restyle geospatial data using the tools
available to you. Layer ids look like L followed by 11 characters; always use
them verbatim. Answer concisely. When a tool fails, explain the problem and
either retry with corrected arguments or tell the user what went wrong.`

const thinkingLabel = "Kue is thinking..."

// User-visible error messages for known LLM failure modes.
const (
	msgContextExceeded = "Maximum context length exceeded. Please create a new chat to continue."
	msgLLMUnavailable  = "Error connecting to LLM. Please try again in a moment."
)

// Completer is the LLM surface the loop needs. Satisfied by llm.Client;
// tests substitute a script.
type Completer interface {
	ChatCompletion(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool) (openai.ChatCompletionMessage, error)
	Complete(ctx context.Context, system, user string) (string, error)
}

// Loop wires the agent turn's collaborators.
type Loop struct {
	Messages      *services.MessageService
	Conversations *services.ConversationService
	Maps          *services.MapService
	Connections   *services.ConnectionService
	LLM           Completer
	Coord         *lock.Coordinator
	Publisher     *events.Publisher
	Tools         *tools.Deps
}

// Run executes one turn for a conversation whose lock the caller already
// holds; the lock is released on all exit paths. The user and system
// messages for the turn are already persisted.
func (l *Loop) Run(ctx context.Context, conv *models.Conversation, m *models.Map, userID string) {
	defer func() {
		if err := l.Coord.ReleaseConversation(ctx, conv.ID); err != nil {
			slog.Warn("Failed to release conversation lock", "conversation_id", conv.ID, "error", err)
		}
	}()

	iterations := 0
	defer func() { metrics.LoopIterations.Observe(float64(iterations)) }()

	for iterations = 1; iterations <= maxIterations; iterations++ {
		cancelled, err := l.Coord.ConsumeCancel(ctx, m.ID)
		if err != nil {
			slog.Warn("Failed to check cancellation flag", "map_id", m.ID, "error", err)
		}
		if cancelled {
			slog.Info("Agent turn cancelled", "conversation_id", conv.ID, "map_id", m.ID)
			return
		}

		history, err := l.Messages.History(ctx, conv.ID)
		if err != nil {
			slog.Error("Failed to read conversation history", "conversation_id", conv.ID, "error", err)
			l.Publisher.PublishError(ctx, conv.ID, thinkingLabel, msgLLMUnavailable)
			return
		}

		unattached, err := l.Maps.UnattachedLayers(ctx, userID, m.ID, 10)
		if err != nil {
			slog.Warn("Failed to list unattached layers", "map_id", m.ID, "error", err)
		}
		connections, err := l.Connections.ListByProject(ctx, m.ProjectID, userID)
		if err != nil {
			slog.Warn("Failed to list connections", "project_id", m.ProjectID, "error", err)
		}

		registry, err := l.Tools.BuildRegistry(ctx, unattached, connections)
		if err != nil {
			slog.Error("Failed to build tool registry", "error", err)
			l.Publisher.PublishError(ctx, conv.ID, thinkingLabel, msgLLMUnavailable)
			return
		}

		thinking := l.Publisher.BeginAction(ctx, conv.ID, thinkingLabel)
		reply, err := l.LLM.ChatCompletion(ctx, transcript(history), openAITools(registry))
		thinking.Complete(ctx)
		if err != nil {
			if errors.Is(err, llm.ErrContextLengthExceeded) {
				l.Publisher.PublishError(ctx, conv.ID, thinkingLabel, msgContextExceeded)
			} else {
				slog.Error("LLM call failed", "conversation_id", conv.ID, "error", err)
				l.Publisher.PublishError(ctx, conv.ID, thinkingLabel, msgLLMUnavailable)
			}
			return
		}

		assistantBody := models.MessageBody{
			Role:      models.RoleAssistant,
			Content:   reply.Content,
			ToolCalls: fromOpenAIToolCalls(reply.ToolCalls),
		}
		if _, err := l.Messages.Insert(ctx, conv.ID, m.ID, userID, assistantBody); err != nil {
			slog.Error("Failed to persist assistant message", "conversation_id", conv.ID, "error", err)
			return
		}

		if err := l.Coord.RefreshConversation(ctx, conv.ID); err != nil {
			slog.Warn("Conversation lock refresh failed", "conversation_id", conv.ID, "error", err)
		}

		if len(reply.ToolCalls) == 0 {
			break
		}

		for _, tc := range reply.ToolCalls {
			result := l.runToolCall(ctx, registry, conv, m, userID, tc)
			toolBody := models.MessageBody{
				Role:       models.RoleTool,
				Content:    result,
				ToolCallID: tc.ID,
			}
			if _, err := l.Messages.Insert(ctx, conv.ID, m.ID, userID, toolBody); err != nil {
				slog.Error("Failed to persist tool message", "conversation_id", conv.ID, "error", err)
				return
			}
		}
	}

	l.maybeGenerateTitle(ctx, conv)
}

// runToolCall dispatches one tool call inside its ephemeral scope.
func (l *Loop) runToolCall(ctx context.Context, registry *tools.Registry, conv *models.Conversation, m *models.Map, userID string, tc openai.ToolCall) string {
	name := tc.Function.Name
	label := "Running " + name + "..."
	var opts []events.ActionOption
	if tool, ok := registry.Lookup(name); ok {
		if tool.EphemeralLabel != "" {
			label = tool.EphemeralLabel
		}
		if tool.StyleUpdate {
			opts = append(opts, events.WithStyleUpdate())
		}
	}

	scope := l.Publisher.BeginAction(ctx, conv.ID, label, opts...)
	defer scope.Complete(ctx)

	result := registry.Dispatch(ctx, name, tc.Function.Arguments, &tools.Call{
		UserID:         userID,
		ProjectID:      m.ProjectID,
		MapID:          m.ID,
		ConversationID: conv.ID,
	})

	status := "success"
	if strings.Contains(result, `"status":"error"`) {
		status = "error"
	}
	metrics.ToolInvocations.WithLabelValues(name, status).Inc()
	return result
}

// maybeGenerateTitle replaces the placeholder title after the first turn.
func (l *Loop) maybeGenerateTitle(ctx context.Context, conv *models.Conversation) {
	if conv.Title != "pending" {
		return
	}
	history, err := l.Messages.History(ctx, conv.ID)
	if err != nil {
		return
	}
	var firstUser string
	for _, msg := range history {
		if msg.Body.Role == models.RoleUser {
			firstUser = msg.Body.Content
			break
		}
	}
	if firstUser == "" {
		return
	}

	title, err := l.LLM.Complete(ctx,
		"Generate a title of at most six words for a map chat that starts with the following message. Reply with the title only.",
		firstUser)
	if err != nil {
		slog.Warn("Failed to generate conversation title", "conversation_id", conv.ID, "error", err)
		return
	}
	title = strings.Trim(strings.TrimSpace(title), `"`)
	if title == "" {
		return
	}
	if err := l.Conversations.UpdateTitle(ctx, conv.ID, title); err != nil {
		slog.Warn("Failed to store conversation title", "conversation_id", conv.ID, "error", err)
	}
}

// transcript converts stored history to the LLM wire format, prepending the
// system prompt.
func transcript(history []*models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	out = append(out, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, msg := range history {
		out = append(out, openai.ChatCompletionMessage{
			Role:       msg.Body.Role,
			Content:    msg.Body.Content,
			ToolCalls:  toOpenAIToolCalls(msg.Body.ToolCalls),
			ToolCallID: msg.Body.ToolCallID,
		})
	}
	return out
}

func openAITools(registry *tools.Registry) []openai.Tool {
	defs := registry.Tools()
	out := make([]openai.Tool, 0, len(defs))
	for _, t := range defs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Schema,
			},
		})
	}
	return out
}

func toOpenAIToolCalls(calls []models.ToolCall) []openai.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]openai.ToolCall, 0, len(calls))
	for _, tc := range calls {
		out = append(out, openai.ToolCall{
			ID:   tc.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out
}

func fromOpenAIToolCalls(calls []openai.ToolCall) []models.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]models.ToolCall, 0, len(calls))
	for _, tc := range calls {
		out = append(out, models.ToolCall{
			ID:   tc.ID,
			Type: string(tc.Type),
			Function: models.ToolFunction{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out
}
