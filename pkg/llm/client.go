// Package llm wraps the OpenAI-compatible chat completion API used by the
// agent loop.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// requestTimeout bounds a single completion request so a stalled provider
// cannot hold the conversation lock indefinitely.
const requestTimeout = 120 * time.Second

// ErrContextLengthExceeded indicates the conversation no longer fits in the
// model's context window. The agent loop surfaces this as a user-visible
// error instead of retrying.
var ErrContextLengthExceeded = errors.New("conversation exceeds the model context window")

// Client issues chat completions against an OpenAI-compatible endpoint.
type Client struct {
	api   *openai.Client
	model string
}

// NewClient builds a Client. baseURL may be empty to use the provider
// default; model names the chat model for all completions.
func NewClient(baseURL, apiKey, model string) *Client {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(clientConfig),
		model: model,
	}
}

// Model returns the configured chat model name.
func (c *Client) Model() string {
	return c.model
}

// ChatCompletion runs one completion over the full message history with the
// given tool definitions and returns the assistant's message. The assistant
// may answer with text, tool calls, or both.
func (c *Client) ChatCompletion(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool) (openai.ChatCompletionMessage, error) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(reqCtx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
		Tools:    tools,
	})
	if err != nil {
		return openai.ChatCompletionMessage{}, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return openai.ChatCompletionMessage{}, fmt.Errorf("completion returned no choices")
	}
	return resp.Choices[0].Message, nil
}

// Complete runs a single system+user exchange without tools and returns the
// text response. Used for short auxiliary generations such as conversation
// titles.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	msg, err := c.ChatCompletion(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
		{Role: openai.ChatMessageRoleUser, Content: user},
	}, nil)
	if err != nil {
		return "", err
	}
	return msg.Content, nil
}

// classifyError maps provider errors onto the package sentinels.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && code == "context_length_exceeded" {
			return ErrContextLengthExceeded
		}
	}
	return fmt.Errorf("chat completion failed: %w", err)
}
