package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(t *testing.T) *Tool {
	t.Helper()
	return &Tool{
		Name:        "echo_value",
		Description: "Echoes a value back",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"value": map[string]any{"type": "string", "enum": []any{"a", "b"}},
			},
			"required":             []any{"value"},
			"additionalProperties": false,
		},
		Handler: func(ctx context.Context, call *Call) (map[string]any, error) {
			return map[string]any{"value": call.Args["value"]}, nil
		},
	}
}

func dispatchResult(t *testing.T, raw string) map[string]any {
	t.Helper()
	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &result))
	return result
}

func TestDispatch_Success(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool(t)))

	out := dispatchResult(t, r.Dispatch(context.Background(), "echo_value", `{"value":"a"}`, &Call{}))
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, "a", out["value"])
}

func TestDispatch_SchemaViolationIsRecoverable(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool(t)))

	cases := map[string]string{
		"missing required":  `{}`,
		"outside enum":      `{"value":"z"}`,
		"wrong type":        `{"value":7}`,
		"extra property":    `{"value":"a","other":1}`,
		"not even json":     `{"value"`,
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			out := dispatchResult(t, r.Dispatch(context.Background(), "echo_value", args, &Call{}))
			assert.Equal(t, "error", out["status"])
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestDispatch_UnknownTool(t *testing.T) {
	r := NewRegistry()
	out := dispatchResult(t, r.Dispatch(context.Background(), "nope", `{}`, &Call{}))
	assert.Equal(t, "error", out["status"])
}

func TestDispatch_HandlerErrorsBecomeResults(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Tool{
		Name:   "always_fails",
		Schema: map[string]any{"type": "object"},
		Handler: func(ctx context.Context, call *Call) (map[string]any, error) {
			return nil, Recoverablef("table %q does not exist", "cafes")
		},
	}))

	out := dispatchResult(t, r.Dispatch(context.Background(), "always_fails", `{}`, &Call{}))
	assert.Equal(t, "error", out["status"])
	assert.Contains(t, out["error"], "cafes")
}

func TestRegistry_Order(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Tool{Name: "b", Schema: map[string]any{"type": "object"}, Handler: nil}))
	require.NoError(t, r.Register(&Tool{Name: "a", Schema: map[string]any{"type": "object"}, Handler: nil}))

	tools := r.Tools()
	require.Len(t, tools, 2)
	assert.Equal(t, "b", tools[0].Name)
	assert.Equal(t, "a", tools[1].Name)
}
