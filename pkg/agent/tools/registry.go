// Package tools defines the tool registry the agent loop exposes to the LLM
// and the handlers behind each tool.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// RecoverableError is a tool failure the LLM should see and may retry. It is
// serialized into the tool result instead of aborting the loop.
type RecoverableError struct {
	msg string
}

func (e *RecoverableError) Error() string {
	return e.msg
}

// Recoverablef builds a RecoverableError.
func Recoverablef(format string, args ...any) *RecoverableError {
	return &RecoverableError{msg: fmt.Sprintf(format, args...)}
}

// Call carries the request-scoped identity a handler runs under.
type Call struct {
	UserID         string
	ProjectID      string
	MapID          string
	ConversationID int64
	Args           map[string]any
}

// Handler executes one tool call. A returned RecoverableError (or any
// wrapped error) becomes a status=error tool result; a nil error returns the
// value as the tool result.
type Handler func(ctx context.Context, call *Call) (map[string]any, error)

// Tool is a named, schema-validated operation the LLM may invoke.
type Tool struct {
	Name        string
	Description string
	// EphemeralLabel is the human-readable progress text shown while the
	// tool runs, e.g. "Querying PostgreSQL database...".
	EphemeralLabel string
	// StyleUpdate marks tools whose success means the map style changed.
	StyleUpdate bool
	Schema      map[string]any
	Handler     Handler

	compiled *jsonschema.Schema
}

// Registry is the per-request tool set. It is rebuilt each loop iteration
// because some schemas embed dynamic enums (unattached layer ids).
type Registry struct {
	order []string
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool, compiling its parameter schema.
func (r *Registry) Register(t *Tool) error {
	compiler := jsonschema.NewCompiler()
	resource := t.Name + ".json"
	if err := compiler.AddResource(resource, t.Schema); err != nil {
		return fmt.Errorf("failed to add schema for tool %s: %w", t.Name, err)
	}
	compiled, err := compiler.Compile(resource)
	if err != nil {
		return fmt.Errorf("failed to compile schema for tool %s: %w", t.Name, err)
	}
	t.compiled = compiled

	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// Tools returns the registered tools in registration order.
func (r *Registry) Tools() []*Tool {
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Lookup returns the named tool.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Dispatch parses and validates the raw JSON arguments and invokes the named
// tool's handler. All failures short of a dead context come back as a
// status=error result string so the LLM can react; successes come back as
// the handler's result with status=success.
func (r *Registry) Dispatch(ctx context.Context, name, rawArgs string, call *Call) string {
	tool, ok := r.tools[name]
	if !ok {
		return errorResult(fmt.Sprintf("unknown tool %q", name))
	}

	var args map[string]any
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return errorResult(fmt.Sprintf("invalid tool arguments: %v", err))
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	if err := tool.compiled.Validate(toAny(args)); err != nil {
		return errorResult(fmt.Sprintf("arguments do not match the tool schema: %v", err))
	}

	call.Args = args
	result, err := tool.Handler(ctx, call)
	if err != nil {
		if ctx.Err() != nil {
			return errorResult("tool execution was cancelled")
		}
		return errorResult(err.Error())
	}

	if result == nil {
		result = map[string]any{}
	}
	if _, ok := result["status"]; !ok {
		result["status"] = "success"
	}
	return marshalResult(result)
}

func errorResult(msg string) string {
	return marshalResult(map[string]any{"status": "error", "error": msg})
}

func marshalResult(result map[string]any) string {
	out, err := json.Marshal(result)
	if err != nil {
		return `{"status":"error","error":"failed to serialize tool result"}`
	}
	return string(out)
}

// toAny round-trips the argument map through JSON so the validator sees the
// exact value shapes encoding/json produces.
func toAny(args map[string]any) any {
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return args
	}
	return v
}
