package tools

import (
	"context"
)

// Tool is a capability the agent can invoke on behalf of the model.
// Implementations must be safe for concurrent use.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) *ToolResult
}

// ToolResult separates what the model sees from what the user sees.
// ForLLM always carries the full outcome; ForUser is empty for results
// that should not be surfaced in chat.
type ToolResult struct {
	ForLLM  string
	ForUser string
	IsError bool
	Err     error
}

func NewToolResult(forLLM string) *ToolResult {
	return &ToolResult{ForLLM: forLLM, ForUser: forLLM}
}

// SilentResult reports to the model only, with nothing shown to the user.
func SilentResult(forLLM string) *ToolResult {
	return &ToolResult{ForLLM: forLLM}
}

func ErrorResult(message string) *ToolResult {
	return &ToolResult{ForLLM: message, ForUser: message, IsError: true}
}

func (r *ToolResult) WithError(err error) *ToolResult {
	r.Err = err
	return r
}

// ToolToSchema converts a tool into the JSON schema shape providers expect.
func ToolToSchema(t Tool) map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": t.Description(),
		"parameters":  t.Parameters(),
	}
}
