package types

import (
	"encoding/json"
	"strings"
	"time"
)

// ToolCall represents one structured tool invocation emitted by the model.
// Name carries the qualified "<server>.<tool>" form.
type ToolCall struct {
	Name       string           `json:"name"`
	Parameters map[string]Value `json:"parameters,omitempty"`
}

// Server splits the qualified name and returns the owning tool server.
// A name without a separator belongs to the "unknown" server.
func (c ToolCall) Server() string {
	server, _ := SplitToolName(c.Name)
	return server
}

// Tool returns the bare tool name without the server prefix.
func (c ToolCall) Tool() string {
	_, tool := SplitToolName(c.Name)
	return tool
}

// SplitToolName splits "<server>.<tool>" on the first dot. Names without a
// dot map to the "unknown" server so a misaddressed call still produces a
// routable error instead of a parse failure.
func SplitToolName(name string) (server, tool string) {
	if i := strings.Index(name, "."); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "unknown", name
}

// ToolDescriptor describes one tool in a server's catalogue.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	Server      string          `json:"server,omitempty"`
}

// QualifiedName returns the "<server>.<tool>" form used in tool calls.
func (d ToolDescriptor) QualifiedName() string {
	if d.Server == "" {
		return d.Name
	}
	return d.Server + "." + d.Name
}

// ToolResult represents the outcome of one tool execution.
type ToolResult struct {
	Name       string           `json:"name"`
	Parameters map[string]Value `json:"parameters,omitempty"`
	Result     string           `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
	Duration   time.Duration    `json:"duration,omitempty"`
}

// IsError returns true if the tool execution failed.
func (r ToolResult) IsError() bool {
	return r.Error != ""
}

// Text returns the result for successful calls and the error otherwise,
// suitable for splicing back into model conversation.
func (r ToolResult) Text() string {
	if r.Error != "" {
		return r.Error
	}
	return r.Result
}
