// Package tools defines the shared [Tool] type used by all MCP tool packages
// in osngd. Each sub-package exports a constructor function that returns a
// slice of [Tool] values ready for registration with the MCP server.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/MrWong99/osngd/internal/envelope"
)

// Definition is the client-facing schema of a tool.
type Definition struct {
	// Name is the unique tool name.
	Name string

	// Description is shown to the model choosing tools.
	Description string

	// Parameters is the JSON Schema of the argument object.
	Parameters map[string]any

	// Gated tools refuse to run until the workflow context has been loaded.
	Gated bool

	// Idempotent tools can be retried safely by the caller.
	Idempotent bool
}

// Tool represents a tool ready for registration with the MCP server.
//
// Each Tool carries its schema ([Definition]) together with the handler
// function that is invoked when a client calls the tool. DeclaredP50 and
// DeclaredMax are latency estimates reported on /mcp/tools; DeclaredMax is
// also the hard timeout of a single call.
type Tool struct {
	Definition Definition

	// Handler executes the tool with JSON-encoded args and returns a
	// JSON-encoded result string on success, or an error. Errors are turned
	// into envelopes by the interceptor chain. Implementations must be safe
	// for concurrent use and must respect context cancellation.
	Handler func(ctx context.Context, args string) (string, error)

	// DeclaredP50 is the declared median latency in milliseconds.
	DeclaredP50 int64

	// DeclaredMax is the declared upper-bound latency in milliseconds.
	DeclaredMax int64
}

// Decode unmarshals args into v. Empty args decode as an empty object.
func Decode(args string, v any) error {
	if strings.TrimSpace(args) == "" || args == "null" {
		args = "{}"
	}
	if err := json.Unmarshal([]byte(args), v); err != nil {
		return envelope.InvalidInput("malformed arguments: %v", err)
	}
	return nil
}

// Encode marshals v as the tool result.
func Encode(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// Object builds a JSON Schema object with the given properties.
func Object(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// String is a string property schema.
func String(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

// Enum is a string property restricted to values.
func Enum(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": desc, "enum": values}
}

// Integer is an integer property with bounds and a default.
func Integer(desc string, minimum, maximum, def int) map[string]any {
	return map[string]any{
		"type":        "integer",
		"description": desc,
		"minimum":     minimum,
		"maximum":     maximum,
		"default":     def,
	}
}

// Number is a float property.
func Number(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}

// Bool is a boolean property with a default.
func Bool(desc string, def bool) map[string]any {
	return map[string]any{"type": "boolean", "description": desc, "default": def}
}

// StringList is an array-of-strings property.
func StringList(desc string, maxItems int) map[string]any {
	s := map[string]any{
		"type":        "array",
		"description": desc,
		"items":       map[string]any{"type": "string"},
	}
	if maxItems > 0 {
		s["maxItems"] = maxItems
	}
	return s
}
