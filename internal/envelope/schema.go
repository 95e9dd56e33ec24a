package envelope

import "net/http"

// SchemaPath is where the HTTP transport serves [Schema].
const SchemaPath = "/schemas/error-envelope.json"

// Schema returns the JSON Schema of [Envelope].
func Schema() map[string]any {
	codes := make([]string, 0, len(Codes()))
	for _, c := range Codes() {
		codes = append(codes, string(c))
	}
	str := map[string]any{"type": "string"}
	return map[string]any{
		"$schema":     "https://json-schema.org/draft/2020-12/schema",
		"$id":         SchemaPath,
		"title":       "ErrorEnvelope",
		"description": "Structured error returned by every failed tool call.",
		"type":        "object",
		"required":    []string{"error", "message", "error_code", "tool", "retry_guidance"},
		"properties": map[string]any{
			"error":        str,
			"message":      str,
			"error_code":   map[string]any{"type": "string", "enum": codes},
			"tool":         str,
			"blocked_tool": str,
			"details":      map[string]any{"type": "object"},
			"retry_guidance": map[string]any{
				"type":     "object",
				"required": []string{"tool", "hint"},
				"properties": map[string]any{
					"tool": str,
					"hint": str,
				},
			},
		},
	}
}

// HTTPStatus maps c to the status code a REST surface should answer with.
func HTTPStatus(c Code) int {
	switch c {
	case CodeInvalidInput, CodeInvalidColl:
		return http.StatusBadRequest
	case CodeAuthRequired:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimit:
		return http.StatusTooManyRequests
	case CodeWorkflowContext:
		return http.StatusPreconditionRequired
	case CodeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
