// Package envelope defines the structured error payload returned by every
// tool when a call fails.
//
// The envelope is a stable external contract consumed by client tooling:
//
//	{
//	  "error": "...", "message": "...", "error_code": "INVALID_INPUT",
//	  "tool": "search_features", "details": {...},
//	  "retry_guidance": {"tool": "search_features", "hint": "..."}
//	}
//
// Handlers return [*Error] values; the envelope interceptor converts any error
// into an [Envelope] via [FromError].
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Code is a user-visible error classification.
type Code string

const (
	CodeGeneral         Code = "GENERAL_ERROR"
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeAuthRequired    Code = "AUTH_REQUIRED"
	CodeRateLimit       Code = "RATE_LIMIT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeWorkflowContext Code = "WORKFLOW_CONTEXT_REQUIRED"
	CodeInvalidColl     Code = "INVALID_COLLECTION"
	CodeUpstream        Code = "UPSTREAM_ERROR"
)

var defaultHints = map[Code]string{
	CodeInvalidInput:    "Validate and correct your parameters (check enum values & syntax) then retry",
	CodeAuthRequired:    "Acquire/refresh credentials then retry",
	CodeRateLimit:       "Wait for the rate limit window to reset then retry",
	CodeWorkflowContext: "Call get_workflow_context() then follow planning steps",
	CodeInvalidColl:     "Call get_workflow_context() to inspect valid collections and retry",
	CodeUpstream:        "Temporary upstream failure – retry with backoff if idempotent",
	CodeGeneral:         "Review error, adjust inputs (ensure workflow context if required), then retry",
	CodeNotFound:        "Verify identifier / collection and retry if a typo was present",
}

// Hint returns the default retry hint for c. Unknown codes get the
// [CodeGeneral] hint.
func Hint(c Code) string {
	if h, ok := defaultHints[c]; ok {
		return h
	}
	return defaultHints[CodeGeneral]
}

// Codes returns every known code in a stable order.
func Codes() []Code {
	return []Code{
		CodeGeneral, CodeInvalidInput, CodeAuthRequired, CodeRateLimit,
		CodeNotFound, CodeWorkflowContext, CodeInvalidColl, CodeUpstream,
	}
}

// RetryGuidance tells the caller which tool to call next and how.
type RetryGuidance struct {
	Tool string `json:"tool"`
	Hint string `json:"hint"`
}

// Envelope is the JSON error payload. Error and Message always carry the same
// text; Error is kept for clients that only read that field.
type Envelope struct {
	Error         string         `json:"error"`
	Message       string         `json:"message"`
	ErrorCode     Code           `json:"error_code"`
	Tool          string         `json:"tool"`
	BlockedTool   string         `json:"blocked_tool,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	RetryGuidance RetryGuidance  `json:"retry_guidance"`
}

// JSON encodes e. Encoding an Envelope cannot fail unless Details holds an
// unencodable value, in which case the details are dropped.
func (e Envelope) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		e.Details = nil
		data, _ = json.Marshal(e)
	}
	return string(data)
}

// Error is a Go error carrying everything needed to build an [Envelope].
// Tool is usually filled in by the interceptor chain rather than the handler.
type Error struct {
	Code        Code
	Message     string
	Details     map[string]any
	Hint        string
	RetryTool   string
	BlockedTool string
	Err         error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// Option customises an [*Error] built by [New].
type Option func(*Error)

// WithDetails attaches structured details.
func WithDetails(d map[string]any) Option {
	return func(e *Error) { e.Details = d }
}

// WithHint overrides the default retry hint.
func WithHint(h string) Option {
	return func(e *Error) { e.Hint = h }
}

// WithRetryTool names a different tool in the retry guidance.
func WithRetryTool(name string) Option {
	return func(e *Error) { e.RetryTool = name }
}

// WithCause records the wrapped error.
func WithCause(err error) Option {
	return func(e *Error) { e.Err = err }
}

// New builds an [*Error].
func New(code Code, msg string, opts ...Option) *Error {
	e := &Error{Code: code, Message: msg}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Errorf builds an [*Error] with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// InvalidInput is shorthand for a [CodeInvalidInput] error whose message is
// prefixed with "Invalid input: ".
func InvalidInput(format string, args ...any) *Error {
	return New(CodeInvalidInput, "Invalid input: "+fmt.Sprintf(format, args...))
}

// WorkflowRequired builds the error returned when a gated tool runs before the
// workflow context has been loaded.
func WorkflowRequired(tool string) *Error {
	return &Error{
		Code:        CodeWorkflowContext,
		Message:     "WORKFLOW CONTEXT REQUIRED",
		BlockedTool: tool,
		RetryTool:   "get_workflow_context",
		Details: map[string]any{
			"required_step": "get_workflow_context",
			"explanation":   fmt.Sprintf("%s needs the collection catalogue. Call get_workflow_context() first, plan the query, then retry.", tool),
		},
	}
}

// Build renders e as an [Envelope] for the named tool.
func Build(tool string, e *Error) Envelope {
	hint := e.Hint
	if hint == "" {
		hint = Hint(e.Code)
	}
	retry := e.RetryTool
	if retry == "" {
		retry = tool
	}
	code := e.Code
	if code == "" {
		code = CodeGeneral
	}
	msg := e.Error()
	return Envelope{
		Error:         msg,
		Message:       msg,
		ErrorCode:     code,
		Tool:          tool,
		BlockedTool:   e.BlockedTool,
		Details:       e.Details,
		RetryGuidance: RetryGuidance{Tool: retry, Hint: hint},
	}
}

// Classifier maps an arbitrary error to an [*Error]. It reports false when it
// does not recognise err.
type Classifier func(err error) (*Error, bool)

// FromError converts err into an [Envelope] for tool. An [*Error] anywhere in
// the chain is used as-is; otherwise the classifiers are tried in order, and
// the fallback is [CodeGeneral].
func FromError(tool string, err error, classifiers ...Classifier) Envelope {
	var ee *Error
	if errors.As(err, &ee) {
		return Build(tool, ee)
	}
	for _, c := range classifiers {
		if ce, ok := c(err); ok {
			return Build(tool, ce)
		}
	}
	return Build(tool, New(CodeGeneral, err.Error(), WithCause(err)))
}
