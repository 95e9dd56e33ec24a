package ngd

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MrWong99/osngd/internal/envelope"
	"github.com/MrWong99/osngd/internal/resilience"
)

// ErrMissingAPIKey is returned when no API key is configured.
var ErrMissingAPIKey = errors.New("OS_API_KEY environment variable is not set")

// StatusError is an upstream response with status >= 400. Body has already
// been sanitised and truncated.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP Error: %d - %s", e.Code, e.Body)
}

// TransportError wraps a network-level failure for one endpoint.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ngd: %s request failed: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Classify maps request-layer errors onto envelope codes. It is meant to be
// passed to [envelope.FromError].
func Classify(err error) (*envelope.Error, bool) {
	var se *StatusError
	switch {
	case errors.As(err, &se):
		msg := se.Error()
		switch {
		case se.Code == http.StatusNotFound:
			return envelope.New(envelope.CodeNotFound, msg, envelope.WithCause(err)), true
		case se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden:
			return envelope.New(envelope.CodeAuthRequired, msg, envelope.WithCause(err)), true
		case se.Code == http.StatusTooManyRequests:
			return envelope.New(envelope.CodeRateLimit, msg, envelope.WithCause(err)), true
		case se.Code == http.StatusBadRequest:
			return envelope.New(envelope.CodeInvalidInput, msg, envelope.WithCause(err),
				envelope.WithHint("The upstream API rejected the parameters; check the filter against get_collection_queryables and retry")), true
		default:
			return envelope.New(envelope.CodeUpstream, msg, envelope.WithCause(err)), true
		}
	case errors.Is(err, ErrMissingAPIKey):
		return envelope.New(envelope.CodeAuthRequired, err.Error(), envelope.WithCause(err)), true
	case errors.Is(err, resilience.ErrCircuitOpen):
		return envelope.New(envelope.CodeUpstream, "Upstream API unavailable: "+err.Error(), envelope.WithCause(err)), true
	case errors.Is(err, context.DeadlineExceeded):
		return envelope.New(envelope.CodeUpstream, "Upstream API timed out", envelope.WithCause(err)), true
	}
	var te *TransportError
	if errors.As(err, &te) {
		return envelope.New(envelope.CodeUpstream, SanitizeString(te.Error()), envelope.WithCause(err)), true
	}
	return nil, false
}
