package memories

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyResponse marks a 2xx response that carried no body where one was
// required. It is always wrapped in a *[TransportError].
var ErrEmptyResponse = errors.New("memories: empty response body")

// TransportError is a failed call: a network error, a non-2xx status, or a
// missing body. Retrying the same request may succeed.
type TransportError struct {
	// Op is the client operation, e.g. "create".
	Op string

	// Status is the HTTP status code, or 0 when no response arrived.
	Status int

	// Message is the user-facing description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements error.
func (e *TransportError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("memories: %s: %s (status %d)", e.Op, e.Message, e.Status)
	}
	return fmt.Sprintf("memories: %s: %s", e.Op, e.Message)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is worth counting against the
// service's health: no response at all, or a server-side status.
func (e *TransportError) Retryable() bool {
	return e.Status == 0 || e.Status >= 500
}

// errorPayload is the subset of the service's error body the client reads.
type errorPayload struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
	Title   string `json:"title"`
}

// messageFrom picks the first non-blank of detail, message and title from a
// JSON error body. ok is false when the body is not such a payload or all
// three are blank.
func messageFrom(body []byte) (msg string, ok bool) {
	var p errorPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return "", false
	}
	for _, s := range []string{p.Detail, p.Message, p.Title} {
		if s = strings.TrimSpace(s); s != "" {
			return s, true
		}
	}
	return "", false
}
