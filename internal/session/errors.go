package session

import (
	"errors"
	"strings"

	"github.com/christophersiem/little-moments/internal/capture"
	"github.com/christophersiem/little-moments/internal/memories"
)

var (
	// ErrBusy is returned by Start while a recording or upload is running.
	ErrBusy = errors.New("session: a recording or upload is already in progress")

	// ErrInvalidPhase is returned when a command does not apply to the
	// current phase.
	ErrInvalidPhase = errors.New("session: command not valid in current phase")

	// ErrNoArtifact is returned by Retry when no recording is retained.
	ErrNoArtifact = errors.New("session: no recording to retry")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: controller closed")
)

// defaultFailureMessage is shown when the service reports a failed
// transcription without saying why.
const defaultFailureMessage = "Transcription failed."

// ApplicationFailure is an upload that reached the service but whose
// transcription failed. The recording is retained for retry.
type ApplicationFailure struct {
	Result memories.CreateResult
}

// Error implements error.
func (e *ApplicationFailure) Error() string {
	return "session: transcription failed: " + e.Message()
}

// Message returns the text shown to the user.
func (e *ApplicationFailure) Message() string {
	if m := strings.TrimSpace(e.Result.ErrorMessage); m != "" {
		return m
	}
	return defaultFailureMessage
}

// StartFailure is a microphone open that failed for a reason other than
// the device refusing, such as a capture that is still held or an open that
// was canceled. Only starting over recovers.
type StartFailure struct {
	Err error
}

// Error implements error.
func (e *StartFailure) Error() string {
	return "session: start recording: " + e.Err.Error()
}

func (e *StartFailure) Unwrap() error { return e.Err }

// Message returns the text shown to the user.
func (e *StartFailure) Message() string {
	return "Could not start recording."
}

// ErrorKind classifies the error that moved a session into [Error].
type ErrorKind int

const (
	KindNone ErrorKind = iota

	// KindResource is a microphone failure. Only starting over recovers.
	KindResource

	// KindTransport is a failed or empty API call. Retry may recover.
	KindTransport

	// KindApplication is a FAILED transcription. Retry may recover.
	KindApplication
)

// String returns the lowercase name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindResource:
		return "resource"
	case KindTransport:
		return "transport"
	case KindApplication:
		return "application"
	default:
		return "unknown"
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// classify maps an error to its kind and user-facing message.
func classify(err error) (ErrorKind, string) {
	var (
		re *capture.ResourceError
		sf *StartFailure
		te *memories.TransportError
		af *ApplicationFailure
	)
	switch {
	case errors.As(err, &sf):
		return KindResource, sf.Message()
	case errors.As(err, &af):
		return KindApplication, af.Message()
	case errors.As(err, &te):
		return KindTransport, te.Message
	case errors.As(err, &re):
		return KindResource, re.Message()
	default:
		return KindTransport, err.Error()
	}
}
