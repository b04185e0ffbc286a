// Package audio defines the microphone boundary used by the recorder.
//
// The two abstractions are:
//
//   - [Microphone] opens the platform's default input device and returns a
//     [Stream].
//   - [Stream] owns that device until [Stream.Close] is called, delivering
//     encoded audio as opaque [Chunk] values. Concatenating every chunk in
//     delivery order yields one playable file of type [Stream.MimeType].
//
// Backends live in sub-packages (audio/portaudio, audio/ffmpeg). This
// package lives under pkg/ because third-party capture backends are expected
// to implement [Microphone] and [Stream].
package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied is returned by [Microphone.Open] when the user or
	// the operating system refused access to the input device.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrUnsupported is returned by [Microphone.Open] when the environment
	// has no usable capture facility (no device, missing library or binary).
	ErrUnsupported = errors.New("audio: audio capture unsupported")
)

// Chunk is one piece of encoded audio delivered by a [Stream].
type Chunk struct {
	// Data is the encoded payload. Receivers own the slice.
	Data []byte

	// Offset is the capture time of the chunk relative to stream start.
	Offset time.Duration
}

// Stream is an open capture session on an input device.
//
// Implementations must be safe for concurrent use.
type Stream interface {
	// Chunks returns the channel on which encoded audio is delivered. The
	// channel is closed after the final chunk, either because Close was
	// called or because capture ended on its own. Every chunk produced
	// before Close returns is delivered before the channel closes.
	Chunks() <-chan Chunk

	// MimeType reports the container type of the concatenated chunks, e.g.
	// "audio/wav" or "audio/ogg".
	MimeType() string

	// Err returns the error that ended capture, or nil if capture ended
	// because Close was called. Only meaningful after Chunks is closed.
	Err() error

	// Close stops capture and releases the device. It is safe to call Close
	// more than once; subsequent calls are no-ops and return nil.
	Close() error
}

// Microphone opens capture streams on an input device.
//
// Implementations must be safe for concurrent use.
type Microphone interface {
	// Open acquires the device and starts capture. ctx governs the open
	// attempt only; the returned stream lives until [Stream.Close].
	//
	// Errors matching [ErrPermissionDenied] or [ErrUnsupported] leave no
	// resource held.
	Open(ctx context.Context) (Stream, error)
}

// Drain reads from ch until the channel is closed, discarding all values.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
