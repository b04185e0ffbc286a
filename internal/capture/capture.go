// Package capture owns the microphone for a single recording attempt.
//
// A [Controller] acquires one [audio.Stream], buffers its chunks as they
// arrive and, on [Controller.Stop], joins them into an [Artifact]. The stream
// acquired by a successful [Controller.Start] is released exactly once, by
// Stop or by [Controller.Close], even when capture ended on its own.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/christophersiem/little-moments/pkg/audio"
)

var (
	// ErrActive is returned by Start while a capture is open or opening.
	ErrActive = errors.New("capture: capture already active")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("capture: controller closed")
)

// ResourceError reports that the microphone could not be acquired. Kind is
// [audio.ErrPermissionDenied] or [audio.ErrUnsupported].
type ResourceError struct {
	Kind error
	Err  error
}

// Error implements error.
func (e *ResourceError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	if errors.Is(e.Err, e.Kind) {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *ResourceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Message returns the text shown to the user for e.
func (e *ResourceError) Message() string {
	if errors.Is(e.Kind, audio.ErrPermissionDenied) {
		return "Microphone access was denied."
	}
	return "Audio recording is not supported in this environment."
}

// Artifact is one finished recording.
type Artifact struct {
	AudioData  []byte
	MimeType   string
	RecordedAt time.Time
}

// Size returns the number of encoded bytes.
func (a Artifact) Size() int { return len(a.AudioData) }

// Option configures a [Controller].
type Option func(*Controller)

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithOnChunk registers fn to be called with the byte count of every
// buffered chunk. fn runs on the pump goroutine and must not block.
func WithOnChunk(fn func(n int)) Option {
	return func(c *Controller) { c.onChunk = fn }
}

// WithOnEnd registers fn to be called when the stream ends without Stop or
// Close having been called. err is the stream's terminal error, if any. fn
// runs on the pump goroutine and must not block.
func WithOnEnd(fn func(err error)) Option {
	return func(c *Controller) { c.onEnd = fn }
}

// WithNow overrides the clock used to stamp artifacts.
func WithNow(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// Controller manages at most one capture at a time. It is safe for
// concurrent use.
type Controller struct {
	mic     audio.Microphone
	log     *slog.Logger
	now     func() time.Time
	onChunk func(int)
	onEnd   func(error)

	mu       sync.Mutex
	stream   audio.Stream
	pumpDone chan struct{}
	buf      bytes.Buffer
	chunks   int
	opening  bool
	closed   bool
}

// New creates a controller that captures from mic.
func New(mic audio.Microphone, opts ...Option) *Controller {
	c := &Controller{
		mic: mic,
		log: slog.Default(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start acquires the microphone and begins buffering. On failure no
// resource is held. Device refusals are returned as *[ResourceError].
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.stream != nil || c.opening:
		c.mu.Unlock()
		return ErrActive
	}
	c.opening = true
	c.mu.Unlock()

	s, err := c.mic.Open(ctx)

	c.mu.Lock()
	c.opening = false
	if err != nil {
		c.mu.Unlock()
		return classify(err)
	}
	if c.closed {
		c.mu.Unlock()
		c.release(s)
		return ErrClosed
	}
	c.stream = s
	c.buf.Reset()
	c.chunks = 0
	done := make(chan struct{})
	c.pumpDone = done
	c.mu.Unlock()

	c.log.Debug("capture: started", "mime_type", s.MimeType())
	go c.pump(s, done)
	return nil
}

// Active reports whether a stream is currently held.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream != nil
}

// Stop releases the stream and returns everything buffered as one artifact.
// The stream is released before Stop returns. ok is false when no capture
// was active.
func (c *Controller) Stop() (a Artifact, ok bool) {
	c.mu.Lock()
	s, done := c.stream, c.pumpDone
	if s == nil {
		c.mu.Unlock()
		return Artifact{}, false
	}
	c.stream = nil
	c.pumpDone = nil
	c.mu.Unlock()

	c.release(s)
	<-done

	c.mu.Lock()
	data := bytes.Clone(c.buf.Bytes())
	chunks := c.chunks
	c.buf.Reset()
	c.chunks = 0
	c.mu.Unlock()

	a = Artifact{
		AudioData:  data,
		MimeType:   s.MimeType(),
		RecordedAt: c.now().UTC(),
	}
	c.log.Debug("capture: stopped", "bytes", len(data), "chunks", chunks)
	return a, true
}

// Close releases any held stream and discards buffered audio. Further
// Start calls fail with [ErrClosed]. Close is idempotent.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	s, done := c.stream, c.pumpDone
	c.stream = nil
	c.pumpDone = nil
	c.buf.Reset()
	c.chunks = 0
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	err := s.Close()
	<-done
	return err
}

// pump copies chunks from s into the buffer until the stream ends.
func (c *Controller) pump(s audio.Stream, done chan<- struct{}) {
	defer close(done)

	for chunk := range s.Chunks() {
		c.mu.Lock()
		if c.stream != s && c.closed {
			c.mu.Unlock()
			continue
		}
		c.buf.Write(chunk.Data)
		c.chunks++
		c.mu.Unlock()
		if c.onChunk != nil {
			c.onChunk(len(chunk.Data))
		}
	}

	c.mu.Lock()
	unexpected := c.stream == s
	c.mu.Unlock()
	if !unexpected {
		return
	}

	// The device went away on its own. The owner is told through onEnd and
	// collects the buffer with Stop.
	err := s.Err()
	c.log.Warn("capture: stream ended unexpectedly", "err", err)
	if c.onEnd != nil {
		c.onEnd(err)
	}
}

func (c *Controller) release(s audio.Stream) {
	if err := s.Close(); err != nil {
		c.log.Warn("capture: release stream", "err", err)
	}
}

func classify(err error) error {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return &ResourceError{Kind: audio.ErrPermissionDenied, Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("capture: open: %w", err)
	default:
		return &ResourceError{Kind: audio.ErrUnsupported, Err: err}
	}
}
