// Package mock provides in-memory implementations of [audio.Microphone] and
// [audio.Stream] for use in unit tests.
//
// All mocks are safe for concurrent use. They count method calls so tests can
// assert that a device was released exactly once, and expose exported fields
// that control return values.
//
// Typical usage:
//
//	stream := mock.NewStream("audio/webm")
//	mic := &mock.Microphone{OpenResult: stream}
//	s, _ := mic.Open(ctx)
//	stream.Emit([]byte("chunk-1"))
//	_ = s.Close()
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/christophersiem/little-moments/pkg/audio"
)

var (
	_ audio.Microphone = (*Microphone)(nil)
	_ audio.Stream     = (*Stream)(nil)
)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock [audio.Stream]. Chunks are pushed with [Stream.Emit] and
// the stream ends on [Stream.Close] or [Stream.Fail].
type Stream struct {
	mu sync.Mutex

	mimeType string
	ch       chan audio.Chunk
	ended    bool
	err      error
	offset   time.Duration

	// CloseError is returned by the first [Stream.Close] call.
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// Releases records how many times the device was actually released.
	// A correct caller drives this to exactly one.
	Releases int
}

// NewStream returns an open stream reporting mimeType.
func NewStream(mimeType string) *Stream {
	return &Stream{
		mimeType: mimeType,
		ch:       make(chan audio.Chunk, 64),
	}
}

// Chunks implements [audio.Stream].
func (s *Stream) Chunks() <-chan audio.Chunk { return s.ch }

// MimeType implements [audio.Stream].
func (s *Stream) MimeType() string { return s.mimeType }

// Err implements [audio.Stream].
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if s.ended {
		return nil
	}
	s.endLocked(nil)
	return s.CloseError
}

// Emit delivers data as the next chunk. It reports false if the stream has
// already ended.
func (s *Stream) Emit(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.ch <- audio.Chunk{Data: append([]byte(nil), data...), Offset: s.offset}
	s.offset += 100 * time.Millisecond
	return true
}

// Fail ends the stream as if the device disappeared.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.endLocked(err)
	}
}

// Closed reports whether the stream has ended.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// CloseCount returns CallCountClose under the lock.
func (s *Stream) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}

// ReleaseCount returns Releases under the lock.
func (s *Stream) ReleaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Releases
}

func (s *Stream) endLocked(err error) {
	s.ended = true
	s.err = err
	s.Releases++
	close(s.ch)
}

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// OpenResult is returned by Open. When nil a fresh "audio/webm" stream is
	// created for every call and appended to Opened.
	OpenResult audio.Stream

	// OpenError is returned by Open. It takes precedence over OpenResult.
	OpenError error

	// Gate, when non-nil, blocks Open until a value is received or ctx is
	// done. Tests use it to hold a start attempt in flight.
	Gate chan struct{}

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// Opened holds every stream created when OpenResult is nil.
	Opened []*Stream
}

// Open implements [audio.Microphone].
func (m *Microphone) Open(ctx context.Context) (audio.Stream, error) {
	m.mu.Lock()
	m.CallCountOpen++
	gate := m.Gate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenError != nil {
		return nil, m.OpenError
	}
	if m.OpenResult != nil {
		return m.OpenResult, nil
	}
	s := NewStream("audio/webm")
	m.Opened = append(m.Opened, s)
	return s, nil
}

// OpenCount returns CallCountOpen under the lock.
func (m *Microphone) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCountOpen
}

// Last returns the most recently created stream, or nil.
func (m *Microphone) Last() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Opened) == 0 {
		return nil
	}
	return m.Opened[len(m.Opened)-1]
}
