package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/christophersiem/little-moments/pkg/audio"
)

// ErrAllFailed is returned by [MicrophoneFallback.Open] when no backend
// could be opened. The last backend's error is wrapped next to it, so the
// result still matches [audio.ErrPermissionDenied] or [audio.ErrUnsupported].
var ErrAllFailed = errors.New("resilience: all backends failed")

// FallbackConfig configures the breaker created for every backend.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type backend struct {
	name    string
	mic     audio.Microphone
	breaker *CircuitBreaker
}

// MicrophoneFallback implements [audio.Microphone] over an ordered list of
// capture backends.
//
// Backends must all be added before the first Open.
type MicrophoneFallback struct {
	cfg      FallbackConfig
	backends []backend
}

var _ audio.Microphone = (*MicrophoneFallback)(nil)

// NewMicrophoneFallback returns a fallback with primary as the preferred
// backend. A permission refusal never counts against a backend's breaker
// unless cfg says otherwise: the next start should ask again.
func NewMicrophoneFallback(primary audio.Microphone, primaryName string, cfg FallbackConfig) *MicrophoneFallback {
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = deviceFailure
	}
	f := &MicrophoneFallback{cfg: cfg}
	f.AddFallback(primaryName, primary)
	return f
}

// AddFallback appends a backend tried after all earlier ones.
func (f *MicrophoneFallback) AddFallback(name string, mic audio.Microphone) {
	bc := f.cfg.CircuitBreaker
	bc.Name = "capture/" + name
	f.backends = append(f.backends, backend{name: name, mic: mic, breaker: NewCircuitBreaker(bc)})
}

// Backends returns the backend names in the order they are tried.
func (f *MicrophoneFallback) Backends() []string {
	names := make([]string, len(f.backends))
	for i, b := range f.backends {
		names[i] = b.name
	}
	return names
}

// Open returns a stream from the first backend that opens. A canceled ctx
// stops the walk immediately.
func (f *MicrophoneFallback) Open(ctx context.Context) (audio.Stream, error) {
	var lastErr error
	for _, b := range f.backends {
		var s audio.Stream
		err := b.breaker.Execute(func() error {
			var oerr error
			s, oerr = b.mic.Open(ctx)
			return oerr
		})
		if err == nil {
			return s, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping capture backend", "backend", b.name)
			continue
		}
		slog.Warn("resilience: capture backend failed, trying next", "backend", b.name, "err", err)
	}
	return nil, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

func deviceFailure(err error) bool {
	return !errors.Is(err, audio.ErrPermissionDenied) && !errors.Is(err, context.Canceled)
}
