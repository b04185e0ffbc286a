// Package portaudio implements [audio.Microphone] on the PortAudio default
// input device. Samples are buffered as 16-bit PCM and delivered as a single
// WAV chunk when the stream closes.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/christophersiem/little-moments/pkg/audio"
	"github.com/christophersiem/little-moments/pkg/audio/pcm"
)

// MimeType is the container type produced by this backend.
const MimeType = "audio/wav"

const (
	defaultSampleRate = 16000
	framesPerBuffer   = 1024
)

var _ audio.Microphone = (*Microphone)(nil)

// Config configures the PortAudio backend.
type Config struct {
	SampleRate int
	Channels   int
	Logger     *slog.Logger
}

// Microphone opens the default PortAudio input device.
type Microphone struct {
	cfg Config
}

// New returns a PortAudio microphone. Zero values default to 16 kHz mono.
func New(cfg Config) *Microphone {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Microphone{cfg: cfg}
}

// Open initialises PortAudio and starts the default input stream.
func (m *Microphone) Open(ctx context.Context) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: portaudio: initialize: %w", audio.ErrUnsupported, err)
	}

	in := make([]int16, framesPerBuffer*m.cfg.Channels)
	pa, err := portaudio.OpenDefaultStream(m.cfg.Channels, 0, float64(m.cfg.SampleRate), framesPerBuffer, in)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: portaudio: open default stream: %w", audio.ErrUnsupported, err)
	}
	if err := pa.Start(); err != nil {
		_ = pa.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: portaudio: start: %w", audio.ErrPermissionDenied, err)
	}

	s := &stream{
		pa:       pa,
		in:       in,
		rate:     m.cfg.SampleRate,
		channels: m.cfg.Channels,
		log:      m.cfg.Logger,
		ch:       make(chan audio.Chunk, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	return s, nil
}

type stream struct {
	pa       *portaudio.Stream
	in       []int16
	rate     int
	channels int
	log      *slog.Logger

	ch   chan audio.Chunk
	stop chan struct{}
	done chan struct{}

	mu      sync.Mutex
	err     error
	samples []int16

	closeOnce sync.Once
}

var _ audio.Stream = (*stream)(nil)

func (s *stream) Chunks() <-chan audio.Chunk { return s.ch }
func (s *stream) MimeType() string           { return MimeType }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) Close() error {
	s.closeOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

func (s *stream) run() {
	defer close(s.done)
	defer close(s.ch)

	var readErr error
loop:
	for {
		select {
		case <-s.stop:
			break loop
		default:
		}
		if err := s.pa.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				s.log.Debug("portaudio: input overflowed")
				continue
			}
			readErr = err
			break loop
		}
		s.samples = append(s.samples, s.in...)
	}

	if err := s.pa.Stop(); err != nil {
		s.log.Warn("portaudio: stop stream", "err", err)
	}
	if err := s.pa.Close(); err != nil {
		s.log.Warn("portaudio: close stream", "err", err)
	}
	if err := portaudio.Terminate(); err != nil {
		s.log.Warn("portaudio: terminate", "err", err)
	}

	data, err := pcm.EncodeWAV(s.samples, s.rate, s.channels)
	if err != nil {
		readErr = errors.Join(readErr, err)
	}
	if len(data) > 0 {
		frames := len(s.samples) / s.channels
		s.ch <- audio.Chunk{Data: data, Offset: time.Duration(frames) * time.Second / time.Duration(s.rate)}
	}

	s.mu.Lock()
	s.err = readErr
	s.mu.Unlock()
}
