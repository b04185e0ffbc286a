// Package ffmpeg implements [audio.Microphone] by running the ffmpeg binary
// against the platform's default capture device and reading Ogg/Opus from
// its standard output.
package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/christophersiem/little-moments/pkg/audio"
)

// MimeType is the container type produced by this backend.
const MimeType = "audio/ogg"

const (
	defaultSampleRate = 48000
	readSize          = 4096
	stopGrace         = 3 * time.Second
	stderrTail        = 2048
)

var _ audio.Microphone = (*Microphone)(nil)

// Config configures the ffmpeg backend. Zero values pick platform defaults.
type Config struct {
	// Binary is the ffmpeg executable. Defaults to "ffmpeg" on PATH.
	Binary string

	// InputFormat is the ffmpeg demuxer, e.g. "pulse", "alsa",
	// "avfoundation" or "dshow".
	InputFormat string

	// Device is the input passed to -i.
	Device string

	// SampleRate and Channels of the encoded output.
	SampleRate int
	Channels   int

	// Bitrate of the Opus encoder, e.g. "32k".
	Bitrate string
}

// Microphone opens capture processes. It is safe for concurrent use.
type Microphone struct {
	cfg Config
}

// New returns an ffmpeg microphone with platform defaults filled in.
func New(cfg Config) *Microphone {
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.InputFormat == "" || cfg.Device == "" {
		f, d := platformInput(runtime.GOOS)
		if cfg.InputFormat == "" {
			cfg.InputFormat = f
		}
		if cfg.Device == "" {
			cfg.Device = d
		}
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.Bitrate == "" {
		cfg.Bitrate = "32k"
	}
	return &Microphone{cfg: cfg}
}

func platformInput(goos string) (format, device string) {
	switch goos {
	case "darwin":
		return "avfoundation", ":default"
	case "windows":
		return "dshow", "audio=default"
	default:
		return "pulse", "default"
	}
}

// Args returns the ffmpeg command line used for capture, without the binary.
func (m *Microphone) Args() []string { return m.args() }

// Open starts ffmpeg and returns once it produced its first output. A
// process that exits before that is classified from its stderr.
func (m *Microphone) Open(ctx context.Context) (audio.Stream, error) {
	bin, err := exec.LookPath(m.cfg.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found: %w", audio.ErrUnsupported, m.cfg.Binary, err)
	}

	cmd := exec.Command(bin, m.args()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: stdout: %w", err)
	}
	stderr := &tailBuffer{max: stderrTail}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %w", audio.ErrUnsupported, err)
	}

	s := &stream{
		cmd:    cmd,
		stdin:  stdin,
		stderr: stderr,
		ch:     make(chan audio.Chunk, 16),
		first:  make(chan struct{}),
		done:   make(chan struct{}),
		start:  time.Now(),
	}
	go s.read(bufio.NewReaderSize(stdout, readSize))

	select {
	case <-s.first:
		return s, nil
	case <-s.done:
		return nil, classifyExit(s.waitErr, stderr.String())
	case <-ctx.Done():
		go audio.Drain(s.ch)
		_ = s.Close()
		return nil, ctx.Err()
	}
}

func (m *Microphone) args() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", m.cfg.InputFormat,
		"-i", m.cfg.Device,
		"-ac", strconv.Itoa(m.cfg.Channels),
		"-ar", strconv.Itoa(m.cfg.SampleRate),
		"-c:a", "libopus",
		"-b:a", m.cfg.Bitrate,
		"-flush_packets", "1",
		"-f", "ogg",
		"pipe:1",
	}
}

// classifyExit maps an early ffmpeg exit to a device error.
func classifyExit(waitErr error, stderr string) error {
	msg := strings.TrimSpace(stderr)
	lower := strings.ToLower(msg)
	for _, marker := range []string{"permission denied", "not permitted", "not authorized", "access denied"} {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: %s", audio.ErrPermissionDenied, msg)
		}
	}
	if msg == "" && waitErr != nil {
		msg = waitErr.Error()
	}
	if msg == "" {
		msg = "ffmpeg exited without output"
	}
	return fmt.Errorf("%w: %s", audio.ErrUnsupported, msg)
}

// ─── Stream ───────────────────────────────────────────────────────────────────

type stream struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailBuffer
	start  time.Time

	ch        chan audio.Chunk
	first     chan struct{}
	firstOnce sync.Once
	done      chan struct{}

	mu      sync.Mutex
	closing bool
	waitErr error
	err     error

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

// Close asks ffmpeg to finish the file, waits for the remaining output and
// kills the process if it does not exit in time.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()

		// "q" on stdin makes ffmpeg write the trailer and exit.
		_, _ = io.WriteString(s.stdin, "q")
		_ = s.stdin.Close()

		select {
		case <-s.done:
		case <-time.After(stopGrace):
			_ = s.cmd.Process.Kill()
			<-s.done
		}
	})
	return nil
}

func (s *stream) read(r io.Reader) {
	defer close(s.done)
	defer close(s.ch)

	for {
		buf := make([]byte, readSize)
		n, err := r.Read(buf)
		if n > 0 {
			s.firstOnce.Do(func() { close(s.first) })
			s.ch <- audio.Chunk{Data: buf[:n], Offset: time.Since(s.start)}
		}
		if err != nil {
			break
		}
	}

	waitErr := s.cmd.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitErr = waitErr
	if !s.closing {
		s.err = classifyExit(waitErr, s.stderr.String())
		if waitErr == nil {
			s.err = errors.New("ffmpeg: capture ended unexpectedly")
		}
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
