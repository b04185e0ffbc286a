package capture_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/christophersiem/little-moments/internal/capture"
	"github.com/christophersiem/little-moments/pkg/audio"
	"github.com/christophersiem/little-moments/pkg/audio/mock"
)

var fixedNow = time.Date(2024, 3, 14, 15, 9, 26, 0, time.FixedZone("CET", 3600))

func TestController_StartStop(t *testing.T) {
	t.Parallel()

	stream := mock.NewStream("audio/webm")
	mic := &mock.Microphone{OpenResult: stream}
	c := capture.New(mic, capture.WithNow(func() time.Time { return fixedNow }))

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !c.Active() {
		t.Fatal("Active() = false after Start")
	}
	stream.Emit([]byte("abc"))
	stream.Emit([]byte("def"))

	a, ok := c.Stop()
	if !ok {
		t.Fatal("Stop reported no active capture")
	}
	if got := string(a.AudioData); got != "abcdef" {
		t.Errorf("AudioData = %q, want %q", got, "abcdef")
	}
	if a.MimeType != "audio/webm" {
		t.Errorf("MimeType = %q", a.MimeType)
	}
	if !a.RecordedAt.Equal(fixedNow) || a.RecordedAt.Location() != time.UTC {
		t.Errorf("RecordedAt = %v, want %v in UTC", a.RecordedAt, fixedNow)
	}
	if got := stream.ReleaseCount(); got != 1 {
		t.Errorf("releases = %d, want 1", got)
	}
	if c.Active() {
		t.Error("Active() = true after Stop")
	}
}

func TestController_StopWithoutStartIsNoOp(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{}
	c := capture.New(mic)
	if _, ok := c.Stop(); ok {
		t.Error("Stop reported an artifact without a capture")
	}
	if mic.OpenCount() != 0 {
		t.Error("Stop opened the microphone")
	}
}

func TestController_StartErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		openErr error
		kind    error
		message string
	}{
		{"permission", audio.ErrPermissionDenied, audio.ErrPermissionDenied, "Microphone access was denied."},
		{"unsupported", audio.ErrUnsupported, audio.ErrUnsupported, "Audio recording is not supported in this environment."},
		{"other", errors.New("no such device"), audio.ErrUnsupported, "Audio recording is not supported in this environment."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := capture.New(&mock.Microphone{OpenError: tt.openErr})

			err := c.Start(context.Background())
			var re *capture.ResourceError
			if !errors.As(err, &re) {
				t.Fatalf("Start error = %v, want *ResourceError", err)
			}
			if !errors.Is(err, tt.kind) {
				t.Errorf("errors.Is(err, %v) = false", tt.kind)
			}
			if re.Message() != tt.message {
				t.Errorf("Message() = %q, want %q", re.Message(), tt.message)
			}
			if c.Active() {
				t.Error("Active() = true after failed Start")
			}
		})
	}
}

func TestController_StartWhileActive(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{}
	c := capture.New(mic)
	t.Cleanup(func() { _ = c.Close() })

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, capture.ErrActive) {
		t.Errorf("second Start = %v, want ErrActive", err)
	}
	if mic.OpenCount() != 1 {
		t.Errorf("OpenCount = %d, want 1", mic.OpenCount())
	}
}

func TestController_CloseReleasesOnce(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{}
	c := capture.New(mic)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stream := mic.Last()
	stream.Emit([]byte("x"))

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, ok := c.Stop(); ok {
		t.Error("Stop after Close returned an artifact")
	}
	if got := stream.ReleaseCount(); got != 1 {
		t.Errorf("releases = %d, want 1", got)
	}
	if err := c.Start(context.Background()); !errors.Is(err, capture.ErrClosed) {
		t.Errorf("Start after Close = %v, want ErrClosed", err)
	}
}

func TestController_CloseDuringOpenReleasesLateStream(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	mic := &mock.Microphone{Gate: gate}
	c := capture.New(mic)

	errc := make(chan error, 1)
	go func() { errc <- c.Start(context.Background()) }()

	// Wait until Open is in flight.
	deadline := time.Now().Add(2 * time.Second)
	for mic.OpenCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Open never called")
		}
		time.Sleep(time.Millisecond)
	}

	_ = c.Close()
	close(gate)

	if err := <-errc; !errors.Is(err, capture.ErrClosed) {
		t.Fatalf("Start = %v, want ErrClosed", err)
	}
	stream := mic.Last()
	if stream == nil {
		t.Fatal("no stream opened")
	}
	if got := stream.ReleaseCount(); got != 1 {
		t.Errorf("late stream releases = %d, want 1", got)
	}
}

func TestController_UnexpectedEnd(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		endErr error
		ended  = make(chan struct{})
		bytesN int
	)
	stream := mock.NewStream("audio/ogg")
	c := capture.New(&mock.Microphone{OpenResult: stream},
		capture.WithOnEnd(func(err error) {
			mu.Lock()
			endErr = err
			mu.Unlock()
			close(ended)
		}),
		capture.WithOnChunk(func(n int) {
			mu.Lock()
			bytesN += n
			mu.Unlock()
		}),
	)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stream.Emit([]byte("hello"))
	unplugged := errors.New("device unplugged")
	stream.Fail(unplugged)

	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("onEnd not called")
	}

	mu.Lock()
	if !errors.Is(endErr, unplugged) {
		t.Errorf("onEnd err = %v", endErr)
	}
	if bytesN != 5 {
		t.Errorf("onChunk bytes = %d, want 5", bytesN)
	}
	mu.Unlock()

	a, ok := c.Stop()
	if !ok || string(a.AudioData) != "hello" {
		t.Errorf("Stop = %q, %v; want buffered audio", a.AudioData, ok)
	}
	if got := stream.ReleaseCount(); got != 1 {
		t.Errorf("releases = %d, want 1", got)
	}
}

func TestController_RestartAfterStop(t *testing.T) {
	t.Parallel()

	mic := &mock.Microphone{}
	c := capture.New(mic)
	t.Cleanup(func() { _ = c.Close() })

	for i, payload := range []string{"first", "second"} {
		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("Start %d: %v", i, err)
		}
		mic.Last().Emit([]byte(payload))
		a, ok := c.Stop()
		if !ok || string(a.AudioData) != payload {
			t.Errorf("attempt %d artifact = %q, want %q", i, a.AudioData, payload)
		}
	}
}
