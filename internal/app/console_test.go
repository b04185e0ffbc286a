package app_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/christophersiem/little-moments/internal/app"
	"github.com/christophersiem/little-moments/internal/decision"
	"github.com/christophersiem/little-moments/internal/memories"
	"github.com/christophersiem/little-moments/internal/session"
	audiomock "github.com/christophersiem/little-moments/pkg/audio/mock"
)

// syncBuffer is a bytes.Buffer safe for one writer and a polling reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitOutput(t *testing.T, out *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), want) {
		if time.Now().After(deadline) {
			t.Fatalf("output missing %q:\n%s", want, out.String())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestConsole_DiscardFlow(t *testing.T) {
	t.Parallel()

	mic := &audiomock.Microphone{}
	a, api := newTestApp(t, mic)

	inR, inW := io.Pipe()
	out := &syncBuffer{}
	done := make(chan error, 1)
	t.Cleanup(func() { inR.Close() })
	go func() { done <- app.NewConsole(a, inR, out).Run(context.Background()) }()

	send := func(line string) {
		t.Helper()
		if _, err := fmt.Fprintln(inW, line); err != nil {
			t.Fatalf("write %q: %v", line, err)
		}
	}

	waitOutput(t, out, "Ready.")
	send("start")
	waitOutput(t, out, "Recording.")
	send("stop")
	waitOutput(t, out, "Save this recording?")
	send("discard")
	waitOutput(t, out, "Discard this recording?")
	send("cancel")
	send("discard")
	send("confirm")
	waitPhase(t, a, session.Idle)

	send("dance")
	waitOutput(t, out, `unknown command "dance"`)
	send("save")
	waitOutput(t, out, "not available right now")

	send("quit")
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("console did not quit")
	}
	if api.Creates() != 0 {
		t.Errorf("creates = %d after discard, want 0", api.Creates())
	}
}

func TestConsole_SaveAndStatus(t *testing.T) {
	t.Parallel()

	mic := &audiomock.Microphone{}
	a, _ := newTestApp(t, mic)

	inR, inW := io.Pipe()
	out := &syncBuffer{}
	go func() { _ = app.NewConsole(a, inR, out).Run(context.Background()) }()
	t.Cleanup(func() { inW.Close() })

	fmt.Fprintln(inW, "start")
	waitPhase(t, a, session.Recording)
	mic.Last().Emit([]byte("chunk"))
	fmt.Fprintln(inW, "stop")
	waitPhase(t, a, session.Stopped)
	fmt.Fprintln(inW, "save")
	waitOutput(t, out, `Saved: Morning walk. "we walked to the lake"`)

	fmt.Fprintln(inW, "status")
	waitOutput(t, out, "(00:00)")
}

func TestConsole_EndOfInput(t *testing.T) {
	t.Parallel()

	a, _ := newTestApp(t, &audiomock.Microphone{})
	out := &syncBuffer{}
	err := app.NewConsole(a, strings.NewReader("help\n"), out).Run(context.Background())
	if err != nil {
		t.Fatalf("Run = %v, want nil at EOF", err)
	}
}

func TestConsole_ContextCanceled(t *testing.T) {
	t.Parallel()

	a, _ := newTestApp(t, &audiomock.Microphone{})
	inR, _ := io.Pipe()
	t.Cleanup(func() { inR.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := app.NewConsole(a, inR, io.Discard).Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		snap session.Snapshot
		want string
	}{
		{"idle", session.Snapshot{Phase: session.Idle}, "Ready."},
		{"opening", session.Snapshot{Phase: session.Idle, Opening: true}, "Waiting for the microphone"},
		{"recording", session.Snapshot{Phase: session.Recording, Elapsed: 9}, "Recording."},
		{"choice", session.Snapshot{Phase: session.Stopped, Decision: decision.Choice, Elapsed: 75}, "Recording stopped (01:15). Save this recording?"},
		{"confirm", session.Snapshot{Phase: session.Stopped, Decision: decision.ConfirmDiscard}, "Discard this recording?"},
		{"dismissed", session.Snapshot{Phase: session.Stopped, Decision: decision.Hidden}, "reopen"},
		{"saving", session.Snapshot{Phase: session.Saving}, "Saving your moment..."},
		{"saved titled", session.Snapshot{Phase: session.Saved, Result: &memories.CreateResult{Title: "Park"}}, "Saved: Park."},
		{"saved preview", session.Snapshot{Phase: session.Saved, Result: &memories.CreateResult{TranscriptPreview: "hello"}}, `Saved. "hello" Type "another"`},
		{"saved blank preview", session.Snapshot{Phase: session.Saved, Result: &memories.CreateResult{TranscriptPreview: "  "}}, "Saved. Your transcript was saved."},
		{"saved", session.Snapshot{Phase: session.Saved}, "Saved. Your transcript was saved."},
		{"error retry", session.Snapshot{Phase: session.Error, HasArtifact: true, ErrorMessage: "Upload failed (502)"}, "Upload failed (502) [retry / over]"},
		{"error over", session.Snapshot{Phase: session.Error, ErrorMessage: "Microphone access was denied."}, "denied. [over]"},
		{"error default", session.Snapshot{Phase: session.Error}, "Could not save your moment."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := app.Describe(tt.snap); !strings.Contains(got, tt.want) {
				t.Errorf("Describe = %q, want it to contain %q", got, tt.want)
			}
		})
	}

	// Ticks must not change the recording line.
	a := app.Describe(session.Snapshot{Phase: session.Recording, Elapsed: 1})
	b := app.Describe(session.Snapshot{Phase: session.Recording, Elapsed: 2})
	if a != b {
		t.Errorf("recording line changes with elapsed: %q vs %q", a, b)
	}
}
