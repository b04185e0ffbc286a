package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/christophersiem/little-moments/pkg/audio"
	"github.com/christophersiem/little-moments/pkg/audio/mock"
)

func passing(name string) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return nil }}
}

func failing(name, msg string) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return errors.New(msg) }}
}

// get serves path through a mux with h registered and decodes the report.
func get(t *testing.T, h *Handler, path string) (int, Report) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("%s Content-Type = %q", path, ct)
	}
	var rep Report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("%s: decode: %v", path, err)
	}
	return rec.Code, rep
}

func TestHealthz_IgnoresCheckers(t *testing.T) {
	t.Parallel()

	code, rep := get(t, New(failing("api", "down")), "/healthz")
	if code != http.StatusOK || rep.Status != "ok" || len(rep.Checks) != 0 {
		t.Errorf("healthz = %d %+v, want 200 ok without checks", code, rep)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		checkers []Checker
		wantCode int
		wantOK   bool
		want     map[string]string
	}{
		{
			name:     "no checkers",
			wantCode: http.StatusOK,
			wantOK:   true,
		},
		{
			name:     "all pass",
			checkers: []Checker{passing("api"), passing("microphone")},
			wantCode: http.StatusOK,
			wantOK:   true,
			want:     map[string]string{"api": "ok", "microphone": "ok"},
		},
		{
			name:     "service down",
			checkers: []Checker{failing("api", "Could not reach the memories service."), passing("microphone")},
			wantCode: http.StatusServiceUnavailable,
			want:     map[string]string{"api": "fail: Could not reach the memories service.", "microphone": "ok"},
		},
		{
			name:     "everything down",
			checkers: []Checker{failing("api", "timeout"), failing("microphone", "denied")},
			wantCode: http.StatusServiceUnavailable,
			want:     map[string]string{"api": "fail: timeout", "microphone": "fail: denied"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			code, rep := get(t, New(tt.checkers...), "/readyz")
			if code != tt.wantCode || rep.OK() != tt.wantOK {
				t.Errorf("readyz = %d ok=%v, want %d ok=%v", code, rep.OK(), tt.wantCode, tt.wantOK)
			}
			for name, want := range tt.want {
				if got := rep.Checks[name]; got != want {
					t.Errorf("check %s = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestNew_CopiesCheckers(t *testing.T) {
	t.Parallel()

	checkers := []Checker{passing("api")}
	h := New(checkers...)
	checkers[0] = failing("api", "mutated")
	if rep := h.Run(context.Background()); !rep.OK() {
		t.Errorf("report = %+v, want ok; New must not alias the caller's slice", rep)
	}
}

func TestRun_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	// Each check waits for the other; sequential execution would deadlock
	// until the per-check timeout.
	var wg sync.WaitGroup
	wg.Add(2)
	meet := func(context.Context) error {
		wg.Done()
		wg.Wait()
		return nil
	}
	h := New(Checker{Name: "a", Check: meet}, Checker{Name: "b", Check: meet})

	done := make(chan Report, 1)
	go func() { done <- h.Run(context.Background()) }()
	select {
	case rep := <-done:
		if !rep.OK() {
			t.Errorf("report = %+v", rep)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("checks did not run concurrently")
	}
}

func TestRun_CanceledContextReachesChecks(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	rep := h.Run(ctx)
	if rep.OK() || rep.Checks["slow"] != "fail: "+context.Canceled.Error() {
		t.Errorf("report = %+v, want the canceled check to fail", rep)
	}
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestAPIChecker(t *testing.T) {
	c := APIChecker(fakePinger{err: errors.New("Could not reach the memories service.")})
	if c.Name != "api" {
		t.Errorf("Name = %q, want api", c.Name)
	}
	if err := c.Check(context.Background()); err == nil {
		t.Error("expected ping error")
	}
	if err := APIChecker(fakePinger{}).Check(context.Background()); err != nil {
		t.Errorf("healthy ping: %v", err)
	}
}

func TestMicrophoneChecker_OpensAndReleases(t *testing.T) {
	mic := &mock.Microphone{}
	c := MicrophoneChecker(mic, nil)

	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}
	s := mic.Last()
	if s == nil || s.ReleaseCount() != 1 {
		t.Fatalf("microphone not released exactly once: %+v", s)
	}
}

func TestMicrophoneChecker_Denied(t *testing.T) {
	mic := &mock.Microphone{OpenError: audio.ErrPermissionDenied}
	err := MicrophoneChecker(mic, nil).Check(context.Background())
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Errorf("Check = %v, want ErrPermissionDenied", err)
	}
}

func TestMicrophoneChecker_SkipsWhileBusy(t *testing.T) {
	mic := &mock.Microphone{OpenError: audio.ErrUnsupported}
	err := MicrophoneChecker(mic, func() bool { return true }).Check(context.Background())
	if err != nil {
		t.Errorf("Check while busy = %v, want nil", err)
	}
	if mic.OpenCount() != 0 {
		t.Error("microphone opened while busy")
	}
}
