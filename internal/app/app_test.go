package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/christophersiem/little-moments/internal/app"
	"github.com/christophersiem/little-moments/internal/config"
	"github.com/christophersiem/little-moments/internal/health"
	"github.com/christophersiem/little-moments/internal/memories"
	"github.com/christophersiem/little-moments/internal/observe"
	"github.com/christophersiem/little-moments/internal/session"
	timermock "github.com/christophersiem/little-moments/internal/timer/mock"
	"github.com/christophersiem/little-moments/pkg/audio"
	audiomock "github.com/christophersiem/little-moments/pkg/audio/mock"
)

// fakeAPI is a minimal memories service.
type fakeAPI struct {
	mu      sync.Mutex
	creates int
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /memories", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"items":[],"page":0,"size":1,"totalElements":0,"totalPages":0}`)
	})
	mux.HandleFunc("POST /memories", func(w http.ResponseWriter, r *http.Request) {
		if _, _, err := r.FormFile("audio"); err != nil {
			http.Error(w, `{"detail":"audio is required"}`, http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.creates++
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"m-1","status":"READY","title":"Morning walk","transcriptPreview":"we walked to the lake"}`)
	})
	return mux
}

func (f *fakeAPI) Creates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

func slogDiscard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// testConfig returns a config pointing at api.
func testConfig(api string) *config.Config {
	cfg := config.Defaults()
	cfg.API.BaseURL = api
	cfg.API.Timeout = config.Duration(5 * time.Second)
	return cfg
}

func newTestApp(t *testing.T, mic *audiomock.Microphone, opts ...app.Option) (*app.App, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	opts = append([]app.Option{
		app.WithClock(timermock.NewClock(time.Unix(0, 0))),
		app.WithMetrics(testMetrics(t)),
	}, opts...)
	opts = append(opts, app.WithLogger(slogDiscard()))
	a, err := app.New(context.Background(), testConfig(srv.URL), mic, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a, api
}

func waitPhase(t *testing.T, a *app.App, want session.Phase) session.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := a.Session().Snapshot()
		if snap.Phase == want {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("phase = %s, want %s", snap.Phase, want)
		}
		time.Sleep(time.Millisecond)
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

func TestNew_RequiresMicrophone(t *testing.T) {
	t.Parallel()

	if _, err := app.New(context.Background(), config.Defaults(), nil); err == nil {
		t.Fatal("New(nil mic) returned nil error")
	}
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	mic := &audiomock.Microphone{}
	a, _ := newTestApp(t, mic)

	if a.Session().Snapshot().Phase != session.Idle {
		t.Errorf("initial phase = %s, want idle", a.Session().Snapshot().Phase)
	}
	if a.Client().Breaker() == nil {
		t.Error("memories client has no circuit breaker")
	}

	rep := a.Health().Run(context.Background())
	if !rep.OK() {
		t.Fatalf("health report = %+v, want ok", rep)
	}
	if got := mic.OpenCount(); got != 1 {
		t.Errorf("microphone probe opened %d times, want 1", got)
	}
	if !mic.Last().Closed() {
		t.Error("microphone probe did not release the device")
	}
}

func TestApp_RecordAndSave(t *testing.T) {
	t.Parallel()

	mic := &audiomock.Microphone{}
	a, api := newTestApp(t, mic)
	s := a.Session()

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitPhase(t, a, session.Recording)
	mic.Last().Emit([]byte("chunk-1"))
	mic.Last().Emit([]byte("chunk-2"))

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	snap := waitPhase(t, a, session.Saved)
	if snap.Result == nil || snap.Result.Title != "Morning walk" || snap.Result.Status != memories.StatusReady {
		t.Errorf("result = %+v", snap.Result)
	}
	if got := api.Creates(); got != 1 {
		t.Errorf("creates = %d, want 1", got)
	}
}

func TestApp_ReadinessSkipsMicrophoneWhileRecording(t *testing.T) {
	t.Parallel()

	mic := &audiomock.Microphone{}
	a, _ := newTestApp(t, mic)

	if err := a.Session().Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitPhase(t, a, session.Recording)

	if rep := a.Health().Run(context.Background()); !rep.OK() {
		t.Fatalf("health report = %+v, want ok", rep)
	}
	if got := mic.OpenCount(); got != 1 {
		t.Errorf("OpenCount = %d, want 1 (probe must not open a held microphone)", got)
	}
}

// ─── Run / Shutdown ──────────────────────────────────────────────────────────

func TestApp_RunServesStatus(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	a, _ := newTestApp(t, &audiomock.Microphone{}, app.WithListener(l))

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	base := "http://" + l.Addr().String()
	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = http.Get(base + "/readyz")
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("GET /readyz: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	var rep health.Report
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || rep.Checks["api"] != "ok" || rep.Checks["microphone"] != "ok" {
		t.Errorf("readyz = %d %+v", resp.StatusCode, rep)
	}

	resp, err = http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-runErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestApp_RunReturnsWhenSessionCloses(t *testing.T) {
	t.Parallel()

	a, _ := newTestApp(t, &audiomock.Microphone{})

	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(context.Background()) }()

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}

func TestApp_ShutdownReleasesMicrophone(t *testing.T) {
	t.Parallel()

	mic := &audiomock.Microphone{}
	a, _ := newTestApp(t, mic)

	if err := a.Session().Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitPhase(t, a, session.Recording)

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := mic.Last().ReleaseCount(); got != 1 {
		t.Errorf("releases = %d, want 1", got)
	}
	// Idempotent.
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestApp_ShutdownRespectsDeadline(t *testing.T) {
	t.Parallel()

	a, _ := newTestApp(t, &audiomock.Microphone{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown(canceled) = %v, want context.Canceled", err)
	}
	_ = a.Session().Close()
}

// ─── BuildMicrophone ─────────────────────────────────────────────────────────

func TestBuildMicrophone(t *testing.T) {
	t.Parallel()

	good := &audiomock.Microphone{}
	reg := config.NewRegistry()
	reg.RegisterMicrophone("broken", func(config.BackendEntry, config.CaptureConfig) (audio.Microphone, error) {
		return nil, errors.New("no device")
	})
	reg.RegisterMicrophone("good", func(config.BackendEntry, config.CaptureConfig) (audio.Microphone, error) {
		return good, nil
	})

	cfg := config.CaptureConfig{Backends: []config.BackendEntry{
		{Name: "broken"}, {Name: "missing"}, {Name: "good"},
	}}
	mic, err := app.BuildMicrophone(cfg, reg, slogDiscard())
	if err != nil {
		t.Fatalf("BuildMicrophone: %v", err)
	}
	if got := mic.Backends(); len(got) != 1 || got[0] != "good" {
		t.Errorf("Backends = %v, want [good]", got)
	}
	s, err := mic.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = s.Close()
	if good.OpenCount() != 1 {
		t.Errorf("good backend opened %d times", good.OpenCount())
	}
}

func TestBuildMicrophone_NoneAvailable(t *testing.T) {
	t.Parallel()

	cfg := config.CaptureConfig{Backends: []config.BackendEntry{{Name: "portaudio"}}}
	_, err := app.BuildMicrophone(cfg, config.NewRegistry(), slogDiscard())
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("err = %v, want ErrBackendNotRegistered", err)
	}
}
