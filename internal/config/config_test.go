package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/christophersiem/little-moments/internal/config"
	"github.com/christophersiem/little-moments/pkg/audio"
	"github.com/christophersiem/little-moments/pkg/audio/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: "127.0.0.1:8090"
  log_level: debug

log:
  file: /var/log/moments/moments.log
  max_size_mb: 10
  max_backups: 3
  max_age_days: 14

api:
  base_url: https://moments.example.com/api
  timeout: 45s
  circuit_breaker:
    max_failures: 3
    reset_timeout: 20s

capture:
  sample_rate: 48000
  channels: 1
  backends:
    - name: ffmpeg
      options:
        binary: /usr/local/bin/ffmpeg
        device: hw:1
    - name: portaudio
`

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != "127.0.0.1:8090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Log.File != "/var/log/moments/moments.log" || cfg.Log.MaxBackups != 3 {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.API.Timeout.Std() != 45*time.Second {
		t.Errorf("api.timeout = %s, want 45s", cfg.API.Timeout.Std())
	}
	if cfg.API.CircuitBreaker.MaxFailures != 3 || cfg.API.CircuitBreaker.ResetTimeout.Std() != 20*time.Second {
		t.Errorf("circuit_breaker = %+v", cfg.API.CircuitBreaker)
	}
	if len(cfg.Capture.Backends) != 2 {
		t.Fatalf("backends = %d, want 2", len(cfg.Capture.Backends))
	}
	ff := cfg.Capture.Backends[0]
	if ff.Name != "ffmpeg" || ff.StringOption("device") != "hw:1" || ff.StringOption("binary") != "/usr/local/bin/ffmpeg" {
		t.Errorf("backends[0] = %+v", ff)
	}
	if got := ff.StringOption("missing"); got != "" {
		t.Errorf("StringOption(missing) = %q", got)
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.API.Timeout.Std() != 2*time.Minute {
		t.Errorf("timeout = %s, want 2m", cfg.API.Timeout.Std())
	}
	var names []string
	for _, b := range cfg.Capture.Backends {
		names = append(names, b.Name)
	}
	if strings.Join(names, ",") != "portaudio,ffmpeg" {
		t.Errorf("default backends = %v", names)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_port: 80\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/moments.yaml")
	if err == nil || !strings.Contains(err.Error(), "config: open") {
		t.Errorf("Load = %v, want open error", err)
	}
}

// ── registry ─────────────────────────────────────────────────────────────────

func TestRegistry_CreateMicrophone(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	want := &mock.Microphone{}
	var gotEntry config.BackendEntry
	var gotCapture config.CaptureConfig
	reg.RegisterMicrophone("mock", func(e config.BackendEntry, c config.CaptureConfig) (audio.Microphone, error) {
		gotEntry, gotCapture = e, c
		return want, nil
	})

	entry := config.BackendEntry{Name: "mock", Options: map[string]any{"device": "x"}}
	mic, err := reg.CreateMicrophone(entry, config.CaptureConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("CreateMicrophone: %v", err)
	}
	if mic != want {
		t.Error("CreateMicrophone returned a different microphone")
	}
	if gotEntry.StringOption("device") != "x" || gotCapture.SampleRate != 16000 {
		t.Errorf("factory got entry=%+v capture=%+v", gotEntry, gotCapture)
	}
	if _, err := mic.Open(context.Background()); err != nil {
		t.Errorf("Open: %v", err)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	_, err := reg.CreateMicrophone(config.BackendEntry{Name: "nope"}, config.CaptureConfig{})
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("err = %v, want ErrBackendNotRegistered", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	factory := func(config.BackendEntry, config.CaptureConfig) (audio.Microphone, error) { return nil, nil }
	reg.RegisterMicrophone("portaudio", factory)
	reg.RegisterMicrophone("ffmpeg", factory)
	reg.RegisterMicrophone("ffmpeg", factory)

	if got := strings.Join(reg.Names(), ","); got != "ffmpeg,portaudio" {
		t.Errorf("Names() = %q", got)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()

	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q.IsValid() = false", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error(`"trace".IsValid() = true`)
	}
}
