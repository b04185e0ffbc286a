package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvAPIBaseURL overrides api.base_url when set.
const EnvAPIBaseURL = "MOMENTS_API_BASE_URL"

// ValidBackendNames lists the capture backends shipped with the recorder.
// Used by [Validate] to warn about unrecognised names.
var ValidBackendNames = []string{"portaudio", "ffmpeg"}

// Load reads the YAML configuration file at path, applies environment
// overrides and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Defaults], applies
// environment overrides and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, os.Getenv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv copies environment overrides into cfg.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvAPIBaseURL)); v != "" {
		cfg.API.BaseURL = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Log file
	if cfg.Log.MaxSizeMB < 0 || cfg.Log.MaxBackups < 0 || cfg.Log.MaxAgeDays < 0 {
		errs = append(errs, errors.New("log.max_size_mb, log.max_backups and log.max_age_days must not be negative"))
	}

	// API
	if cfg.API.BaseURL != "" {
		u, err := url.Parse(cfg.API.BaseURL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("api.base_url %q is invalid: %w", cfg.API.BaseURL, err))
		case u.Scheme != "http" && u.Scheme != "https":
			errs = append(errs, fmt.Errorf("api.base_url %q must use http or https", cfg.API.BaseURL))
		case u.Host == "":
			errs = append(errs, fmt.Errorf("api.base_url %q has no host", cfg.API.BaseURL))
		}
	} else {
		slog.Warn("api.base_url is empty; using the default local service address")
	}
	if cfg.API.Timeout < 0 {
		errs = append(errs, fmt.Errorf("api.timeout %s must not be negative", cfg.API.Timeout.Std()))
	}
	if cfg.API.CircuitBreaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("api.circuit_breaker.max_failures %d must not be negative", cfg.API.CircuitBreaker.MaxFailures))
	}
	if cfg.API.CircuitBreaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("api.circuit_breaker.reset_timeout %s must not be negative", cfg.API.CircuitBreaker.ResetTimeout.Std()))
	}

	// Capture
	if len(cfg.Capture.Backends) == 0 {
		errs = append(errs, errors.New("capture.backends must list at least one backend"))
	}
	seen := make(map[string]int, len(cfg.Capture.Backends))
	for i, b := range cfg.Capture.Backends {
		prefix := fmt.Sprintf("capture.backends[%d]", i)
		if b.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[b.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of capture.backends[%d]", prefix, b.Name, prev))
		}
		seen[b.Name] = i
		validateBackendName(b.Name)
	}
	if r := cfg.Capture.SampleRate; r != 0 && (r < 8000 || r > 192000) {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d is out of range [8000, 192000]", r))
	}
	if c := cfg.Capture.Channels; c < 0 || c > 2 {
		errs = append(errs, fmt.Errorf("capture.channels %d is out of range [1, 2]", c))
	}

	return errors.Join(errs...)
}

// validateBackendName logs a warning if name is not one of
// [ValidBackendNames].
func validateBackendName(name string) {
	if slices.Contains(ValidBackendNames, name) {
		return
	}
	slog.Warn("unknown capture backend; it must be registered before use",
		"name", name,
		"known", ValidBackendNames,
	)
}
