// Package config provides the configuration schema, loader, and capture
// backend registry for the little-moments recorder.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration is a [time.Duration] that decodes from YAML strings such as "30s".
type Duration time.Duration

// UnmarshalText implements [encoding.TextUnmarshaler].
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements [encoding.TextMarshaler].
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	API     APIConfig     `yaml:"api"`
	Capture CaptureConfig `yaml:"capture"`
}

// ServerConfig holds settings for the local status server.
type ServerConfig struct {
	// ListenAddr is the TCP address the status server listens on
	// (e.g., "127.0.0.1:8090"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It can be changed without restart.
	LogLevel LogLevel `yaml:"log_level"`
}

// LogConfig configures the optional rotating log file.
type LogConfig struct {
	// File is the log file path. Empty logs to stderr only.
	File string `yaml:"file"`

	MaxSizeMB  int `yaml:"max_size_mb"`
	MaxBackups int `yaml:"max_backups"`
	MaxAgeDays int `yaml:"max_age_days"`
}

// APIConfig points the recorder at the memories service.
type APIConfig struct {
	// BaseURL of the service, e.g. "http://localhost:8080/api". The
	// MOMENTS_API_BASE_URL environment variable takes precedence.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds each request. Defaults to two minutes.
	Timeout Duration `yaml:"timeout"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig tunes the breaker in front of the service. Zero
// values use the breaker defaults.
type CircuitBreakerConfig struct {
	MaxFailures  int      `yaml:"max_failures"`
	ResetTimeout Duration `yaml:"reset_timeout"`
}

// CaptureConfig selects the microphone backends.
type CaptureConfig struct {
	// Backends are tried in order; later entries are fallbacks. Each name
	// must be registered in the [Registry].
	Backends []BackendEntry `yaml:"backends"`

	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
}

// BackendEntry names one capture backend.
type BackendEntry struct {
	// Name selects the registered backend ("portaudio", "ffmpeg").
	Name string `yaml:"name"`

	// Options holds backend-specific values such as the ffmpeg binary or
	// input device.
	Options map[string]any `yaml:"options"`
}

// StringOption returns the string option key, or "" if absent or not a string.
func (b BackendEntry) StringOption(key string) string {
	s, _ := b.Options[key].(string)
	return s
}

// Defaults returns the configuration used when no file is given.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{LogLevel: LogInfo},
		API: APIConfig{
			Timeout: Duration(2 * time.Minute),
		},
		Capture: CaptureConfig{
			Backends: []BackendEntry{{Name: "portaudio"}, {Name: "ffmpeg"}},
		},
	}
}
