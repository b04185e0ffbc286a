package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only the log level is applied at runtime; the other flags are reported so
// the caller can tell the user a restart is needed.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// Restart-only changes.
	BaseURLChanged  bool
	BackendsChanged bool
	ServerChanged   bool
}

// NeedsRestart reports whether any change cannot be applied live.
func (d ConfigDiff) NeedsRestart() bool {
	return d.BaseURLChanged || d.BackendsChanged || d.ServerChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.API.BaseURL != new.API.BaseURL {
		d.BaseURLChanged = true
	}
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.ServerChanged = true
	}
	d.BackendsChanged = !sameBackends(old.Capture, new.Capture)

	return d
}

func sameBackends(a, b CaptureConfig) bool {
	return reflect.DeepEqual(a, b)
}
