package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only LogLevel and CacheSize are applied live; every other change is listed
// in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	CacheSizeChanged bool
	NewCacheSize     int

	// RestartRequired names the changed sections that only take effect after
	// a restart, e.g. "model" or "synthesis".
	RestartRequired []string
}

// IsEmpty reports whether the configs were equivalent.
func (d ConfigDiff) IsEmpty() bool {
	return !d.LogLevelChanged && !d.CacheSizeChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Voices.CacheSize != new.Voices.CacheSize {
		d.CacheSizeChanged = true
		d.NewCacheSize = new.Voices.CacheSize
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !reflect.DeepEqual(old.Model, new.Model) {
		d.RestartRequired = append(d.RestartRequired, "model")
	}
	oldVoices, newVoices := old.Voices, new.Voices
	oldVoices.CacheSize, newVoices.CacheSize = 0, 0
	if oldVoices != newVoices {
		d.RestartRequired = append(d.RestartRequired, "voices")
	}
	if old.Synthesis != new.Synthesis {
		d.RestartRequired = append(d.RestartRequired, "synthesis")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}
