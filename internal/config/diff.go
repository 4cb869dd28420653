package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// requires a restart and is ignored here.
type ConfigDiff struct {
	// LogLevelChanged is set when server.log_level changed.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ContentChanged is set when any content setting changed. The experience
	// cache must be refreshed so new geofence radii and paths take effect.
	ContentChanged bool

	// ChatChanged is set when the narrative service endpoint or timeout
	// changed. The chat client is rebuilt on next use.
	ChatChanged bool
}

// Empty reports whether the diff carries no hot-reloadable change.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ContentChanged && !d.ChatChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Content != new.Content {
		d.ContentChanged = true
	}

	if old.Chat != new.Chat {
		d.ChatChanged = true
	}

	return d
}
