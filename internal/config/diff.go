package config

// ConfigDiff describes what changed between two configs. Only changes the
// server can act on at runtime are tracked individually; anything else sets
// RestartRequired.
type ConfigDiff struct {
	// LogLevelChanged is true when server.log_level differs. Hot-reloadable.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// FeedBufferChanged is true when feed.buffer differs. Applies to
	// subscribers created after the change.
	FeedBufferChanged bool
	NewFeedBuffer     int

	// RestartRequired is true when a change cannot be applied without
	// restarting the server (listen address, TLS, transport, archive).
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Feed.Buffer != new.Feed.Buffer {
		d.FeedBufferChanged = true
		d.NewFeedBuffer = new.Feed.Buffer
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = true
	}
	if !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = true
	}
	if old.Realtime != new.Realtime {
		d.RestartRequired = true
	}
	if old.Archive != new.Archive {
		d.RestartRequired = true
	}

	return d
}

// tlsEqual compares two optional TLS blocks by value.
func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
