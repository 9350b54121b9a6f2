package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: the audio
// pipeline and detector thresholds apply to live sessions via Reconfigure,
// compression applies on the next chunk, and the log level swaps in place.
// Server addresses, the store backend, and queue sizing require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AudioChanged means the preprocessing stages were retuned.
	AudioChanged bool

	// VADChanged means detection thresholds or durations were retuned.
	VADChanged bool

	// CompressionChanged means the outbound compression policy changed.
	CompressionChanged bool
}

// Any reports whether the diff carries at least one hot-reloadable change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.AudioChanged || d.VADChanged || d.CompressionChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Audio != new.Audio {
		d.AudioChanged = true
	}
	if old.VAD != new.VAD {
		d.VADChanged = true
	}
	if old.Network.Compression != new.Network.Compression {
		d.CompressionChanged = true
	}

	return d
}
