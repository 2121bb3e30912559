package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// (listen address, classifier, storage) requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ThresholdChanged bool
	NewThreshold     float64

	AssemblerChanged bool
	NewMaxSegmentAge Duration
	NewReapInterval  Duration

	HubChanged    bool
	NewBufferSize int
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.ThresholdChanged || d.AssemblerChanged || d.HubChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Matching.DefaultThreshold != new.Matching.DefaultThreshold {
		d.ThresholdChanged = true
		d.NewThreshold = new.Matching.DefaultThreshold
	}

	if old.Assembler != new.Assembler {
		d.AssemblerChanged = true
		d.NewMaxSegmentAge = new.Assembler.MaxSegmentAge
		d.NewReapInterval = new.Assembler.ReapInterval
	}

	if old.Hub.BufferSize != new.Hub.BufferSize {
		d.HubChanged = true
		d.NewBufferSize = new.Hub.BufferSize
	}

	return d
}
