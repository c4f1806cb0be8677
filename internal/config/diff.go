package config

import (
	"maps"
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ProfilesChanged is true if any generation profile override changed.
	// The new table applies from the next turn on.
	ProfilesChanged bool
	ChangedModes    []string

	// SpeechChanged is true if voice or chunking changed. It applies to the
	// next session.
	SpeechChanged bool

	// DefaultsChanged is true if the session defaults (mode, streaming,
	// history or recipe selection) changed. They apply to the next start.
	DefaultsChanged bool

	// RestartRequired lists sections whose changes are ignored until the
	// process restarts.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Profiles, keyed by mode name.
	keys := slices.Collect(maps.Keys(old.Generation.Profiles))
	for k := range new.Generation.Profiles {
		if _, ok := old.Generation.Profiles[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		o, okOld := old.Generation.Profiles[k]
		n, okNew := new.Generation.Profiles[k]
		if okOld != okNew || !reflect.DeepEqual(o, n) {
			d.ChangedModes = append(d.ChangedModes, k)
		}
	}
	d.ProfilesChanged = len(d.ChangedModes) > 0

	if !reflect.DeepEqual(old.Speech, new.Speech) {
		d.SpeechChanged = true
	}

	so, sn := old.Session, new.Session
	if so.Mode != sn.Mode || so.Streaming != sn.Streaming || !reflect.DeepEqual(so.UseHistory, sn.UseHistory) ||
		old.Recipe.Source != new.Recipe.Source || old.Recipe.Path != new.Recipe.Path ||
		old.Recipe.Text != new.Recipe.Text || old.Recipe.ID != new.Recipe.ID {
		d.DefaultsChanged = true
	}

	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if !reflect.DeepEqual(old.Audio, new.Audio) {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !reflect.DeepEqual(old.Wake, new.Wake) {
		d.RestartRequired = append(d.RestartRequired, "wake")
	}
	if so.MaxDuration != sn.MaxDuration || so.MaxSilence != sn.MaxSilence || so.CallTimeout != sn.CallTimeout ||
		so.RetryBackoff != sn.RetryBackoff || so.HistoryTokens != sn.HistoryTokens {
		d.RestartRequired = append(d.RestartRequired, "session limits")
	}
	if old.Recipe.PostgresDSN != new.Recipe.PostgresDSN || old.Recipe.Notion != new.Recipe.Notion {
		d.RestartRequired = append(d.RestartRequired, "recipe backends")
	}
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}

	return d
}
