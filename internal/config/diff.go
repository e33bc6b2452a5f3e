package config

import "maps"

// ConfigDiff describes what changed between two configs. Only the log level
// and the TTS voice table can be hot-reloaded; everything else requires a
// restart and is reported so the watcher callback can log it.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VoicesChanged   bool
	NewDefaultVoice string
	NewVoiceAliases map[string]string

	// RequiresRestart is set when providers, pipeline tunables, upstream
	// policy, or server settings other than the log level changed.
	RequiresRestart bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.TTSCache.DefaultVoice != new.TTSCache.DefaultVoice ||
		!maps.Equal(old.TTSCache.VoiceAliases, new.TTSCache.VoiceAliases) {
		d.VoicesChanged = true
		d.NewDefaultVoice = new.TTSCache.DefaultVoice
		d.NewVoiceAliases = new.TTSCache.VoiceAliases
	}

	oldRest, newRest := *old, *new
	neutralize(&oldRest)
	neutralize(&newRest)
	if !equalStatic(&oldRest, &newRest) {
		d.RequiresRestart = true
	}

	return d
}

// neutralize blanks the hot-reloadable fields so the remaining comparison
// covers only restart-required settings.
func neutralize(c *Config) {
	c.Server.LogLevel = ""
	c.TTSCache.DefaultVoice = ""
	c.TTSCache.VoiceAliases = nil
}

// equalStatic compares the restart-required portion of two configs.
// ProviderEntry.Options maps make Config incomparable with ==, so each
// section is checked explicitly.
func equalStatic(a, b *Config) bool {
	if a.Server.ListenAddr != b.Server.ListenAddr ||
		a.Server.MaxUploadBytes != b.Server.MaxUploadBytes {
		return false
	}
	if (a.Server.TLS == nil) != (b.Server.TLS == nil) {
		return false
	}
	if a.Server.TLS != nil && *a.Server.TLS != *b.Server.TLS {
		return false
	}
	if !equalEntry(a.Providers.STT, b.Providers.STT) ||
		!equalEntry(a.Providers.LLM, b.Providers.LLM) ||
		!equalEntry(a.Providers.TTS, b.Providers.TTS) {
		return false
	}
	if a.Pipeline != b.Pipeline || a.Upstream != b.Upstream {
		return false
	}
	return a.TTSCache.Dir == b.TTSCache.Dir
}

func equalEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		if bv, ok := b.Options[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
