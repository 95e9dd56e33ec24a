package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are applied; the rest are
// listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	TokensChanged bool
	NewTokens     []string

	RateLimitChanged bool
	NewRateLimit     int

	// RestartRequired names changed settings that only take effect after a
	// restart (e.g. "server.listen_addr").
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.TokensChanged && !d.RateLimitChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if !slices.Equal(old.Auth.BearerTokens, new.Auth.BearerTokens) {
		d.TokensChanged = true
		d.NewTokens = slices.Clone(new.Auth.BearerTokens)
	}
	if old.RateLimit.RequestsPerMinute != new.RateLimit.RequestsPerMinute {
		d.RateLimitChanged = true
		d.NewRateLimit = new.RateLimit.RequestsPerMinute
	}

	restart := func(name string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, name)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.transport", old.Server.Transport != new.Server.Transport)
	restart("server.allowed_origins", !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins))
	restart("server.tls", !equalTLS(old.Server.TLS, new.Server.TLS))
	restart("upstream", old.Upstream != new.Upstream)
	restart("auth.stdio_key", old.Auth.StdioKey != new.Auth.StdioKey)
	restart("rest", old.REST.ListenAddr != new.REST.ListenAddr || old.REST.MCPURL != new.REST.MCPURL ||
		!slices.Equal(old.REST.CORSOrigins, new.REST.CORSOrigins))

	return d
}

func equalTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
