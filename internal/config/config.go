// Package config provides the configuration schema, loader, and hot-reload
// watcher for the osngd server and its REST companion.
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

// Transport selects how the MCP server is exposed.
type Transport string

const (
	// TransportStdio serves a single MCP session over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP serves MCP over streamable HTTP at /mcp.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	REST      RESTConfig      `yaml:"rest"`
}

// ServerConfig holds network and logging settings for the MCP server.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP transport. Default ":8000".
	ListenAddr string `yaml:"listen_addr"`

	// Transport is "stdio" or "streamable-http". Default "streamable-http".
	Transport Transport `yaml:"transport"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins extends the localhost origins accepted by the HTTP
	// transport.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// UpstreamConfig configures the OS API client. Zero values fall back to the
// client defaults.
type UpstreamConfig struct {
	// APIKey is the OS Data Hub key. Usually supplied through OS_API_KEY.
	APIKey string `yaml:"api_key"`

	NGDBaseURL    string `yaml:"ngd_base_url"`
	LinksBaseURL  string `yaml:"links_base_url"`
	PlacesBaseURL string `yaml:"places_base_url"`
	DocsBaseURL   string `yaml:"docs_base_url"`

	RequestDelay time.Duration `yaml:"request_delay"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the upstream circuit breaker.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// AuthConfig holds the credentials callers must present.
type AuthConfig struct {
	// BearerTokens are accepted on the HTTP transport and the REST companion.
	// Hot-reloadable. BEARER_TOKENS (comma separated) replaces the list.
	BearerTokens []string `yaml:"bearer_tokens"`

	// StdioKey must be non-empty for the stdio transport to start.
	StdioKey string `yaml:"stdio_key"`
}

// RateLimitConfig configures the per-client tool call ceiling.
type RateLimitConfig struct {
	// RequestsPerMinute is the ceiling per client. Default 10; a negative
	// value disables limiting. Hot-reloadable.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// RESTConfig configures the REST companion process.
type RESTConfig struct {
	// ListenAddr defaults to ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// MCPURL is the streamable HTTP endpoint of the MCP server.
	// Default "http://localhost:8000/mcp".
	MCPURL string `yaml:"mcp_url"`

	// CORSOrigins lists browser origins allowed to call the REST API.
	CORSOrigins []string `yaml:"cors_origins"`
}

// Defaults.
const (
	DefaultListenAddr        = ":8000"
	DefaultRESTListenAddr    = ":8080"
	DefaultMCPURL            = "http://localhost:8000/mcp"
	DefaultRequestsPerMinute = 10
)

// ApplyDefaults fills unset fields with their default values.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.Transport == "" {
		cfg.Server.Transport = TransportStreamableHTTP
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if cfg.REST.ListenAddr == "" {
		cfg.REST.ListenAddr = DefaultRESTListenAddr
	}
	if cfg.REST.MCPURL == "" {
		cfg.REST.MCPURL = DefaultMCPURL
	}
}
