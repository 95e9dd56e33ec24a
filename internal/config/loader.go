package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables that override the YAML file.
const (
	EnvAPIKey       = "OS_API_KEY"
	EnvBearerTokens = "BEARER_TOKENS"
	EnvStdioKey     = "STDIO_KEY"
	EnvRateLimit    = "RATE_LIMIT_PER_MINUTE"
)

// LookupFunc reads an environment variable. [os.LookupEnv] satisfies it.
type LookupFunc func(key string) (string, bool)

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and returns a validated [Config]. An empty path
// yields a config built from the environment and defaults alone.
func Load(path string) (*Config, error) {
	if path == "" {
		return load(strings.NewReader(""), os.LookupEnv)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := load(f, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. The environment is not consulted.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	return load(r, nil)
}

func load(r io.Reader, lookup LookupFunc) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if lookup != nil {
		if err := ApplyEnv(cfg, lookup); err != nil {
			return nil, err
		}
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the variables returned by lookup.
// BEARER_TOKENS is a comma separated list; blank entries are dropped.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if v, ok := lookup(EnvAPIKey); ok && v != "" {
		cfg.Upstream.APIKey = v
	}
	if v, ok := lookup(EnvBearerTokens); ok {
		cfg.Auth.BearerTokens = SplitList(v)
	}
	if v, ok := lookup(EnvStdioKey); ok && v != "" {
		cfg.Auth.StdioKey = v
	}
	if v, ok := lookup(EnvRateLimit); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvRateLimit, err)
		}
		cfg.RateLimit.RequestsPerMinute = n
	}
	return nil
}

// SplitList splits a comma separated list, trimming blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.Transport != "" && !cfg.Server.Transport.IsValid() {
		errs = append(errs, fmt.Errorf("server.transport %q is invalid; valid values: stdio, streamable-http", cfg.Server.Transport))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Auth
	switch cfg.Server.Transport {
	case TransportStdio:
		if cfg.Auth.StdioKey == "" {
			errs = append(errs, fmt.Errorf("auth.stdio_key is required for the stdio transport (or set %s)", EnvStdioKey))
		}
	case TransportStreamableHTTP:
		if len(cfg.Auth.BearerTokens) == 0 {
			errs = append(errs, fmt.Errorf("auth.bearer_tokens is required for the streamable-http transport (or set %s)", EnvBearerTokens))
		}
	}
	for i, tok := range cfg.Auth.BearerTokens {
		if strings.TrimSpace(tok) == "" {
			errs = append(errs, fmt.Errorf("auth.bearer_tokens[%d] is empty", i))
		}
	}

	// Upstream
	for name, raw := range map[string]string{
		"upstream.ngd_base_url":    cfg.Upstream.NGDBaseURL,
		"upstream.links_base_url":  cfg.Upstream.LinksBaseURL,
		"upstream.places_base_url": cfg.Upstream.PlacesBaseURL,
		"upstream.docs_base_url":   cfg.Upstream.DocsBaseURL,
		"rest.mcp_url":             cfg.REST.MCPURL,
	} {
		if raw == "" {
			continue
		}
		if err := checkURL(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if cfg.Upstream.MaxRetries < -1 {
		errs = append(errs, fmt.Errorf("upstream.max_retries %d is invalid; use -1 to disable retries", cfg.Upstream.MaxRetries))
	}
	if cfg.Upstream.RequestDelay < 0 || cfg.Upstream.Timeout < 0 || cfg.Upstream.RetryBackoff < 0 || cfg.Upstream.Breaker.ResetTimeout < 0 {
		errs = append(errs, errors.New("upstream durations must not be negative"))
	}
	if cfg.Upstream.APIKey == "" {
		slog.Warn("no OS API key configured; upstream tools will fail with AUTH_REQUIRED", "env", EnvAPIKey)
	}

	return errors.Join(errs...)
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must be an absolute http(s) URL", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}
