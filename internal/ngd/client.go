// Package ngd is the request layer for the Ordnance Survey APIs: the NGD
// OGC-Features API, the Linked Identifiers API, the Places API and the public
// NGD documentation site.
//
// Every call goes through one [Client], which resolves a typed [Endpoint],
// attaches the API key, paces requests to the upstream's tolerated rate,
// retries transient failures, trips a circuit breaker when the upstream keeps
// failing, and strips the key from anything it hands back.
package ngd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/MrWong99/osngd/internal/observe"
	"github.com/MrWong99/osngd/internal/resilience"
)

const (
	DefaultNGDBaseURL    = "https://api.os.uk/features/ngd/ofa/v1"
	DefaultLinksBaseURL  = "https://api.os.uk/search/links/v1"
	DefaultPlacesBaseURL = "https://api.os.uk/search/places/v1"
	DefaultDocsBaseURL   = "https://docs.os.uk/osngd/data-structure/transport/transport-network"
	DefaultUserAgent     = "os-ngd-mcp-server/1.0"

	// maxErrorBody caps how much of an error response body is kept.
	maxErrorBody = 1000
)

// Config holds the upstream connection settings. Zero values get defaults in
// [New].
type Config struct {
	APIKey        string
	NGDBaseURL    string
	LinksBaseURL  string
	PlacesBaseURL string
	DocsBaseURL   string
	UserAgent     string

	// RequestDelay is the minimum gap between two outbound requests.
	// Default: 700ms.
	RequestDelay time.Duration

	// Timeout bounds a single attempt. Default: 30s.
	Timeout time.Duration

	// MaxRetries is the number of extra attempts after a transient failure.
	// Default: 2. A negative value disables retries.
	MaxRetries int

	// RetryBackoff is the fixed pause before a retry. Default: 700ms.
	RetryBackoff time.Duration

	// BreakerMaxFailures and BreakerResetTimeout tune the default circuit
	// breaker. Zero values use the breaker defaults.
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.NGDBaseURL == "" {
		c.NGDBaseURL = DefaultNGDBaseURL
	}
	if c.LinksBaseURL == "" {
		c.LinksBaseURL = DefaultLinksBaseURL
	}
	if c.PlacesBaseURL == "" {
		c.PlacesBaseURL = DefaultPlacesBaseURL
	}
	if c.DocsBaseURL == "" {
		c.DocsBaseURL = DefaultDocsBaseURL
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.RequestDelay == 0 {
		c.RequestDelay = 700 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 700 * time.Millisecond
	}
}

// Request is one upstream call.
type Request struct {
	Kind       Kind
	PathParams []string
	Query      url.Values
}

// Client talks to the OS APIs. It is safe for concurrent use; concurrent
// callers are serialised by the pacer.
type Client struct {
	cfg     Config
	http    *http.Client
	pace    *rate.Limiter
	breaker *resilience.CircuitBreaker
	metrics *observe.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the default single-connection HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMetrics records upstream metrics into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// New creates a [Client].
func New(cfg Config, opts ...Option) *Client {
	cfg.applyDefaults()
	c := &Client{
		cfg:   cfg,
		sleep: sleepCtx,
	}
	if cfg.RequestDelay > 0 {
		c.pace = rate.NewLimiter(rate.Every(cfg.RequestDelay), 1)
	} else {
		c.pace = rate.NewLimiter(rate.Inf, 1)
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxConnsPerHost:     1,
				MaxIdleConnsPerHost: 1,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.breaker == nil {
		m := c.metrics
		c.breaker = resilience.New(resilience.Config{
			Name:         "ngd",
			MaxFailures:  cfg.BreakerMaxFailures,
			ResetTimeout: cfg.BreakerResetTimeout,
			IsFailure:    countsAgainstBreaker,
			OnStateChange: func(name string, _, to resilience.State) {
				m.RecordBreakerTransition(context.Background(), name, to.String())
			},
		})
	}
	return c
}

// APIKey returns the configured key or [ErrMissingAPIKey].
func (c *Client) APIKey() (string, error) {
	if c.cfg.APIKey == "" {
		return "", ErrMissingAPIKey
	}
	return c.cfg.APIKey, nil
}

// Breaker exposes the circuit breaker for readiness checks.
func (c *Client) Breaker() *resilience.CircuitBreaker { return c.breaker }

// Get performs req and decodes the JSON object it returns. Every string in the
// result has been passed through [Sanitize].
func (c *Client) Get(ctx context.Context, req Request) (map[string]any, error) {
	body, err := c.fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("ngd: decode %s response: %w", req.Kind, err)
	}
	Sanitize(out)
	return out, nil
}

// GetText performs req and returns the body as text, sanitised.
func (c *Client) GetText(ctx context.Context, req Request) (string, error) {
	body, err := c.fetch(ctx, req)
	if err != nil {
		return "", err
	}
	return SanitizeString(string(body)), nil
}

// fetch runs the full request pipeline: resolve, pace, breaker, retry.
func (c *Client) fetch(ctx context.Context, req Request) ([]byte, error) {
	ep, err := Lookup(req.Kind)
	if err != nil {
		return nil, err
	}
	target, err := ep.resolve(c.base(ep.Base), req.PathParams)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	for k, vs := range req.Query {
		q[k] = append([]string(nil), vs...)
	}
	if !ep.Public {
		key, err := c.APIKey()
		if err != nil {
			return nil, err
		}
		q.Set("key", key)
	}
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	ctx, span := observe.StartSpan(ctx, "ngd."+ep.Name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("ngd.endpoint", ep.Name)),
	)
	defer span.End()
	if tool := observe.Tool(ctx); tool != "" {
		span.SetAttributes(attribute.String("mcp.tool", tool))
	}

	var body []byte
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.metrics.RecordRetry(ctx, ep.Name)
			observe.Logger(ctx).Warn("ngd: retrying upstream request",
				"endpoint", ep.Name, "attempt", attempt, "err", SanitizeString(lastErr.Error()))
			if err := c.sleep(ctx, c.cfg.RetryBackoff); err != nil {
				lastErr = err
				break
			}
		}

		lastErr = c.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			body, err = c.do(ctx, ep, target)
			return err
		})
		if lastErr == nil || !retryable(lastErr) {
			break
		}
	}

	if lastErr != nil {
		span.RecordError(errors.New(SanitizeString(lastErr.Error())))
		span.SetStatus(codes.Error, "upstream request failed")
		return nil, lastErr
	}
	return body, nil
}

// do performs exactly one paced attempt.
func (c *Client) do(ctx context.Context, ep Endpoint, target string) ([]byte, error) {
	if err := c.pace.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("ngd: build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	if ep.Public {
		httpReq.Header.Set("Accept", "text/markdown, text/plain, */*")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.metrics.RecordUpstream(ctx, ep.Name, "error", time.Since(start))
		return nil, &TransportError{Endpoint: ep.Name, Err: scrubURLError(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	c.metrics.RecordUpstream(ctx, ep.Name, strconv.Itoa(resp.StatusCode), time.Since(start))
	if err != nil {
		return nil, &TransportError{Endpoint: ep.Name, Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		text := SanitizeString(string(body))
		text = truncate(text, maxErrorBody)
		return nil, &StatusError{Code: resp.StatusCode, Body: text}
	}

	slog.Debug("ngd: upstream response", "endpoint", ep.Name, "status", resp.StatusCode, "bytes", len(body))
	return body, nil
}

func (c *Client) base(b Base) string {
	switch b {
	case BaseLinks:
		return c.cfg.LinksBaseURL
	case BasePlaces:
		return c.cfg.PlacesBaseURL
	case BaseDocs:
		return c.cfg.DocsBaseURL
	default:
		return c.cfg.NGDBaseURL
	}
}

// scrubURLError removes the API key from a *url.Error, which embeds the full
// request URL in its message.
func scrubURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return &url.Error{Op: ue.Op, URL: SanitizeString(ue.URL), Err: ue.Err}
	}
	return err
}

// retryable reports whether err is a transient failure worth another attempt.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= http.StatusInternalServerError
	}
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// countsAgainstBreaker treats transport failures and 5xx responses as upstream
// faults. Client errors and cancellations do not trip the breaker.
func countsAgainstBreaker(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= http.StatusInternalServerError
	}
	return true
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
