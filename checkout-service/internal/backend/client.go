package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nirvana9010/heya-pos/checkout-service/internal/cache"
	"github.com/nirvana9010/heya-pos/pkg/circuitbreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"
)

// TokenProvider supplies bearer tokens. *auth.TokenSource implements it.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context, stale string) (string, error)
}

type Config struct {
	BaseURL string
	// Timeout bounds each request through its context. Payment calls are bounded by the
	// caller's context instead.
	Timeout time.Duration
	// Retries applies to GETs only; mutations are never replayed blindly.
	Retries int
	Backoff time.Duration
	Breaker circuitbreaker.Config
	// HTTPClient overrides the instrumented default, e.g. in tests.
	HTTPClient *http.Client
}

func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL: baseURL,
		Timeout: 15 * time.Second,
		Retries: 2,
		Backoff: 200 * time.Millisecond,
		Breaker: circuitbreaker.DefaultConfig("backend"),
	}
}

type response struct {
	status int
	body   []byte
}

// Client is the one REST client for the POS backend. Retry, token refresh and caching
// policy live here and nowhere else.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	retries int
	backoff time.Duration
	breaker *circuitbreaker.Breaker[response]
	cache   cache.Cache
	tokens  TokenProvider
	sfg     singleflight.Group
	logger  *slog.Logger
}

func NewClient(cfg Config, c cache.Cache, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if c == nil {
		c = cache.NewMemoryCache()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig(cfg.BaseURL).Timeout
	}
	breakerCfg := cfg.Breaker
	if breakerCfg.Name == "" {
		breakerCfg = circuitbreaker.DefaultConfig("backend")
	}
	breakerCfg.Logger = logger

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		timeout: timeout,
		retries: cfg.Retries,
		backoff: cfg.Backoff,
		breaker: circuitbreaker.New[response](breakerCfg, countsAsSuccess),
		cache:   c,
		logger:  logger,
	}
}

// SetTokenProvider attaches the session's tokens. The token source itself refreshes
// through this client, so it cannot be passed to NewClient.
func (c *Client) SetTokenProvider(tp TokenProvider) {
	c.tokens = tp
}

// countsAsSuccess keeps client errors from tripping the breaker; only transport failures
// and 5xx mean the backend is unhealthy.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status < 500
}

type call struct {
	method string
	path   string
	body   any
	// cacheKey and ttl enable caching for GETs.
	cacheKey string
	ttl      time.Duration
	// invalidate lists cache prefixes dropped after a successful mutation.
	invalidate     []string
	idempotencyKey string
	anonymous      bool
	// callerDeadline leaves the deadline to the caller's context.
	callerDeadline bool
}

func (c *Client) send(ctx context.Context, cl call) ([]byte, error) {
	if cl.method != http.MethodGet {
		body, err := c.authorized(ctx, cl)
		if err != nil {
			return nil, err
		}
		c.invalidate(ctx, cl.invalidate...)
		return body, nil
	}

	if cl.cacheKey != "" {
		cached, err := c.cache.Get(ctx, cl.cacheKey)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.WarnContext(ctx, "cache read failed", "key", cl.cacheKey, "error", err.Error())
		}
	}

	// The shared call serves every caller joined on this path, so none of them can
	// cancel it; each caller still stops waiting when its own context ends.
	ch := c.sfg.DoChan(cl.path, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.sharedBudget())
		defer cancel()

		body, err := c.withRetry(shared, cl)
		if err != nil {
			return nil, err
		}
		if cl.cacheKey != "" && cl.ttl > 0 {
			if err := c.cache.Set(shared, cl.cacheKey, body, cl.ttl); err != nil {
				c.logger.WarnContext(shared, "cache write failed", "key", cl.cacheKey, "error", err.Error())
			}
		}
		return body, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s %s: %w", ErrNetwork, cl.method, cl.path, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// sharedBudget bounds a deduplicated GET: every attempt plus the backoff between them.
func (c *Client) sharedBudget() time.Duration {
	budget := time.Duration(c.retries+1) * c.timeout
	for i := 0; i < c.retries; i++ {
		budget += c.backoff << i
	}
	return budget
}

func (c *Client) withRetry(ctx context.Context, cl call) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		body, err := c.authorized(ctx, cl)
		if err == nil || attempt >= c.retries || !isRetryable(err) || circuitbreaker.IsOpen(err) || ctx.Err() != nil {
			return body, err
		}

		wait := c.backoff << attempt
		c.logger.DebugContext(ctx, "retrying backend call", "path", cl.path, "attempt", attempt+1, "wait", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %w", ErrNetwork, ctx.Err())
		case <-timer.C:
		}
	}
}

// authorized performs the call with a bearer token. A 401 forces one refresh and one
// replay; a second 401 is returned as is.
func (c *Client) authorized(ctx context.Context, cl call) ([]byte, error) {
	if cl.anonymous || c.tokens == nil {
		return c.roundTrip(ctx, cl, "")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	body, err := c.roundTrip(ctx, cl, token)

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		return body, err
	}

	fresh, rerr := c.tokens.ForceRefresh(ctx, token)
	if rerr != nil {
		c.logger.WarnContext(ctx, "token refresh after 401 failed", "error", rerr.Error())
		return nil, err
	}
	return c.roundTrip(ctx, cl, fresh)
}

func (c *Client) roundTrip(ctx context.Context, cl call, token string) ([]byte, error) {
	if !cl.callerDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var payload []byte
	if cl.body != nil {
		var err error
		if payload, err = json.Marshal(cl.body); err != nil {
			return nil, fmt.Errorf("marshal %s %s: %w", cl.method, cl.path, err)
		}
	}

	res, err := c.breaker.Execute(func() (response, error) {
		req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, bytes.NewReader(payload))
		if err != nil {
			return response{}, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if cl.idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", cl.idempotencyKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return response{}, fmt.Errorf("%w: %s %s: %w", ErrNetwork, cl.method, cl.path, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return response{}, fmt.Errorf("%w: read %s: %w", ErrNetwork, cl.path, err)
		}
		if resp.StatusCode >= 400 {
			return response{}, newAPIError(resp.StatusCode, body)
		}
		return response{status: resp.StatusCode, body: body}, nil
	})
	if circuitbreaker.IsOpen(err) {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	if err != nil {
		return nil, err
	}
	return res.body, nil
}

func (c *Client) invalidate(ctx context.Context, prefixes ...string) {
	for _, p := range prefixes {
		if err := c.cache.DeletePrefix(ctx, p); err != nil {
			c.logger.WarnContext(ctx, "cache invalidation failed", "prefix", p, "error", err.Error())
		}
	}
}
