// Package graphql provides the GraphQL-over-HTTP transport for the search
// API with rate limiting, caching, and error classification.
package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/search-harvester/pkg/cache"
	"github.com/Sternrassler/search-harvester/pkg/ratelimit"
	"github.com/Sternrassler/search-harvester/pkg/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for GraphQL client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_graphql_requests_total",
		Help: "Total GraphQL requests by status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvester_graphql_request_duration_seconds",
		Help:    "GraphQL request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_graphql_errors_total",
		Help: "Total GraphQL errors by class",
	}, []string{"class"})
)

// DefaultEndpoint is the public GraphQL endpoint of the search API.
const DefaultEndpoint = "https://api.github.com/graphql"

// Error type reported in the errors member when the primary quota is spent.
const errorTypeRateLimited = "RATE_LIMITED"

// Client is a task.Transport backed by a GraphQL endpoint.
type Client struct {
	httpClient  *http.Client
	rateLimiter *ratelimit.Tracker
	cache       *cache.Store
	config      Config
	logger      zerolog.Logger
}

var _ task.Transport = (*Client)(nil)

// Config holds the client configuration.
type Config struct {
	// Redis client for caching and shared rate limit state. Optional.
	Redis *redis.Client

	// Endpoint is the GraphQL URL.
	Endpoint string

	// Token is sent as a bearer token when set.
	Token string

	// User-Agent header
	UserAgent string

	// RequestTimeout bounds one HTTP round trip.
	RequestTimeout time.Duration

	// RateLimitStopPercent refuses requests once the remaining quota is
	// below this share of the limit.
	RateLimitStopPercent int

	// CacheTTL is the lifetime of cached responses. Zero disables caching.
	CacheTTL time.Duration

	// Retry applies to network errors only.
	Retry RetryConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(redis *redis.Client, token string) Config {
	return Config{
		Redis:                redis,
		Endpoint:             DefaultEndpoint,
		Token:                token,
		UserAgent:            "search-harvester/1.0",
		RequestTimeout:       60 * time.Second,
		RateLimitStopPercent: ratelimit.DefaultStopPercent,
		CacheTTL:             0,
		Retry:                DefaultRetryConfig(),
	}
}

// New creates a new GraphQL client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.RateLimitStopPercent < 0 || cfg.RateLimitStopPercent > 100 {
		return nil, fmt.Errorf("rate_limit_stop_percent must be between 0 and 100 (got %d)", cfg.RateLimitStopPercent)
	}

	if cfg.CacheTTL > 0 && cfg.Redis == nil {
		return nil, fmt.Errorf("response cache requires a redis client")
	}

	logger = logger.With().Str("component", "graphql-client").Logger()

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		rateLimiter: ratelimit.NewTracker(cfg.Redis, logger, cfg.RateLimitStopPercent),
		config:      cfg,
		logger:      logger,
	}
	if cfg.CacheTTL > 0 {
		c.cache = cache.NewStore(cfg.Redis)
	}
	return c, nil
}

type requestBody struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type responseBody struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors"`
}

// Query implements task.Transport. It sends one query, decodes the data
// member into out and updates the rate limit state.
//
// A response carrying both data and errors decodes the data and returns a
// *ResponseError with Partial set.
func (c *Client) Query(ctx context.Context, query string, variables map[string]any, out any) error {
	startTime := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: Check Rate Limit
	allowed, err := c.rateLimiter.ShouldAllowRequest(ctx)
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		requestsTotal.WithLabelValues("rate_limited").Inc()
		errorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
		return &Error{
			ErrorClass: ErrorClassRateLimit,
			Message:    "request blocked below the quota stop threshold",
			Err:        task.ErrPrimaryRateLimit,
		}
	}

	// Step 2: Check Cache
	cacheKey := cache.Key{Endpoint: c.config.Endpoint, Query: query, Variables: variables}
	if c.cache != nil {
		data, err := c.cache.Lookup(ctx, cacheKey)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, out); err == nil {
				requestsTotal.WithLabelValues("cached").Inc()
				c.logger.Debug().Msg("Serving response from cache")
				return nil
			}
			c.logger.Warn().Msg("Cached response does not decode, querying")
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Msg("Cache get error")
		}
	}

	payload, err := json.Marshal(requestBody{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	// Step 3: Execute HTTP Request with Retry Logic
	var body []byte
	retryErr := retryWithBackoff(ctx, c.logger, c.config.Retry, func() error {
		var reqErr error
		body, reqErr = c.do(ctx, payload)
		return reqErr
	})
	if retryErr != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("query: %w", ctx.Err())
		}
		return retryErr
	}

	// Step 4: Decode envelope
	var resp responseBody
	if err := json.Unmarshal(body, &resp); err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassServer)).Inc()
		return &Error{StatusCode: http.StatusOK, ErrorClass: ErrorClassServer, Message: "undecodable response", Err: err}
	}

	hasData := len(resp.Data) > 0 && !bytes.Equal(resp.Data, []byte("null"))
	if hasData {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
		if r, ok := out.(task.Result); ok {
			if err := c.rateLimiter.UpdateFromRateLimit(ctx, r.GetRateLimit()); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to update rate limit from result")
			}
		}
	}

	if len(resp.Errors) > 0 {
		for _, ge := range resp.Errors {
			if ge.Type == errorTypeRateLimited {
				errorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
				return &Error{
					StatusCode: http.StatusOK,
					ErrorClass: ErrorClassRateLimit,
					Message:    ge.Message,
					Err:        task.ErrPrimaryRateLimit,
				}
			}
		}
		requestsTotal.WithLabelValues("graphql_error").Inc()
		c.logger.Debug().
			Int("errors", len(resp.Errors)).
			Bool("partial", hasData).
			Msg("Response carries GraphQL errors")
		return &ResponseError{Errors: resp.Errors, Partial: hasData}
	}

	if !hasData {
		return ErrEmptyResponse
	}

	// Step 5: Update Cache on success
	if c.cache != nil {
		if err := c.cache.Save(ctx, cacheKey, resp.Data, c.config.CacheTTL); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache response")
		}
	}
	return nil
}

// do performs one HTTP round trip and returns the body of a 200 response.
func (c *Client) do(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn().Err(err).Msg("HTTP request failed")
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues("network_error").Inc()
		return nil, &Error{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if err := c.rateLimiter.UpdateFromHeaders(ctx, resp.Header); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues("network_error").Inc()
		return nil, &Error{StatusCode: resp.StatusCode, ErrorClass: ErrorClassNetwork, Message: "read body", Err: err}
	}

	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	if resp.StatusCode == http.StatusOK {
		return body, nil
	}

	httpErr := c.classifyError(resp, body)
	errorsTotal.WithLabelValues(string(httpErr.ErrorClass)).Inc()
	c.logger.Warn().
		Int("status", resp.StatusCode).
		Str("error_class", string(httpErr.ErrorClass)).
		Msg("GraphQL request error")
	return nil, httpErr
}

// classifyError categorizes a non-200 response. Secondary limits are
// recognized by their message or a Retry-After header; a 403 or 429 with
// no remaining quota is the primary limit.
func (c *Client) classifyError(resp *http.Response, body []byte) *Error {
	e := &Error{StatusCode: resp.StatusCode, Message: errorMessage(resp, body)}

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		lower := strings.ToLower(string(body))
		switch {
		case strings.Contains(lower, "secondary rate limit") || strings.Contains(lower, "abuse") || resp.Header.Get("Retry-After") != "":
			e.ErrorClass = ErrorClassSecondaryRateLimit
			e.Err = task.ErrSecondaryRateLimit
		case resp.Header.Get(ratelimit.HeaderRemaining) == "0":
			e.ErrorClass = ErrorClassRateLimit
			e.Err = task.ErrPrimaryRateLimit
		default:
			e.ErrorClass = ErrorClassClient
		}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		e.ErrorClass = ErrorClassClient
	default:
		e.ErrorClass = ErrorClassServer
	}

	c.logger.Debug().Str("class", string(e.ErrorClass)).Msg("Error classified")
	return e
}

func errorMessage(resp *http.Response, body []byte) string {
	var msg struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &msg); err == nil && msg.Message != "" {
		return msg.Message
	}
	return resp.Status
}

// RateLimiter returns the rate limit tracker.
func (c *Client) RateLimiter() *ratelimit.Tracker {
	return c.rateLimiter
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
