// Package shopify is a small Storefront API client: products, collections,
// carts and customer accounts over GraphQL.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/00Mars/pet-pawket-sub000/internal/apperr"
	"github.com/00Mars/pet-pawket-sub000/internal/config"
	"github.com/00Mars/pet-pawket-sub000/internal/logger"
	"github.com/00Mars/pet-pawket-sub000/internal/metrics"
)

// gqlReq is the GraphQL request body.
type gqlReq struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlResp struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors"`
}

// GraphQLError is one entry of a response's top-level "errors" array.
type GraphQLError struct {
	Message    string         `json:"message"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (e GraphQLError) Error() string {
	return e.Message
}

// GraphQLErrors is returned, wrapped in an UPSTREAM_ERROR, when a response
// carries top-level errors.
type GraphQLErrors []GraphQLError

func (e GraphQLErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, ge := range e {
		msgs = append(msgs, ge.Message)
	}
	return "graphql: " + strings.Join(msgs, "; ")
}

// Code returns the first extensions.code, e.g. THROTTLED.
func (e GraphQLErrors) Code() string {
	for _, ge := range e {
		if code, ok := ge.Extensions["code"].(string); ok {
			return code
		}
	}
	return ""
}

// retryPolicy bounds retries of read-only queries on 429, 5xx and transport
// failures. Mutations are never retried.
type retryPolicy struct {
	attempts int
	base     time.Duration
	maxWait  time.Duration
}

// delay honours Retry-After when present, otherwise backs off exponentially.
func (p retryPolicy) delay(attempt int, retryAfter time.Duration) time.Duration {
	wait := retryAfter
	if wait <= 0 {
		wait = p.base << attempt
	}
	if wait > p.maxWait {
		wait = p.maxWait
	}
	return wait
}

// Client talks to one shop's Storefront API.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	retry    retryPolicy
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithEndpoint overrides the GraphQL URL derived from the shop domain.
func WithEndpoint(url string) Option {
	return func(c *Client) { c.endpoint = url }
}

// WithRetry sets the total attempts for queries and the first backoff step.
// attempts <= 1 disables retries.
func WithRetry(attempts int, base time.Duration) Option {
	return func(c *Client) {
		c.retry.attempts = max(attempts, 1)
		c.retry.base = base
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New builds a client for cfg. The endpoint is
// https://<domain>/api/<version>/graphql.json.
func New(cfg config.Shopify, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	domain := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(cfg.StoreDomain, "https://"), "http://"), "/")
	c := &Client{
		endpoint: fmt.Sprintf("https://%s/api/%s/graphql.json", domain, cfg.APIVersion),
		token:    cfg.StorefrontToken,
		http:     &http.Client{Timeout: timeout},
		retry:    retryPolicy{attempts: 3, base: 250 * time.Millisecond, maxWait: 5 * time.Second},
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do posts a GraphQL operation and decodes "data" into out. Transport
// failures, non-2xx statuses and top-level GraphQL errors are returned as
// UPSTREAM_ERROR. Queries are retried on 429, 5xx and transport failures.
func (c *Client) Do(ctx context.Context, operation, query string, vars map[string]any, out any) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.ObserveShopify(operation, err, time.Since(start))
		if err != nil {
			c.log.Warn("storefront api call failed", "operation", operation, "error", err, "duration", time.Since(start))
		}
	}()

	b, err := json.Marshal(gqlReq{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", operation, err)
	}

	retryable := strings.HasPrefix(strings.TrimSpace(query), "query")
	var res postResult
	for attempt := 0; ; attempt++ {
		res = c.post(ctx, b)
		if !retryable || attempt+1 >= c.retry.attempts || !res.retryable(ctx) {
			break
		}
		wait := c.retry.delay(attempt, res.retryAfter)
		c.log.Debug("retrying storefront api call", "operation", operation, "attempt", attempt+1, "wait", wait, "status", res.status)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return apperr.From(ctx.Err())
		case <-timer.C:
		}
	}

	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return apperr.Wrap(res.err, apperr.CodeTimeout, "storefront api timed out")
		}
		return apperr.Upstream(res.err, "storefront api unavailable")
	}
	if res.status >= 300 {
		return apperr.Upstream(fmt.Errorf("status %d: %s", res.status, truncate(string(res.body), 200)), "storefront api error")
	}

	var envelope gqlResp
	if err := json.Unmarshal(res.body, &envelope); err != nil {
		return apperr.Upstream(err, "storefront api returned malformed JSON")
	}
	if len(envelope.Errors) > 0 {
		return apperr.Upstream(GraphQLErrors(envelope.Errors), "storefront api error")
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return apperr.Upstream(err, "storefront api returned unexpected data")
	}
	return nil
}

type postResult struct {
	status     int
	body       []byte
	retryAfter time.Duration
	err        error
}

func (r postResult) retryable(ctx context.Context) bool {
	if r.err != nil {
		return ctx.Err() == nil
	}
	return r.status == http.StatusTooManyRequests || r.status >= 500
}

func (c *Client) post(ctx context.Context, body []byte) postResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return postResult{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Shopify-Storefront-Access-Token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return postResult{err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return postResult{err: err}
	}
	return postResult{status: resp.StatusCode, body: raw, retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
}

// parseRetryAfter reads the delay-seconds form of Retry-After.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || secs <= 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
