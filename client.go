// Copyright 2025 The octopus-usage-exporter Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// API endpoints
var octopusEndpoints = map[string]string{
	"graphql": "https://api.octopus.energy/v1/graphql/",
}

// Helper function to get endpoint URLs
func getEndpoint(key string) string {
	if url, exists := octopusEndpoints[key]; exists {
		return url
	}
	return octopusEndpoints["graphql"]
}

// AuthClient exchanges an API key for a short-lived bearer token
type AuthClient interface {
	ObtainToken(ctx context.Context, apiKey string) (string, error)
}

// DataClient executes a GraphQL query and returns the "data" member of the response
type DataClient interface {
	Execute(ctx context.Context, query string, variables map[string]interface{}) (json.RawMessage, error)
}

// APIMetrics tracks API call volume and rate limiting
type APIMetrics struct {
	TotalRequests   atomic.Int64 // Total number of API requests
	FailedRequests  atomic.Int64 // Requests that ended in an error after retries
	Retries         atomic.Int64 // Number of retried attempts
	RateLimitSleeps atomic.Int64 // Number of times rate limiting was triggered
	sleepNanos      atomic.Int64 // Total time spent sleeping due to rate limits
}

// NewAPIMetrics creates a new metrics tracker
func NewAPIMetrics() *APIMetrics {
	return &APIMetrics{}
}

// TotalSleepSeconds is the time spent waiting between requests
func (m *APIMetrics) TotalSleepSeconds() float64 {
	return time.Duration(m.sleepNanos.Load()).Seconds()
}

type GraphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message    string `json:"message"`
		Extensions struct {
			ErrorCode string `json:"errorCode"`
		} `json:"extensions"`
	} `json:"errors"`
}

// OctopusClient is the raw GraphQL transport with its own retry and pacing policy
type OctopusClient struct {
	Endpoint   string
	client     *http.Client
	newBackOff func() backoff.BackOff
	limiter    *rate.Limiter
	clock      Clock
	maxRetries int
	debug      bool
	logger     *Logger
	metrics    *APIMetrics
}

func NewOctopusClient(logger *Logger, debug bool) *OctopusClient {
	return &OctopusClient{
		Endpoint:   getEndpoint("graphql"),
		newBackOff: newRetryBackOff,
		limiter:    rate.NewLimiter(rate.Every(HTTPMinInterval), 1),
		clock:      SystemClock,
		maxRetries: HTTPMaxRetries,
		debug:      debug,
		logger:     logger.WithComponent("octopus_client"),
		metrics:    NewAPIMetrics(),
		client: &http.Client{
			Timeout: HTTPClientTimeout,
		},
	}
}

// Metrics exposes the request counters
func (c *OctopusClient) Metrics() *APIMetrics {
	return c.metrics
}

// ObtainToken runs the obtainKrakenToken mutation; it needs no bearer token itself
func (c *OctopusClient) ObtainToken(ctx context.Context, apiKey string) (string, error) {
	query := `mutation ObtainKrakenToken($input: ObtainJSONWebTokenInput!) {
		obtainKrakenToken(input: $input) {
			token
		}
	}`
	variables := map[string]interface{}{
		"input": map[string]interface{}{
			"APIKey": apiKey,
		},
	}

	data, err := c.Do(ctx, query, variables, "")
	if err != nil {
		authErr := &AuthError{Message: "token request failed", Err: err}
		var gqlErr *GraphQLError
		if errors.As(err, &gqlErr) {
			authErr.Code = gqlErr.Code
		}
		return "", authErr
	}

	var result struct {
		ObtainKrakenToken struct {
			Token string `json:"token"`
		} `json:"obtainKrakenToken"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", &AuthError{Message: "failed to decode token response", Err: err}
	}
	if result.ObtainKrakenToken.Token == "" {
		return "", &AuthError{Message: "empty token received"}
	}
	return result.ObtainKrakenToken.Token, nil
}

// Do posts one GraphQL query, retrying transport failures, 429/5xx and rate-limit errors with backoff
func (c *OctopusClient) Do(ctx context.Context, query string, variables map[string]interface{}, token string) (json.RawMessage, error) {
	body, err := json.Marshal(GraphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	attempt := 0
	operation := func() (json.RawMessage, error) {
		attempt++
		data, resp, err := c.send(ctx, body, token)
		if err != nil {
			return nil, classifyAttempt(err, resp)
		}
		return data, nil
	}

	data, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.metrics.Retries.Add(1)
			c.logger.Warnw("Request failed, retrying",
				"attempt", attempt,
				"max_attempts", c.maxRetries+1,
				"backoff_ms", next.Milliseconds(),
				"error", err.Error(),
			)
		}),
	)
	if err != nil {
		c.metrics.FailedRequests.Add(1)
		// A rejected token is recovered by the caller, not reported
		if !errors.Is(err, ErrTokenExpired) {
			c.logger.LogAPIError(err, c.Endpoint)
		}
		return nil, err
	}
	return data, nil
}

func (c *OctopusClient) send(ctx context.Context, body []byte, token string) (json.RawMessage, *http.Response, error) {
	if err := c.enforceRateLimit(ctx); err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", GetUserAgent())
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	c.debugLogRequest(req, body)

	startTime := time.Now()
	resp, err := c.client.Do(req)
	duration := time.Since(startTime).Seconds()
	c.metrics.TotalRequests.Add(1)
	if err != nil {
		return nil, nil, NewAPIError(0, c.Endpoint, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp, NewAPIError(0, c.Endpoint, "failed to read response", err)
	}

	c.logger.LogAPIRequest(http.MethodPost, c.Endpoint, resp.StatusCode, duration)
	c.debugLogResponse(resp, raw, duration)

	if isAuthStatus(resp.StatusCode) {
		return nil, resp, NewAPIError(resp.StatusCode, c.Endpoint, "token rejected", ErrTokenExpired)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp, NewAPIError(resp.StatusCode, c.Endpoint, resp.Status, nil)
	}

	var result graphQLResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, resp, fmt.Errorf("failed to decode GraphQL response: %w", err)
	}
	if len(result.Errors) > 0 {
		first := result.Errors[0]
		return nil, resp, &GraphQLError{Code: first.Extensions.ErrorCode, Message: first.Message}
	}
	return result.Data, resp, nil
}

// enforceRateLimit waits for the limiter's next slot so requests stay HTTPMinInterval apart
func (c *OctopusClient) enforceRateLimit(ctx context.Context) error {
	reservation := c.limiter.Reserve()
	sleep := reservation.Delay()
	if sleep <= 0 {
		return nil
	}

	c.logger.Debugw("Rate limiting", "sleep_ms", sleep.Milliseconds())
	c.metrics.RateLimitSleeps.Add(1)
	c.metrics.sleepNanos.Add(int64(sleep))

	if !c.clock.Sleep(ctx, sleep) {
		reservation.Cancel()
		return fmt.Errorf("rate limit wait aborted: %w", ctx.Err())
	}
	return nil
}

// debugLogRequest logs detailed request information in debug mode
func (c *OctopusClient) debugLogRequest(req *http.Request, body []byte) {
	if !c.debug {
		return
	}

	maskedHeaders := make(map[string]string)
	for key, values := range req.Header {
		if len(values) == 0 {
			continue
		}
		if key == "Authorization" {
			maskedHeaders[key] = maskSecret(values[0])
		} else {
			maskedHeaders[key] = values[0]
		}
	}

	c.logger.Debugw("→ HTTP Request",
		"method", req.Method,
		"url", req.URL.String(),
		"headers", maskedHeaders,
		"body", truncate(string(body), 500),
	)
}

// debugLogResponse logs detailed response information in debug mode
func (c *OctopusClient) debugLogResponse(resp *http.Response, body []byte, duration float64) {
	if !c.debug {
		return
	}

	c.logger.Debugw("← HTTP Response",
		"status", resp.StatusCode,
		"duration_ms", duration*1000,
		"content_type", resp.Header.Get("Content-Type"),
		"body", truncate(string(body), 500),
	)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "... (truncated)"
	}
	return s
}

// TokenSource hands out valid bearer tokens and accepts reports of rejected ones
type TokenSource interface {
	EnsureValid(ctx context.Context) (Token, error)
	Invalidate(rejected Token)
}

// AuthenticatedClient executes queries with a bearer token from a TokenSource
type AuthenticatedClient struct {
	transport *OctopusClient
	tokens    TokenSource
	logger    *Logger
}

func NewAuthenticatedClient(transport *OctopusClient, tokens TokenSource, logger *Logger) *AuthenticatedClient {
	return &AuthenticatedClient{
		transport: transport,
		tokens:    tokens,
		logger:    logger.WithComponent("graphql"),
	}
}

// Execute runs a query, refreshing the token and retrying once if the API rejects it
func (a *AuthenticatedClient) Execute(ctx context.Context, query string, variables map[string]interface{}) (json.RawMessage, error) {
	token, err := a.tokens.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}

	data, err := a.transport.Do(ctx, query, variables, token.Value)
	if err == nil || !errors.Is(err, ErrTokenExpired) {
		return data, err
	}

	a.logger.Infow("Token rejected by API, refreshing and retrying", "error", err.Error())
	a.tokens.Invalidate(token)
	token, err = a.tokens.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}
	return a.transport.Do(ctx, query, variables, token.Value)
}
