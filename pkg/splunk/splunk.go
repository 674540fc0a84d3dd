// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

// Package splunk executes validated queries against a Splunk search head.
//
// The client enforces the execution limits the policy resolved for the
// caller: per-minute rate limiting, a concurrency ceiling, and a timeout
// per search. Queries reach this package only after validation; the client
// applies limits but never inspects query content.
package splunk

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	guarderr "github.com/queryguard/queryguard/pkg/errors"
	"github.com/queryguard/queryguard/pkg/validate"
)

// Record is one search result row.
type Record = map[string]any

// Executor runs a validated query and returns its result records.
type Executor interface {
	Execute(ctx context.Context, query string, meta validate.ExecutionMetadata) ([]Record, error)
}

// Client talks to the Splunk REST API using oneshot searches.
type Client struct {
	baseURL  string
	username string
	password string
	token    string

	httpClient *http.Client
	limiter    *rate.Limiter
	sem        *semaphore.Weighted
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBasicAuth authenticates with username and password.
func WithBasicAuth(username, password string) ClientOption {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithToken authenticates with a bearer token.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithSearchesPerMinute caps the search rate. Zero means unlimited.
func WithSearchesPerMinute(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
		}
	}
}

// WithMaxConcurrent caps in-flight searches. Zero means unlimited.
func WithMaxConcurrent(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
func WithInsecureSkipVerify() ClientOption {
	return func(c *Client) {
		c.httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a client for the Splunk management endpoint, e.g.
// "https://splunk.example.com:8089".
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// oneshotResponse is the subset of the search response the engine consumes.
type oneshotResponse struct {
	Results  []Record `json:"results"`
	Messages []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"messages"`
}

// Execute runs query as a oneshot search bounded by meta. The query must
// have passed validation; meta carries the policy's execution limits.
func (c *Client) Execute(ctx context.Context, query string, meta validate.ExecutionMetadata) ([]Record, error) {
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return nil, guarderr.New(guarderr.CodeExec, "waiting for search slot", err)
		}
		defer c.sem.Release(1)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, guarderr.New(guarderr.CodeRateLimit, "search rate limit", err)
		}
	}

	if meta.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, meta.Timeout)
		defer cancel()
	}

	form := url.Values{
		"search":      {splQuery(query)},
		"output_mode": {"json"},
		"exec_mode":   {"oneshot"},
	}
	if meta.MaxResults > 0 {
		form.Set("count", strconv.Itoa(meta.MaxResults))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/services/search/jobs", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, guarderr.New(guarderr.CodeExec, "building search request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, guarderr.New(guarderr.CodeTimeout,
				fmt.Sprintf("search exceeded %s timeout", meta.Timeout), err)
		}
		return nil, guarderr.New(guarderr.CodeExec, "search request failed", err).
			WithRecoverable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, guarderr.New(guarderr.CodeExec,
			fmt.Sprintf("search returned status %d", resp.StatusCode), nil).
			WithContext("status", resp.StatusCode).
			WithRecoverable(resp.StatusCode >= http.StatusInternalServerError)
	}

	var body oneshotResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, guarderr.New(guarderr.CodeExec, "decoding search response", err)
	}
	for _, msg := range body.Messages {
		if msg.Type == "FATAL" || msg.Type == "ERROR" {
			return nil, guarderr.New(guarderr.CodeExec, "search failed: "+msg.Text, nil)
		}
	}

	results := body.Results
	if meta.MaxResults > 0 && len(results) > meta.MaxResults {
		results = results[:meta.MaxResults]
	}
	return results, nil
}

// Ping verifies connectivity to the search head.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/services/server/info?output_mode=json", nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return guarderr.New(guarderr.CodeExec, "search head unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return guarderr.New(guarderr.CodeExec,
			fmt.Sprintf("search head returned status %d", resp.StatusCode), nil)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
		return
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
}

// splQuery prefixes plain queries with "search"; the oneshot API requires
// it. Queries already starting with "search" or a generating command ("|")
// pass through.
func splQuery(query string) string {
	trimmed := strings.TrimSpace(query)
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "search ") || lower == "search" || strings.HasPrefix(trimmed, "|") {
		return trimmed
	}
	return "search " + trimmed
}
