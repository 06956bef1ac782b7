// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package vonage is a small client for the Voice API calls endpoint.
package vonage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	xglog "github.com/ManuGH/pstnbridge/internal/log"
	"github.com/ManuGH/pstnbridge/internal/platform/httpx"
)

const (
	callsPath       = "/v1/calls"
	maxErrorBody    = 512
	maxResponseBody = 1 << 20
)

const (
	OpCreateCall = "create_call"
	OpGetCall    = "get_call"
	OpHangup     = "hangup"
	OpTransfer   = "transfer"
)

// Options configures a Client.
type Options struct {
	Timeout time.Duration
	// RequestsPerSecond caps outbound calls; zero means unlimited.
	RequestsPerSecond float64
	Burst             int

	BreakerThreshold int
	BreakerReset     time.Duration

	HTTPClient *http.Client
}

// Client talks to the Voice API.
type Client struct {
	base    string
	http    *http.Client
	tokens  TokenSource
	limiter *rate.Limiter
	breaker *CircuitBreaker
}

// New returns a client for the API host at base, e.g. https://api-us.vonage.com.
func New(base string, tokens TokenSource, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = httpx.NewTracedClient(opts.Timeout)
	}
	limit := rate.Inf
	burst := opts.Burst
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	reset := opts.BreakerReset
	if reset <= 0 {
		reset = 30 * time.Second
	}
	return &Client{
		base:    strings.TrimRight(base, "/"),
		http:    hc,
		tokens:  tokens,
		limiter: rate.NewLimiter(limit, burst),
		breaker: NewCircuitBreaker(opts.BreakerThreshold, reset),
	}
}

// BaseURL returns the API host the client talks to.
func (c *Client) BaseURL() string { return c.base }

// Breaker exposes the circuit breaker for health reporting.
func (c *Client) Breaker() *CircuitBreaker { return c.breaker }

// CreateCall places an outbound call.
func (c *Client) CreateCall(ctx context.Context, req CreateCallRequest) (CallResponse, error) {
	var out CallResponse
	if err := c.do(ctx, OpCreateCall, http.MethodPost, callsPath, req, &out); err != nil {
		return CallResponse{}, err
	}
	if out.UUID == "" {
		return CallResponse{}, &APIError{Sentinel: ErrUpstreamBadResponse, Operation: OpCreateCall, Body: "missing call uuid"}
	}
	return out, nil
}

// GetCall returns the current state of a call.
func (c *Client) GetCall(ctx context.Context, uuid string) (CallInfo, error) {
	var out CallInfo
	if err := c.do(ctx, OpGetCall, http.MethodGet, callPath(uuid), nil, &out); err != nil {
		return CallInfo{}, err
	}
	return out, nil
}

// Hangup ends a call.
func (c *Client) Hangup(ctx context.Context, uuid string) error {
	return c.do(ctx, OpHangup, http.MethodPut, callPath(uuid), modifyCall{Action: "hangup"}, nil)
}

// Transfer replaces the call's running NCCO with ncco.
func (c *Client) Transfer(ctx context.Context, uuid string, ncco any) error {
	body := modifyCall{
		Action:      "transfer",
		Destination: &destination{Type: "ncco", NCCO: ncco},
	}
	return c.do(ctx, OpTransfer, http.MethodPut, callPath(uuid), body, nil)
}

func callPath(uuid string) string {
	return callsPath + "/" + url.PathEscape(uuid)
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) (err error) {
	started := time.Now()
	defer func() { observeRequest(op, started, err) }()

	if err := c.limiter.Wait(ctx); err != nil {
		return &APIError{Sentinel: ErrTimeout, Operation: op, Err: err}
	}

	err = c.breaker.Execute(func() error {
		return c.roundTrip(ctx, op, method, path, in, out)
	})
	if errors.Is(err, ErrCircuitOpen) {
		return &APIError{Sentinel: ErrUpstreamUnavailable, Operation: op, Err: err}
	}
	if err != nil {
		logger := xglog.WithComponentFromContext(ctx, "vonage")
		logger.Debug().
			Str(xglog.FieldOperation, op).
			Err(err).
			Msg("voice api request failed")
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("vonage: %s: encode request: %w", op, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("vonage: %s: build request: %w", op, err)
	}
	token, err := c.tokens.Token()
	if err != nil {
		return &APIError{Sentinel: ErrAuth, Operation: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return &APIError{Sentinel: transportSentinel(ctx, err), Operation: op, Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return &APIError{Sentinel: transportSentinel(ctx, err), Operation: op, Status: res.StatusCode, Err: err}
	}

	if sentinel := classifyStatus(res.StatusCode, string(data)); sentinel != nil {
		return &APIError{Sentinel: sentinel, Operation: op, Status: res.StatusCode, Body: truncate(data)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &APIError{Sentinel: ErrUpstreamBadResponse, Operation: op, Status: res.StatusCode, Err: err}
	}
	return nil
}

func transportSentinel(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return ErrTimeout
	}
	return ErrUpstreamUnavailable
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
