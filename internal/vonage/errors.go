// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vonage

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrNotFound            = errors.New("upstream: call not found")
	ErrCallInactive        = errors.New("upstream: call is no longer active")
	ErrUnauthorized        = errors.New("upstream: credentials rejected")
	ErrRejected            = errors.New("upstream: request rejected")
	ErrRateLimited         = errors.New("upstream: rate limited")
	ErrUpstreamUnavailable = errors.New("upstream: host unreachable or transport failure")
	ErrUpstreamError       = errors.New("upstream: internal error (5xx)")
	ErrUpstreamBadResponse = errors.New("upstream: invalid response format or malformed data")
	ErrTimeout             = errors.New("upstream: request timed out")
	ErrAuth                = errors.New("upstream: cannot sign request")
)

// APIError is a rich error type that wraps the sentinel errors with context.
type APIError struct {
	Sentinel  error
	Operation string
	Status    int
	Body      string
	Err       error // Nested lower-level error (e.g. net.Error)
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("vonage: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Sentinel
}

// IsGone reports whether err means the call has already ended or never existed.
// Hangups and transfers failing this way are already satisfied.
func IsGone(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrCallInactive)
}

var inactiveMarkers = []string{"not active", "inactive", "already completed", "call completed", "has ended"}

func classifyStatus(status int, body string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnauthorized
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusConflict || status == http.StatusGone:
		return ErrCallInactive
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusBadRequest:
		lower := strings.ToLower(body)
		for _, m := range inactiveMarkers {
			if strings.Contains(lower, m) {
				return ErrCallInactive
			}
		}
		return ErrRejected
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		return ErrUpstreamUnavailable
	case status >= 500:
		return ErrUpstreamError
	case status >= 400:
		return ErrRejected
	}
	return nil
}
