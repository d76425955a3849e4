// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorKind categorizes client errors for handling.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTimeout
	KindConnection
	KindBadRequest // 4xx other than 404/429
	KindNotFound
	KindRateLimited
	KindServer // 5xx
	KindInvalidResponse
)

// ClientError represents an error from the backend client.
type ClientError struct {
	Kind    ErrorKind
	Status  int // HTTP status, when the error came from a response
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is support so sentinel errors match any ClientError
// of the same kind.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel errors for easy checking.
var (
	ErrTimeout         = &ClientError{Kind: KindTimeout, Message: "request timed out"}
	ErrSessionNotFound = &ClientError{Kind: KindNotFound, Message: "session not found"}
	ErrRateLimited     = &ClientError{Kind: KindRateLimited, Message: "rate limited"}
)

// =============================================================================
// CLASSIFICATION HELPERS
// =============================================================================

// IsTimeout reports whether err is a timeout error.
func IsTimeout(err error) bool {
	return kindOf(err) == KindTimeout
}

// IsNotFound reports whether err indicates a missing session.
func IsNotFound(err error) bool {
	return kindOf(err) == KindNotFound
}

// IsRateLimited reports whether err is an HTTP 429.
func IsRateLimited(err error) bool {
	return kindOf(err) == KindRateLimited
}

// IsServer reports whether err is an HTTP 5xx.
func IsServer(err error) bool {
	return kindOf(err) == KindServer
}

// IsConnection reports whether err is a transport-level failure.
func IsConnection(err error) bool {
	return kindOf(err) == KindConnection
}

func kindOf(err error) ErrorKind {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// statusError maps an HTTP status to a ClientError. A timeout never comes
// through here; it is classified at the transport layer.
func statusError(status int, body string) *ClientError {
	msg := http.StatusText(status)
	if body != "" {
		msg = body
	}
	switch {
	case status == http.StatusNotFound:
		return &ClientError{Kind: KindNotFound, Status: status, Message: msg}
	case status == http.StatusTooManyRequests:
		return &ClientError{Kind: KindRateLimited, Status: status, Message: msg}
	case status >= 500:
		return &ClientError{Kind: KindServer, Status: status, Message: msg}
	case status >= 400:
		return &ClientError{Kind: KindBadRequest, Status: status, Message: msg}
	default:
		return &ClientError{Kind: KindUnknown, Status: status, Message: msg}
	}
}

// transportError maps a transport failure to a ClientError, keeping the
// timeout kind distinct from generic connection failures.
func transportError(err error) *ClientError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClientError{Kind: KindTimeout, Message: "request timed out", Cause: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &ClientError{Kind: KindTimeout, Message: "request timed out", Cause: err}
	}
	return &ClientError{Kind: KindConnection, Message: "request failed", Cause: err}
}
