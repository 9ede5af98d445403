package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrUnreachable marks failures caused by connectivity rather than by the
// server rejecting a request. Match it with errors.Is or IsConnectivity.
var ErrUnreachable = errors.New("server unreachable")

// APIError is a structured rejection returned by the server.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("api returned status %d: %s", e.StatusCode, e.Message)
}

// UnreachableError wraps the transport failure behind ErrUnreachable.
type UnreachableError struct {
	Op  string
	Err error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrUnreachable, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrUnreachable) hold for every UnreachableError.
func (e *UnreachableError) Is(target error) bool {
	return target == ErrUnreachable
}

// IsConnectivity reports whether err means the server could not be
// reached, as opposed to a rejection such as 403 or 422. Only these
// failures may fall back to the cache or queue a mutation.
func IsConnectivity(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnreachable) {
		return true
	}
	// A caller cancelling is not an outage.
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return gatewayStatus(apiErr.StatusCode)
	}
	return false
}

// IsNotFound reports whether the server answered 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// gatewayStatus reports statuses produced by proxies when the origin is
// unreachable.
func gatewayStatus(code int) bool {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
