package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrCircuitOpen is matched by every *CircuitOpenError via errors.Is.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitOpenError is returned without any I/O when the provider's circuit is open.
type CircuitOpenError struct {
	Provider string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s - too many recent failures", e.Provider)
}

// Is lets errors.Is(err, ErrCircuitOpen) match.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider returned status %d", e.Status)
	}
	return fmt.Sprintf("provider returned status %d: %s", e.Status, e.Body)
}

// ExhaustedError is returned once every attempt has failed.
type ExhaustedError struct {
	Provider string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: failed after %d attempts: %v", e.Provider, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

type failureClass int

const (
	classNetwork failureClass = iota
	classTimeout
	classRateLimited
	classServer
	classFatal
)

func (c failureClass) String() string {
	switch c {
	case classTimeout:
		return "timeout"
	case classRateLimited:
		return "rate_limited"
	case classServer:
		return "server_error"
	case classFatal:
		return "client_error"
	default:
		return "network"
	}
}

func classify(err error) failureClass {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Status == http.StatusTooManyRequests:
			return classRateLimited
		case statusErr.Status >= 500 && statusErr.Status <= 599:
			return classServer
		default:
			return classFatal
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return classTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return classTimeout
	}
	return classNetwork
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status
	}
	return 0
}
