package uploader

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorType is a low-cardinality category of upload failure.
type ErrorType string

const (
	// ErrorTypeNetwork represents network-level errors (DNS, connection refused).
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeTimeout represents timeout errors.
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeServerError represents server-side errors (5xx).
	ErrorTypeServerError ErrorType = "server_error"
	// ErrorTypeClientError represents client-side errors (4xx).
	ErrorTypeClientError ErrorType = "client_error"
	// ErrorTypeAuth represents authentication errors (401, 403).
	ErrorTypeAuth ErrorType = "auth"
	// ErrorTypeRateLimit represents rate limiting (429).
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeSerialization represents local encode failures.
	ErrorTypeSerialization ErrorType = "serialization"
	// ErrorTypeUnknown represents unclassified errors.
	ErrorTypeUnknown ErrorType = "unknown"
)

// UploadError is a structured error from the API sink. It carries the
// classified type and HTTP status so the pipeline can decide whether a
// persisted batch is worth retrying.
type UploadError struct {
	// Err is the underlying error.
	Err error
	// Type is the classified error type.
	Type ErrorType
	// StatusCode is the HTTP status code (0 for network errors).
	StatusCode int
}

// Error implements the error interface.
func (e *UploadError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("upload error: type=%s status=%d", e.Type, e.StatusCode)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *UploadError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the same payload may succeed later.
// Client and auth errors will fail identically on every attempt, so
// persisting them would only churn the fallback store.
func (e *UploadError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeServerError, ErrorTypeRateLimit, ErrorTypeUnknown:
		return true
	default:
		return false
	}
}

// classifyStatusCode categorizes an HTTP status code.
func classifyStatusCode(statusCode int) ErrorType {
	switch {
	case statusCode == 401 || statusCode == 403:
		return ErrorTypeAuth
	case statusCode == 429:
		return ErrorTypeRateLimit
	case statusCode >= 400 && statusCode < 500:
		return ErrorTypeClientError
	case statusCode >= 500:
		return ErrorTypeServerError
	default:
		return ErrorTypeUnknown
	}
}

// classifyError categorizes a transport-level error.
func classifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeNetwork
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorTypeNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrorTypeNetwork
	}
	return ErrorTypeUnknown
}
