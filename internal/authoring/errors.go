// Package authoring provides an HTTP client for the digital-experience
// authoring API with automatic retry, error classification, and
// per-kind artifact and resource adapters.
package authoring

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, authoring.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("authoring: bad request")
	ErrUnauthorized = errors.New("authoring: unauthorized")
	ErrForbidden    = errors.New("authoring: forbidden")
	ErrNotFound     = errors.New("authoring: not found")
	ErrConflict     = errors.New("authoring: conflict")
	ErrThrottled    = errors.New("authoring: throttled")
	ErrServerError  = errors.New("authoring: server error")

	// ErrTechnicalDifficulties is returned when the retry budget for a
	// transient failure is exhausted.
	ErrTechnicalDifficulties = errors.New("authoring: the service is experiencing technical difficulties, please try again later")

	// ErrCannotGetAsset is returned when a resource download fails,
	// typically with a 404 for a resource id that no longer exists.
	ErrCannotGetAsset = errors.New("authoring: Cannot get asset")
)

// APIError wraps a sentinel error with the HTTP status code, request ID,
// and the decoded error message body for debugging.
type APIError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	detail := fmt.Sprintf("HTTP %d", e.StatusCode)
	if e.RequestID != "" {
		detail += fmt.Sprintf(" (request-id: %s)", e.RequestID)
	}

	if e.Message != "" {
		detail += ": " + e.Message
	}

	if e.Err != nil {
		return fmt.Sprintf("%s (%s)", e.Err, detail)
	}

	return "authoring: " + detail
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// defaultRetryStatusCodes is the retry set applied when Options does not
// override it: throttling plus the transient 5xx family.
var defaultRetryStatusCodes = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// StatusOf extracts the HTTP status code from an error chain, or 0 when
// the error did not originate from an HTTP response.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}

	return 0
}

// IsRetryableStatus reports whether the given status code is in the
// retry set. An empty set means the default set.
func IsRetryableStatus(code int, retrySet []int) bool {
	if len(retrySet) == 0 {
		retrySet = defaultRetryStatusCodes
	}

	for _, c := range retrySet {
		if c == code {
			return true
		}
	}

	return false
}
