package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrAuth means the credential was rejected; refresh before retrying.
	ErrAuth = errors.New("provider rejected credential")
	// ErrRateLimit means the provider asked the caller to slow down.
	ErrRateLimit = errors.New("provider rate limited")
	// ErrTransient covers network failures and 5xx responses.
	ErrTransient = errors.New("provider transient failure")
	// ErrNotFound means the operation id is unknown to the provider.
	ErrNotFound = errors.New("provider operation not found")
	// ErrOperationFailed means the provider gave up on the operation.
	ErrOperationFailed = errors.New("provider operation failed")
	// ErrRejected covers requests the provider will never accept as sent.
	ErrRejected = errors.New("provider rejected request")
)

// StatusError carries the HTTP details behind a classified provider error.
type StatusError struct {
	Kind       error
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%v: http %d", e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("%v: http %d: %s", e.Kind, e.StatusCode, body)
}

func (e *StatusError) Unwrap() error { return e.Kind }

// ClassifyStatus maps an HTTP status code (and body text) onto the taxonomy.
func ClassifyStatus(code int, body string) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrAuth
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		return ErrRateLimit
	case code == http.StatusRequestTimeout || code >= http.StatusInternalServerError:
		return ErrTransient
	case LooksLikeAuth(body):
		return ErrAuth
	default:
		return ErrRejected
	}
}

var authMarkers = []string{
	"unauthorized",
	"unauthenticated",
	"forbidden",
	"invalid token",
	"token expired",
	"expired token",
	"session expired",
	"invalid session",
	"login required",
	"not logged in",
	"permission denied",
}

// LooksLikeAuth reports whether free-form provider text describes an
// authentication failure.
func LooksLikeAuth(message string) bool {
	lower := strings.ToLower(message)
	if lower == "" {
		return false
	}
	for _, marker := range authMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// IsAuth reports whether err is a typed auth failure or carries an auth message.
func IsAuth(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuth) {
		return true
	}
	return LooksLikeAuth(err.Error())
}

// Retryable reports whether a submission that failed with err may be retried.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case IsAuth(err), errors.Is(err, ErrRateLimit), errors.Is(err, ErrTransient):
		return true
	default:
		return false
	}
}

// RetryAfter extracts a provider supplied Retry-After hint from err.
func RetryAfter(err error) time.Duration {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.RetryAfter > 0 {
		return statusErr.RetryAfter
	}
	return 0
}
