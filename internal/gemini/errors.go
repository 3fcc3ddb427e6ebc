package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Reason classifies a terminal generation outcome. These are never retried;
// the specific reason is surfaced so operators can tell a safety block from
// a response that simply carried no image.
type Reason string

const (
	ReasonBlocked    Reason = "blocked"
	ReasonSafety     Reason = "safety"
	ReasonRecitation Reason = "recitation"
	ReasonEmpty      Reason = "empty"
)

// GenerationError is a terminal model outcome: the call completed but the
// model declined or returned nothing usable.
type GenerationError struct {
	Reason Reason
	Detail string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation %s: %s", e.Reason, e.Detail)
}

// apiError is a non-200 HTTP response from the service.
type apiError struct {
	StatusCode int
	Body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("gemini api error: status %d, body: %s", e.StatusCode, e.Body)
}

var transientMarkers = []string{
	"unavailable",
	"overloaded",
	"rate limit",
	"resource_exhausted",
	"deadline exceeded",
	"try again",
}

// IsTransient reports whether an error is a retryable service condition.
// Only explicit overload/rate-limit signals qualify; everything else,
// including every GenerationError, is terminal for the attempt.
func IsTransient(err error) bool {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return false
	}

	var api *apiError
	if errors.As(err, &api) {
		if api.StatusCode == http.StatusTooManyRequests || api.StatusCode == http.StatusServiceUnavailable {
			return true
		}
		body := strings.ToLower(api.Body)
		for _, marker := range transientMarkers {
			if strings.Contains(body, marker) {
				return true
			}
		}
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// RetryTransient runs fn, retrying at most once with backoff and only when
// the failure was transient.
func RetryTransient(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	if !IsTransient(err) {
		return err
	}

	select {
	case <-time.After(2 * time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}

	return fn()
}
