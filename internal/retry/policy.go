package retry

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// AIPolicy is tuned for generative model endpoints: long waits, a wide jitter
// band, and retries on rate limit or overload messages even when no status
// code is attached.
func AIPolicy() Options {
	return Options{
		Name:              "ai",
		MaxRetries:        3,
		InitialDelay:      2 * time.Second,
		MaxDelay:          60 * time.Second,
		BackoffMultiplier: 2,
		JitterFactor:      0.2,
		IsRetryable:       isRetryableAI,
	}
}

// IntegrationPolicy is tuned for ad and analytics platform APIs. It never
// retries 401 or 403: a rejected credential will not heal by waiting.
func IntegrationPolicy() Options {
	return Options{
		Name:              "integration",
		MaxRetries:        3,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2,
		JitterFactor:      0.1,
		IsRetryable:       isRetryableIntegration,
	}
}

// WithPredicate returns a copy of o whose retry predicate is pred, still
// refusing whatever o already refuses to retry on authentication grounds.
func (o Options) WithPredicate(pred func(error) bool) Options {
	o.IsRetryable = func(err error) bool {
		if isAuthRejection(err) {
			return false
		}
		return pred(err)
	}
	return o
}

var aiTransientMarkers = []string{
	"rate limit",
	"rate_limit",
	"overloaded",
	"too many requests",
	"timeout",
	"temporarily unavailable",
}

func isRetryableAI(err error) bool {
	if DefaultIsRetryable(err) {
		return true
	}
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range aiTransientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func isRetryableIntegration(err error) bool {
	if isAuthRejection(err) {
		return false
	}
	return DefaultIsRetryable(err)
}

func isAuthRejection(err error) bool {
	var st interface{ HTTPStatus() int }
	if errors.As(err, &st) {
		switch st.HTTPStatus() {
		case http.StatusUnauthorized, http.StatusForbidden:
			return true
		}
	}
	return false
}
