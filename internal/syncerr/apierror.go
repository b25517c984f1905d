package syncerr

import (
	"fmt"
	"strings"
	"time"
)

// maxBodyInError bounds how much of an upstream body Error() repeats.
const maxBodyInError = 512

// APIError is an upstream failure exactly as the platform reported it.
// Connectors return it unmodified; the classifier interprets it.
type APIError struct {
	Platform   string
	StatusCode int
	// NativeCode is the platform's own error code ("190", "UNAUTHENTICATED").
	NativeCode    string
	NativeSubcode string
	// NativeStatus carries a secondary reason such as a Google Ads error
	// enum ("CUSTOMER_NOT_ENABLED") or a Meta error type.
	NativeStatus string
	Message      string
	Body         string
	// RetryDelay is the wait the platform asked for, if any.
	RetryDelay time.Duration
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s api error: status %d", e.Platform, e.StatusCode)
	if e.NativeCode != "" {
		fmt.Fprintf(&b, " code %s", e.NativeCode)
	}
	if e.NativeSubcode != "" {
		fmt.Fprintf(&b, "/%s", e.NativeSubcode)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	} else if e.Body != "" {
		fmt.Fprintf(&b, ": %s", truncate(e.Body, maxBodyInError))
	}
	return b.String()
}

// HTTPStatus exposes the response status to the retry engine.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// RetryAfter exposes the platform's requested wait to the retry engine.
func (e *APIError) RetryAfter() time.Duration { return e.RetryDelay }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}
