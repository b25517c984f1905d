package syncerr

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"syscall"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"
)

// Rule maps a native platform signature to a Code. Every non-empty field
// must match. Rules are evaluated in order and the first match wins.
type Rule struct {
	// Status matches the HTTP status; 0 matches any.
	Status int
	// Codes match APIError.NativeCode or APIError.NativeStatus.
	Codes []string
	// Subcodes match APIError.NativeSubcode.
	Subcodes []string
	// Contains matches case-insensitive substrings of the message.
	Contains []string
	Code     Code
}

// Rules is an ordered per-platform rule table.
type Rules []Rule

func (r Rule) empty() bool {
	return r.Status == 0 && len(r.Codes) == 0 && len(r.Subcodes) == 0 && len(r.Contains) == 0
}

func (r Rule) matchAPI(e *APIError) bool {
	if r.empty() {
		return false
	}
	if r.Status != 0 && r.Status != e.StatusCode {
		return false
	}
	if len(r.Codes) > 0 && !slices.Contains(r.Codes, e.NativeCode) && !slices.Contains(r.Codes, e.NativeStatus) {
		return false
	}
	if len(r.Subcodes) > 0 && !slices.Contains(r.Subcodes, e.NativeSubcode) {
		return false
	}
	if len(r.Contains) > 0 && !containsAny(e.Message+" "+e.Body, r.Contains) {
		return false
	}
	return true
}

// matchText applies message-only rules to errors that carry no API shape.
func (r Rule) matchText(msg string) bool {
	if len(r.Contains) == 0 || r.Status != 0 || len(r.Codes) > 0 || len(r.Subcodes) > 0 {
		return false
	}
	return containsAny(msg, r.Contains)
}

func containsAny(s string, needles []string) bool {
	s = strings.ToLower(s)
	for _, n := range needles {
		if strings.Contains(s, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// Classifier holds the per-platform rule tables.
type Classifier struct {
	mu    sync.RWMutex
	rules map[string]Rules
}

// NewClassifier returns a classifier with no platform rules registered.
func NewClassifier() *Classifier {
	return &Classifier{rules: make(map[string]Rules)}
}

// Register sets the rule table for a platform, replacing any previous one.
func (c *Classifier) Register(platform string, rules Rules) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules[platform] = rules
}

func (c *Classifier) rulesFor(platform string) Rules {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rules[platform]
}

// refresh-grant error codes that mean the grant itself is gone.
var deadGrantCodes = []string{"invalid_grant", "invalid_client", "unauthorized_client", "invalid_token"}

var deadGrantMarkers = []string{"invalid_grant", "revoked", "token has been expired", "unauthorized_client", "invalid_client"}

// Classify normalizes err for the given platform. Already classified errors
// pass through unchanged. It returns nil for a nil error.
func (c *Classifier) Classify(err error, platform string) *Classified {
	if err == nil {
		return nil
	}

	var cl *Classified
	if errors.As(err, &cl) {
		return cl
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return c.classifyAPI(apiErr, platform, err)
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return classifyRetrieve(re, err)
	}

	if errors.Is(err, context.Canceled) {
		cl := New(CodeUnknown, "operation canceled", err)
		cl.Action = ActionNone
		return cl
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return New(CodeAPIError, platformLabel(platform)+" is failing repeatedly; requests are paused", err)
	}

	if isNetworkError(err) {
		return New(CodeNetworkError, "could not reach "+platformLabel(platform), err)
	}

	msg := err.Error()
	for _, r := range c.rulesFor(platform) {
		if r.matchText(msg) {
			return New(r.Code, msg, err)
		}
	}
	if containsAny(msg, deadGrantMarkers) {
		return New(CodeTokenRefreshFailed, msg, err)
	}

	return New(CodeUnknown, msg, err)
}

func (c *Classifier) classifyAPI(e *APIError, platform string, err error) *Classified {
	if platform == "" {
		platform = e.Platform
	}
	msg := e.Message
	if msg == "" {
		msg = e.Error()
	}

	code := CodeUnknown
	matched := false
	for _, r := range c.rulesFor(platform) {
		if r.matchAPI(e) {
			code, matched = r.Code, true
			break
		}
	}
	if !matched {
		code = codeForStatus(e.StatusCode)
	}

	cl := New(code, msg, err)
	if e.RetryDelay > 0 && cl.Retryable {
		cl.RetryAfterHint = e.RetryDelay
	}
	return cl
}

func codeForStatus(status int) Code {
	switch {
	case status == http.StatusUnauthorized:
		return CodeTokenExpired
	case status == http.StatusForbidden:
		return CodePermissionDenied
	case status == http.StatusNotFound:
		return CodeAccountNotFound
	case status == http.StatusTooManyRequests:
		return CodeRateLimited
	case status >= 500:
		return CodeAPIError
	}
	return CodeUnknown
}

func classifyRetrieve(re *oauth2.RetrieveError, err error) *Classified {
	msg := re.ErrorDescription
	if msg == "" {
		msg = re.ErrorCode
	}
	if msg == "" {
		msg = "token endpoint rejected the request"
	}
	if slices.Contains(deadGrantCodes, re.ErrorCode) || containsAny(string(re.Body), deadGrantMarkers) {
		return New(CodeTokenRefreshFailed, msg, err)
	}
	if re.Response != nil {
		switch code := codeForStatus(re.Response.StatusCode); code {
		case CodeRateLimited, CodeAPIError:
			return New(code, msg, err)
		case CodeTokenExpired:
			return New(CodeTokenRefreshFailed, msg, err)
		}
	}
	return New(CodeUnknown, msg, err)
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}

func platformLabel(platform string) string {
	if platform == "" {
		return "the platform"
	}
	return platform
}

var defaultClassifier = NewClassifier()

// Classify normalizes err without platform specific rules.
func Classify(err error) *Classified {
	return defaultClassifier.Classify(err, "")
}
