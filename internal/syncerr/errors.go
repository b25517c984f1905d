// Package syncerr normalizes platform failures into a small set of codes,
// each with a recommended action for the caller.
package syncerr

import (
	"fmt"
	"strings"
	"time"
)

// Code is a normalized failure category.
type Code string

const (
	CodeTokenExpired       Code = "TOKEN_EXPIRED"
	CodeTokenInvalid       Code = "TOKEN_INVALID"
	CodeTokenRefreshFailed Code = "TOKEN_REFRESH_FAILED"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeAccountNotFound    Code = "ACCOUNT_NOT_FOUND"
	CodeAPIError           Code = "API_ERROR"
	CodeNetworkError       Code = "NETWORK_ERROR"
	CodeUnknown            Code = "UNKNOWN"
)

// Action is what the caller should do about a failure.
type Action string

const (
	ActionReconnect        Action = "reconnect"
	ActionWaitAndRetry     Action = "wait_and_retry"
	ActionCheckPermissions Action = "check_permissions"
	ActionContactSupport   Action = "contact_support"
	ActionNone             Action = "none"
)

type codeInfo struct {
	action    Action
	retryable bool
	hint      time.Duration
}

var codeTable = map[Code]codeInfo{
	CodeTokenExpired:       {action: ActionReconnect},
	CodeTokenInvalid:       {action: ActionReconnect},
	CodeTokenRefreshFailed: {action: ActionReconnect},
	CodeRateLimited:        {action: ActionWaitAndRetry, retryable: true, hint: 60 * time.Second},
	CodePermissionDenied:   {action: ActionCheckPermissions},
	CodeAccountNotFound:    {action: ActionCheckPermissions},
	CodeAPIError:           {action: ActionWaitAndRetry, retryable: true, hint: 30 * time.Second},
	CodeNetworkError:       {action: ActionWaitAndRetry, retryable: true},
	CodeUnknown:            {action: ActionContactSupport},
}

// Classified is a normalized failure. It is safe to show Message to users.
type Classified struct {
	Code           Code
	Message        string
	Action         Action
	Retryable      bool
	RetryAfterHint time.Duration
	Cause          error
}

// New builds a Classified error for code with the code's default action,
// retryability and wait hint.
func New(code Code, message string, cause error) *Classified {
	info, ok := codeTable[code]
	if !ok {
		code, info = CodeUnknown, codeTable[CodeUnknown]
	}
	return &Classified{
		Code:           code,
		Message:        message,
		Action:         info.action,
		Retryable:      info.retryable,
		RetryAfterHint: info.hint,
		Cause:          cause,
	}
}

func (c *Classified) Error() string {
	if c.Message == "" {
		return string(c.Code)
	}
	return fmt.Sprintf("%s: %s", c.Code, c.Message)
}

func (c *Classified) Unwrap() error { return c.Cause }

// IsRetryable reports whether waiting and trying again may succeed.
func (c *Classified) IsRetryable() bool { return c.Retryable }

// RetryAfter returns the suggested wait before retrying.
func (c *Classified) RetryAfter() time.Duration { return c.RetryAfterHint }

// NeedsReconnection reports whether the user has to re-authorize the data
// source before any further sync can succeed.
func NeedsReconnection(c *Classified) bool {
	if c == nil {
		return false
	}
	return c.Action == ActionReconnect || strings.HasPrefix(string(c.Code), "TOKEN_")
}

// UserMessage returns call-to-action text suitable for a dashboard banner.
func UserMessage(c *Classified, platformName string) string {
	if c == nil {
		return ""
	}
	if platformName == "" {
		platformName = "the platform"
	}
	switch c.Action {
	case ActionReconnect:
		return fmt.Sprintf("Your connection to %s has expired. Reconnect it to resume syncing.", platformName)
	case ActionWaitAndRetry:
		if c.Code == CodeRateLimited {
			return fmt.Sprintf("%s is limiting requests right now. Data will refresh automatically shortly.", platformName)
		}
		return fmt.Sprintf("%s is temporarily unavailable. Data will refresh automatically shortly.", platformName)
	case ActionCheckPermissions:
		return fmt.Sprintf("The connected %s user cannot read this account. Check its permissions.", platformName)
	case ActionContactSupport:
		return "Something went wrong while syncing. Contact support if this keeps happening."
	}
	return c.Message
}
