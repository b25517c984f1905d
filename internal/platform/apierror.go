package platform

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mhuici/tamarindo-reports-sub000/internal/syncerr"
)

// errorEnvelope covers the error bodies of the supported platforms:
// Google's {"error":{"code","status","message","details"}}, Meta's
// {"error":{"code","error_subcode","type","message"}} and the OAuth
// token endpoint form {"error":"invalid_grant","error_description"}.
type errorEnvelope struct {
	Error            json.RawMessage `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

type errorObject struct {
	Code    int    `json:"code"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Type    string `json:"type"`
	Subcode int    `json:"error_subcode"`
	Details []struct {
		Type       string            `json:"@type"`
		Reason     string            `json:"reason"`
		RetryDelay string            `json:"retryDelay"`
		Metadata   map[string]string `json:"metadata"`
		Errors     []struct {
			ErrorCode map[string]string `json:"errorCode"`
			Message   string            `json:"message"`
		} `json:"errors"`
	} `json:"details"`
}

const maxErrorBody = 8 << 10

// ParseAPIError builds the APIError for a non-2xx response without
// interpreting it.
func ParseAPIError(kind Kind, status int, header http.Header, body []byte) *syncerr.APIError {
	e := &syncerr.APIError{
		Platform:   string(kind),
		StatusCode: status,
		Body:       string(body[:min(len(body), maxErrorBody)]),
		RetryDelay: retryAfterHeader(header),
	}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || len(env.Error) == 0 {
		e.Message = http.StatusText(status)
		return e
	}

	var code string
	if json.Unmarshal(env.Error, &code) == nil {
		e.NativeCode = code
		e.Message = env.ErrorDescription
		return e
	}

	var obj errorObject
	if json.Unmarshal(env.Error, &obj) != nil {
		return e
	}
	e.Message = obj.Message
	switch {
	case obj.Status != "":
		e.NativeCode = obj.Status
	case obj.Code != 0:
		e.NativeCode = strconv.Itoa(obj.Code)
	}
	if obj.Subcode != 0 {
		e.NativeSubcode = strconv.Itoa(obj.Subcode)
	}
	e.NativeStatus = obj.Type

	for _, d := range obj.Details {
		if e.RetryDelay == 0 {
			e.RetryDelay = parseDelay(d.RetryDelay)
		}
		if e.RetryDelay == 0 && d.Metadata != nil {
			e.RetryDelay = parseDelay(d.Metadata["retryDelay"])
		}
		if e.NativeStatus == "" && d.Reason != "" {
			e.NativeStatus = d.Reason
		}
		for _, ge := range d.Errors {
			for _, v := range ge.ErrorCode {
				if e.NativeStatus == "" || e.NativeStatus == d.Reason {
					e.NativeStatus = v
				}
			}
			if e.Message == "" {
				e.Message = ge.Message
			}
		}
	}
	return e
}

func retryAfterHeader(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// parseDelay reads Google's "3.5s" delay format.
func parseDelay(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0
	}
	return d
}
