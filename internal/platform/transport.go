package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mhuici/tamarindo-reports-sub000/internal/logging"
	"github.com/mhuici/tamarindo-reports-sub000/internal/metrics"
	"github.com/mhuici/tamarindo-reports-sub000/internal/retry"
	"github.com/mhuici/tamarindo-reports-sub000/internal/syncerr"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

const maxResponseBody = 32 << 20

// Request describes one platform API call.
type Request struct {
	Method string
	URL    string
	Query  url.Values
	// JSON is encoded as the request body when set.
	JSON any
	// Form is sent as application/x-www-form-urlencoded when set.
	Form    url.Values
	Bearer  string
	Headers map[string]string
}

// Transport is the HTTP plumbing shared by connectors: a bounded
// per-attempt timeout, a rate limiter, a circuit breaker and the
// integration retry policy. Non-2xx responses become *syncerr.APIError.
type Transport struct {
	kind    Kind
	client  *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	policy  retry.Options
	headers map[string]string
}

// TransportOption customizes a Transport.
type TransportOption func(*Transport)

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(c *http.Client) TransportOption {
	return func(t *Transport) { t.client = c }
}

// WithRetryOptions replaces the retry policy. The classifier based
// predicate is kept unless opts sets its own.
func WithRetryOptions(opts retry.Options) TransportOption {
	return func(t *Transport) {
		if opts.IsRetryable == nil {
			opts.IsRetryable = t.policy.IsRetryable
		}
		if opts.OnRetry == nil {
			opts.OnRetry = t.policy.OnRetry
		}
		t.policy = opts
	}
}

// NewTransport builds the transport for info. rules decide which
// failures are worth retrying.
func NewTransport(info Info, rules syncerr.Rules, opts ...TransportOption) *Transport {
	classifier := syncerr.NewClassifier()
	classifier.Register(string(info.Kind), rules)

	timeout := info.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	limit := rate.Inf
	if info.RatePerSecond > 0 {
		limit = rate.Limit(info.RatePerSecond)
	}

	t := &Transport{
		kind:    info.Kind,
		client:  &http.Client{Timeout: timeout + 5*time.Second},
		timeout: timeout,
		limiter: rate.NewLimiter(limit, max(info.Burst, 1)),
		headers: info.StaticHeaders,
	}

	t.policy = retry.IntegrationPolicy().WithPredicate(func(err error) bool {
		return classifier.Classify(err, string(info.Kind)).Retryable
	})
	t.policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		metrics.RetryAttempts.WithLabelValues(t.policy.Name, string(t.kind)).Inc()
		logging.Warn().Str("platform", string(t.kind)).Int("attempt", attempt).
			Dur("delay", delay).Err(err).Msg("retrying platform request")
	}

	name := string(info.Kind)
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	t.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		IsSuccessful: breakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			logging.Warn().Str("platform", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})

	for _, o := range opts {
		o(t)
	}
	return t
}

// HTTPClient is the client used for requests, exposed for OAuth flows.
func (t *Transport) HTTPClient() *http.Client { return t.client }

// Do executes r with retries and decodes a JSON response into out, which
// may be nil.
func (t *Transport) Do(ctx context.Context, r Request, out any) error {
	res := retry.Do(ctx, t.policy, func(ctx context.Context) ([]byte, error) {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return t.breaker.Execute(func() ([]byte, error) {
			return t.roundTrip(ctx, r)
		})
	})
	if res.Err != nil {
		return res.Err
	}
	if out == nil || len(res.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.Value, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", t.kind, err)
	}
	return nil
}

func (t *Transport) roundTrip(ctx context.Context, r Request) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := t.newRequest(ctx, r)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", t.kind, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, ParseAPIError(t.kind, resp.StatusCode, resp.Header, body)
	}
	return body, nil
}

func (t *Transport) newRequest(ctx context.Context, r Request) (*http.Request, error) {
	u := r.URL
	if len(r.Query) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + r.Query.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case r.JSON != nil:
		b, err := json.Marshal(r.JSON)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", t.kind, err)
		}
		body, contentType = bytes.NewReader(b), "application/json"
	case r.Form != nil:
		body, contentType = strings.NewReader(r.Form.Encode()), "application/x-www-form-urlencoded"
	}

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	if r.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+r.Bearer)
	}
	return req, nil
}

// breakerSuccess counts client errors and throttling as a healthy
// platform; only 5xx and transport failures trip the breaker.
func breakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr *syncerr.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode < 500
	}
	return false
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}
