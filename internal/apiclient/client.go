// Package apiclient is the authenticated request pipeline for the EventSphere REST API.
// Every request carries the current bearer token; a 401 triggers one coalesced refresh and a
// single resubmission, and anything else ends the session.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/alanmathew190/EventManagementSystem/internal/audit"
	telemetryotel "github.com/alanmathew190/EventManagementSystem/internal/telemetry/otel"
)

const (
	maxResponseBytes = 4 << 20
	requestIDHeader  = "X-Request-ID"
	tracerName       = "eventsphere/apiclient"
)

// Forced-logout reasons reported to OnSessionExpired and telemetry.
const (
	ReasonNoRefreshToken      = "no_refresh_token"
	ReasonRefreshFailed       = "refresh_failed"
	ReasonUnauthorizedOnRetry = "unauthorized_after_refresh"
)

// Credentials is a snapshot of what the pipeline needs from the session.
type Credentials struct {
	AccessToken string
	Username    string
	CanRefresh  bool
}

// TokenSource supplies and renews credentials. The session manager implements it.
type TokenSource interface {
	// Credentials returns the current credentials; AccessToken is empty when logged out.
	Credentials() Credentials
	// Refresh exchanges the refresh token for a new access token. staleAccess is the token that
	// was rejected; if it has already been replaced the current token is returned directly.
	Refresh(ctx context.Context, staleAccess string) (string, error)
	// ForceLogout clears the session. Idempotent. It reports whether the caller is the first
	// to observe the end of the session and should announce it.
	ForceLogout(ctx context.Context, reason string) bool
}

// Request describes one API call. Body is JSON-encoded once, so the retry resubmits the same bytes.
type Request struct {
	Method string
	Path   string // relative to the base URL, e.g. "/events/events/"
	Query  url.Values
	Body   any
}

// Options configures a Client. Only BaseURL is required.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration // used when HTTPClient is nil
	Limiter    *rate.Limiter
	Tracer     trace.Tracer
	Metrics    *telemetryotel.ClientMetrics
	Audit      audit.AuditLogger
	UserAgent  string
	// OnSessionExpired is the login redirect: called after the session has been cleared.
	OnSessionExpired func(reason string)
}

// Client issues API requests. The zero TokenSource sends every request unauthenticated.
type Client struct {
	baseURL   string
	http      *http.Client
	limiter   *rate.Limiter
	tracer    trace.Tracer
	metrics   *telemetryotel.ClientMetrics
	audit     audit.AuditLogger
	userAgent string
	onExpired func(reason string)
	tokens    TokenSource
}

// New returns a Client without a TokenSource. Use WithTokenSource for authenticated calls.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.GetTracerProvider().Tracer(tracerName)
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = "eventsphere-cli"
	}
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		http:      hc,
		limiter:   opts.Limiter,
		tracer:    tracer,
		metrics:   opts.Metrics,
		audit:     opts.Audit,
		userAgent: ua,
		onExpired: opts.OnSessionExpired,
	}
}

// WithTokenSource returns a copy of c that authenticates with ts.
func (c *Client) WithTokenSource(ts TokenSource) *Client {
	cp := *c
	cp.tokens = ts
	return &cp
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Send performs a single attempt with an explicit bearer token (empty for none). It never
// refreshes or retries; a 401 surfaces as an *APIError matching ErrUnauthorized.
func (c *Client) Send(ctx context.Context, req Request, token string, out any) error {
	body, err := encodeBody(req.Body)
	if err != nil {
		return err
	}
	return c.attempt(ctx, req, body, token, 1, uuid.NewString(), out)
}

// Do performs req through the pipeline:
//
//	Pending -> Done
//	Pending -> 401 on attempt 1 -> Refreshing -> Pending (attempt 2)
//	401 on attempt 2, refresh failure, or no refresh token -> logged out, failed
//	any other failure -> failed, never retried
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	body, err := encodeBody(req.Body)
	if err != nil {
		return err
	}
	requestID := uuid.NewString()
	if c.tokens == nil {
		return c.finish(ctx, req, "", requestID, c.attempt(ctx, req, body, "", 1, requestID, out))
	}

	creds := c.tokens.Credentials()
	err = c.attempt(ctx, req, body, creds.AccessToken, 1, requestID, out)
	if !errors.Is(err, ErrUnauthorized) || creds.AccessToken == "" {
		// A 401 without a session is an ordinary failure: there is nothing to expire.
		return c.finish(ctx, req, creds.Username, requestID, err)
	}

	if !creds.CanRefresh {
		c.expire(ctx, ReasonNoRefreshToken)
		return ErrAuthorizationExpired
	}
	fresh, err := c.tokens.Refresh(ctx, creds.AccessToken)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.expire(ctx, ReasonRefreshFailed)
		if errors.Is(err, ErrRefreshFailed) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	err = c.attempt(ctx, req, body, fresh, 2, requestID, out)
	if errors.Is(err, ErrUnauthorized) {
		c.expire(ctx, ReasonUnauthorizedOnRetry)
		return ErrAuthorizationExpired
	}
	return c.finish(ctx, req, creds.Username, requestID, err)
}

// finish records successful mutating calls in the audit trail.
func (c *Client) finish(ctx context.Context, req Request, username, requestID string, err error) error {
	if err != nil || c.audit == nil {
		return err
	}
	if ar := audit.ParseCall(req.Method, req.Path); !ar.Skip() {
		c.audit.LogEvent(ctx, username, ar.Action, ar.Resource, "request_id="+requestID)
	}
	return nil
}

// expire logs the session out. Requests that fail together announce the logout once.
func (c *Client) expire(ctx context.Context, reason string) {
	if !c.tokens.ForceLogout(ctx, reason) {
		return
	}
	if c.metrics != nil {
		c.metrics.ForcedLogouts.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
	if c.onExpired != nil {
		c.onExpired(reason)
	}
}

func (c *Client) attempt(ctx context.Context, req Request, body []byte, token string, attempt int, requestID string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	ctx, span := c.tracer.Start(ctx, req.Method+" "+req.Path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
			attribute.Int("eventsphere.attempt", attempt),
			attribute.String("eventsphere.request_id", requestID),
		))
	defer span.End()

	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, rdr)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("api: build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set(requestIDHeader, requestID)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.record(ctx, req.Method, attempt, 0, start)
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s %s: %v", ErrNetwork, req.Method, req.Path, err)
	}
	defer resp.Body.Close()
	c.record(ctx, req.Method, attempt, resp.StatusCode, start)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		span.RecordError(err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: read %s %s: %v", ErrNetwork, req.Method, req.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := newAPIError(resp.StatusCode, data, requestID)
		if resp.StatusCode >= 500 {
			span.SetStatus(codes.Error, strconv.Itoa(resp.StatusCode))
		}
		return apiErr
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		span.RecordError(err)
		return fmt.Errorf("api: decode %s %s: %w", req.Method, req.Path, err)
	}
	return nil
}

func (c *Client) record(ctx context.Context, method string, attempt, status int, start time.Time) {
	if c.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.Int("attempt", attempt),
		attribute.String("status_class", statusClass(status)),
	)
	c.metrics.Requests.Add(ctx, 1, attrs)
	c.metrics.Latency.Record(ctx, time.Since(start).Seconds(), attrs)
}

func statusClass(status int) string {
	if status == 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}

func encodeBody(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("api: encode body: %w", err)
	}
	return b, nil
}
