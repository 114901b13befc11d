package apiclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/time/rate"
)

// fakeTokens implements TokenSource for tests.
type fakeTokens struct {
	mu         sync.Mutex
	access     string
	username   string
	refresh    string
	next       string
	refreshErr error
	refreshes  int
	logouts    []string
	staleSeen  []string
	ended      bool
}

func (f *fakeTokens) Credentials() Credentials {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Credentials{AccessToken: f.access, Username: f.username, CanRefresh: f.refresh != ""}
}

func (f *fakeTokens) Refresh(ctx context.Context, stale string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	f.staleSeen = append(f.staleSeen, stale)
	if f.refreshErr != nil {
		f.access, f.refresh = "", ""
		f.ended = true
		return "", f.refreshErr
	}
	f.access = f.next
	return f.next, nil
}

func (f *fakeTokens) ForceLogout(ctx context.Context, reason string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	announce := f.access != "" || f.ended
	f.access, f.refresh, f.ended = "", "", false
	f.logouts = append(f.logouts, reason)
	return announce
}

// recordingAudit implements audit.AuditLogger for tests.
type recordingAudit struct {
	mu      sync.Mutex
	actions []string
	users   []string
}

func (r *recordingAudit) LogEvent(ctx context.Context, username, action, resource, metadata string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action+" "+resource)
	r.users = append(r.users, username)
}

func newTestClient(t *testing.T, srv *httptest.Server, ts TokenSource, opts Options) (*Client, *[]string) {
	t.Helper()
	var expired []string
	opts.BaseURL = srv.URL
	opts.OnSessionExpired = func(reason string) { expired = append(expired, reason) }
	c := New(opts)
	if ts != nil {
		c = c.WithTokenSource(ts)
	}
	return c, &expired
}

func TestDo_AttachesBearerAndRequestID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer tok-1")
		}
		if r.Header.Get(requestIDHeader) == "" {
			t.Error("X-Request-ID should be set")
		}
		if r.URL.Query().Get("location") != "Kochi" {
			t.Errorf("query location = %q", r.URL.Query().Get("location"))
		}
		w.Write([]byte(`[{"id":1,"title":"Meetup"}]`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, &fakeTokens{access: "tok-1", refresh: "r"}, Options{})
	var out []struct {
		ID    int    `json:"id"`
		Title string `json:"title"`
	}
	err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/events/events/", Query: map[string][]string{"location": {"Kochi"}}}, &out)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(out) != 1 || out[0].Title != "Meetup" {
		t.Errorf("decoded = %+v", out)
	}
}

func TestDo_NoTokenSendsUnauthenticated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("Authorization = %q, want none", got)
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, &fakeTokens{}, Options{})
	if err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/events/events/"}, nil); err != nil {
		t.Fatalf("Do: %v", err)
	}
	anon, _ := newTestClient(t, srv, nil, Options{})
	if err := anon.Do(context.Background(), Request{Method: http.MethodGet, Path: "/events/events/"}, nil); err != nil {
		t.Fatalf("Do without token source: %v", err)
	}
}

func TestDo_RefreshAndRetryOnce(t *testing.T) {
	var hits int32
	var bodies []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":"Given token not valid for any token type"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"registration_id":42}`))
	}))
	defer srv.Close()

	tokens := &fakeTokens{access: "stale", refresh: "r1", next: "fresh", username: "alice"}
	c, expired := newTestClient(t, srv, tokens, Options{})
	var out struct {
		RegistrationID int `json:"registration_id"`
	}
	err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/events/events/3/join/", Body: map[string]string{"note": "x"}}, &out)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if out.RegistrationID != 42 {
		t.Errorf("RegistrationID = %d, want 42", out.RegistrationID)
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Errorf("server hits = %d, want 2", n)
	}
	if tokens.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", tokens.refreshes)
	}
	if tokens.staleSeen[0] != "stale" {
		t.Errorf("Refresh got stale token %q, want %q", tokens.staleSeen[0], "stale")
	}
	if bodies[0] != bodies[1] || bodies[0] == "" {
		t.Errorf("retry body = %q, first body = %q; want identical", bodies[1], bodies[0])
	}
	if len(*expired) != 0 || len(tokens.logouts) != 0 {
		t.Errorf("unexpected logout: expired=%v logouts=%v", *expired, tokens.logouts)
	}
}

func TestDo_SecondUnauthorizedForcesLogout(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &fakeTokens{access: "stale", refresh: "r1", next: "also-rejected"}
	c, expired := newTestClient(t, srv, tokens, Options{})
	err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/events/my-events/"}, nil)
	if !errors.Is(err, ErrAuthorizationExpired) {
		t.Fatalf("Do: want ErrAuthorizationExpired, got %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Errorf("server hits = %d, want exactly 2 (one retry)", n)
	}
	if tokens.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", tokens.refreshes)
	}
	if len(tokens.logouts) != 1 || tokens.logouts[0] != ReasonUnauthorizedOnRetry {
		t.Errorf("logouts = %v", tokens.logouts)
	}
	if len(*expired) != 1 || (*expired)[0] != ReasonUnauthorizedOnRetry {
		t.Errorf("expired hook = %v", *expired)
	}
}

func TestDo_UnauthorizedWithoutRefreshToken(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &fakeTokens{access: "only-access"}
	c, expired := newTestClient(t, srv, tokens, Options{})
	err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/events/hosted/"}, nil)
	if !errors.Is(err, ErrAuthorizationExpired) {
		t.Fatalf("Do: want ErrAuthorizationExpired, got %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("server hits = %d, want 1 (no resubmission)", n)
	}
	if tokens.refreshes != 0 {
		t.Errorf("refreshes = %d, want 0", tokens.refreshes)
	}
	if len(*expired) != 1 || (*expired)[0] != ReasonNoRefreshToken {
		t.Errorf("expired hook = %v", *expired)
	}
}

func TestDo_RefreshFailure(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &fakeTokens{access: "stale", refresh: "expired-refresh", refreshErr: errors.New("token is blacklisted")}
	c, expired := newTestClient(t, srv, tokens, Options{})
	err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/events/my-events/"}, nil)
	if !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("Do: want ErrRefreshFailed, got %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("server hits = %d, want 1", n)
	}
	if len(tokens.logouts) != 1 || tokens.logouts[0] != ReasonRefreshFailed {
		t.Errorf("logouts = %v", tokens.logouts)
	}
	if len(*expired) != 1 {
		t.Errorf("expired hook calls = %d, want 1", len(*expired))
	}
	if creds := tokens.Credentials(); creds.AccessToken != "" {
		t.Error("session should be cleared after refresh failure")
	}
}

func TestDo_UnauthorizedWithoutSession(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"Authentication credentials were not provided."}`))
	}))
	defer srv.Close()

	tokens := &fakeTokens{}
	c, expired := newTestClient(t, srv, tokens, Options{})
	err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/events/my-events/"}, nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Do: want ErrUnauthorized, got %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("server hits = %d, want 1", n)
	}
	if tokens.refreshes != 0 || len(tokens.logouts) != 0 || len(*expired) != 0 {
		t.Errorf("no session to expire: refreshes=%d logouts=%v expired=%v", tokens.refreshes, tokens.logouts, *expired)
	}
}

func TestDo_ExpiryAnnouncedOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &fakeTokens{access: "only-access"}
	c, expired := newTestClient(t, srv, tokens, Options{})
	if err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/events/hosted/"}, nil); !errors.Is(err, ErrAuthorizationExpired) {
		t.Fatalf("Do: want ErrAuthorizationExpired, got %v", err)
	}
	// The session is gone; a second expiry for the same end must stay quiet.
	c.expire(context.Background(), ReasonNoRefreshToken)
	if len(*expired) != 1 {
		t.Errorf("expired hook calls = %d, want 1", len(*expired))
	}
	if len(tokens.logouts) != 2 {
		t.Errorf("logouts = %v, want both recorded", tokens.logouts)
	}
}

func TestDo_ErrorMapping(t *testing.T) {
	testCases := []struct {
		name    string
		status  int
		body    string
		want    error
		wantMsg string
	}{
		{"validation error field", http.StatusBadRequest, `{"error":"Event capacity full"}`, ErrValidation, "Event capacity full"},
		{"validation detail field", http.StatusUnprocessableEntity, `{"detail":"Already joined"}`, ErrValidation, "Already joined"},
		{"field errors", http.StatusBadRequest, `{"username":["A user with that username already exists."]}`, ErrValidation, "username: A user with that username already exists."},
		{"not found", http.StatusNotFound, `{"detail":"Not found."}`, ErrNotFound, "Not found."},
		{"forbidden", http.StatusForbidden, `{"detail":"Only the host can view attendees"}`, ErrForbidden, "Only the host can view attendees"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var hits int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			tokens := &fakeTokens{access: "a", refresh: "r"}
			c, _ := newTestClient(t, srv, tokens, Options{})
			err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/events/events/1/join/"}, nil)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Do: want %v, got %v", tc.want, err)
			}
			if err.Error() != tc.wantMsg {
				t.Errorf("message = %q, want %q", err.Error(), tc.wantMsg)
			}
			if n := atomic.LoadInt32(&hits); n != 1 {
				t.Errorf("server hits = %d, want 1 (never retried)", n)
			}
			if tokens.refreshes != 0 || len(tokens.logouts) != 0 {
				t.Error("non-401 failures must not refresh or log out")
			}
		})
	}
}

func TestDo_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, &fakeTokens{access: "a", refresh: "r"}, Options{})
	err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/events/events/"}, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Do: want *APIError, got %T %v", err, err)
	}
	if apiErr.Status != http.StatusBadGateway {
		t.Errorf("Status = %d, want 502", apiErr.Status)
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) {
		t.Error("5xx must not match client-error sentinels")
	}
	if apiErr.RequestID == "" {
		t.Error("RequestID should be recorded on the error")
	}
}

func TestDo_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	tokens := &fakeTokens{access: "a", refresh: "r"}
	c := New(Options{BaseURL: url, Timeout: time.Second}).WithTokenSource(tokens)
	err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/events/events/"}, nil)
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("Do: want ErrNetwork, got %v", err)
	}
	if len(tokens.logouts) != 0 {
		t.Error("network errors must not log out")
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, _ := newTestClient(t, srv, &fakeTokens{access: "a", refresh: "r"}, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/events/events/"}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Do: want context.DeadlineExceeded, got %v", err)
	}
}

func TestDo_AuditsSuccessfulMutations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/events/events/9/join/" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"Event capacity full"}`))
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	rec := &recordingAudit{}
	c, _ := newTestClient(t, srv, &fakeTokens{access: "a", refresh: "r", username: "host1"}, Options{Audit: rec})
	ctx := context.Background()
	_ = c.Do(ctx, Request{Method: http.MethodGet, Path: "/events/events/"}, nil)
	_ = c.Do(ctx, Request{Method: http.MethodPost, Path: "/events/events/scan-qr/", Body: map[string]string{"qr_token": "t"}}, nil)
	_ = c.Do(ctx, Request{Method: http.MethodPost, Path: "/events/events/9/join/"}, nil)

	if len(rec.actions) != 1 {
		t.Fatalf("audit actions = %v, want only the scan", rec.actions)
	}
	if rec.actions[0] != "ticket.scan ticket" {
		t.Errorf("action = %q", rec.actions[0])
	}
	if rec.users[0] != "host1" {
		t.Errorf("username = %q, want host1", rec.users[0])
	}
}

func TestSend_NoRefresh(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Header.Get("Authorization") != "Bearer explicit" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &fakeTokens{access: "a", refresh: "r"}
	c, _ := newTestClient(t, srv, tokens, Options{})
	err := c.Send(context.Background(), Request{Method: http.MethodGet, Path: "/accounts/me/"}, "explicit", nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Send: want ErrUnauthorized, got %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 || tokens.refreshes != 0 {
		t.Errorf("hits = %d refreshes = %d, want 1 and 0", n, tokens.refreshes)
	}
}

func TestDo_RateLimiterHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	lim := rate.NewLimiter(rate.Every(time.Hour), 1)
	c, _ := newTestClient(t, srv, nil, Options{Limiter: lim})
	if err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x/"}, nil); err != nil {
		t.Fatalf("first Do: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/x/"}, nil); err == nil {
		t.Fatal("second Do should fail while the limiter has no tokens")
	}
}

func TestAPIError_Messages(t *testing.T) {
	if got := (&APIError{Status: 500}).Error(); got != "api: 500 Internal Server Error" {
		t.Errorf("Error() = %q", got)
	}
	if got := (&APIError{Status: 599}).Error(); got != "api: unexpected status 599" {
		t.Errorf("Error() = %q", got)
	}
	err := Validation("payment reference is required")
	if !errors.Is(err, ErrValidation) || MessageOf(err) != "payment reference is required" {
		t.Errorf("Validation() = %v", err)
	}
}

func TestDo_PropagatesTraceContext(t *testing.T) {
	old := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(old) })

	var traceparent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("Traceparent")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	c := New(Options{BaseURL: srv.URL, Tracer: tp.Tracer("test")})
	if err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/events/events/"}, nil); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !strings.HasPrefix(traceparent, "00-") {
		t.Errorf("traceparent = %q, want a W3C trace context", traceparent)
	}
}
