// Package service owns the client session: login, silent refresh, logout and restore from the
// token store.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/alanmathew190/EventManagementSystem/internal/apiclient"
	"github.com/alanmathew190/EventManagementSystem/internal/audit"
	"github.com/alanmathew190/EventManagementSystem/internal/identity"
	"github.com/alanmathew190/EventManagementSystem/internal/security"
	"github.com/alanmathew190/EventManagementSystem/internal/session/domain"
	"github.com/alanmathew190/EventManagementSystem/internal/session/repository"
	"github.com/alanmathew190/EventManagementSystem/internal/telemetry"
	telemetryotel "github.com/alanmathew190/EventManagementSystem/internal/telemetry/otel"
)

const defaultRefreshTimeout = 15 * time.Second

// IdentityAPI is the minimal account API needed by the manager. *identity.Client implements it.
type IdentityAPI interface {
	Login(ctx context.Context, username, password string) (identity.TokenPair, error)
	LoginGoogle(ctx context.Context, idToken string) (identity.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (identity.TokenPair, error)
	Me(ctx context.Context, accessToken string) (domain.Profile, error)
	Register(ctx context.Context, username, password string) error
}

// Options carries the manager's optional collaborators. All fields may be zero.
type Options struct {
	Audit   audit.AuditLogger
	Emitter telemetry.EventEmitter
	Metrics *telemetryotel.ClientMetrics
	// RefreshTimeout bounds the shared refresh exchange, which outlives any single caller.
	RefreshTimeout time.Duration
	// OnLoading is called when a login starts (true) and when it ends (false).
	OnLoading func(loading bool)
}

// Manager owns the single in-memory Session and its persisted copy. Readers get copies. It
// implements apiclient.TokenSource.
type Manager struct {
	api            IdentityAPI
	repo           repository.Repository
	audit          audit.AuditLogger
	emitter        telemetry.EventEmitter
	metrics        *telemetryotel.ClientMetrics
	refreshTimeout time.Duration
	onLoading      func(bool)

	mu       sync.Mutex
	session  *domain.Session
	inflight int

	// unannounced is set when a failed refresh ended the session and no ForceLogout caller
	// has reported it yet.
	unannounced bool

	refreshes singleflight.Group
}

// NewManager restores any stored session and returns the manager. A corrupt stored session is
// discarded. A session sealed under another passphrase is kept on disk and the manager starts
// logged out. Other storage errors are returned.
func NewManager(ctx context.Context, api IdentityAPI, repo repository.Repository, opts Options) (*Manager, error) {
	m := &Manager{
		api:            api,
		repo:           repo,
		audit:          opts.Audit,
		emitter:        opts.Emitter,
		metrics:        opts.Metrics,
		refreshTimeout: opts.RefreshTimeout,
		onLoading:      opts.OnLoading,
	}
	if m.refreshTimeout <= 0 {
		m.refreshTimeout = defaultRefreshTimeout
	}

	s, err := repo.Load(ctx)
	if errors.Is(err, repository.ErrSealed) {
		log.Printf("session: stored session left in place: %v", err)
		return m, nil
	}
	if errors.Is(err, repository.ErrCorrupt) {
		log.Printf("session: discarding stored session: %v", err)
		if err := repo.Clear(ctx); err != nil {
			log.Printf("session: failed to clear corrupt session: %v", err)
		}
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: restore: %w", err)
	}
	if s != nil {
		s.AccessExpiresAt = accessExpiry(s.AccessToken)
		m.session = s
	}
	return m, nil
}

// Current returns a copy of the session; ok is false when logged out.
func (m *Manager) Current() (domain.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return domain.Session{}, false
	}
	return *m.session, true
}

// Loading reports whether a login is in progress.
func (m *Manager) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight > 0
}

// Credentials implements apiclient.TokenSource.
func (m *Manager) Credentials() apiclient.Credentials {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return apiclient.Credentials{}
	}
	return apiclient.Credentials{
		AccessToken: m.session.AccessToken,
		Username:    m.session.Username,
		CanRefresh:  m.session.CanRefresh(),
	}
}

// LoginWithPassword logs in, fetches the profile and persists the new session. Rejected
// credentials yield apiclient.ErrAuthentication.
func (m *Manager) LoginWithPassword(ctx context.Context, username, password string) (domain.Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.Session{}, apiclient.Validation("username and password are required")
	}
	m.beginLoading()
	defer m.endLoading()

	pair, err := m.api.Login(ctx, username, password)
	if err != nil {
		m.record(ctx, domain.EventLoginFailed, username, map[string]string{"method": "password"})
		return domain.Session{}, err
	}
	return m.establish(ctx, pair, "password")
}

// LoginWithGoogle exchanges a Google ID token for a session.
func (m *Manager) LoginWithGoogle(ctx context.Context, idToken string) (domain.Session, error) {
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return domain.Session{}, apiclient.Validation("google id token is required")
	}
	m.beginLoading()
	defer m.endLoading()

	pair, err := m.api.LoginGoogle(ctx, idToken)
	if err != nil {
		m.record(ctx, domain.EventLoginFailed, "", map[string]string{"method": "google"})
		return domain.Session{}, err
	}
	return m.establish(ctx, pair, "google")
}

// Register creates an account and logs into it. A taken username yields apiclient.ErrValidation.
func (m *Manager) Register(ctx context.Context, username, password string) (domain.Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.Session{}, apiclient.Validation("username and password are required")
	}
	if err := m.api.Register(ctx, username, password); err != nil {
		return domain.Session{}, err
	}
	m.record(ctx, domain.EventRegister, username, nil)
	return m.LoginWithPassword(ctx, username, password)
}

// Logout clears the session from memory and storage. It is idempotent and never fails;
// storage errors are logged.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	prev := m.dropLocked(ctx)
	if prev == nil {
		m.clearStoreLocked(ctx)
	}
	m.unannounced = false
	m.mu.Unlock()
	if prev != nil {
		m.record(ctx, domain.EventLogout, prev.Username, nil)
	}
}

// ForceLogout implements apiclient.TokenSource. It emits a forced_logout event only when a
// session was actually cleared. It returns true for exactly one caller per ended session,
// including a session ended by a failed refresh.
func (m *Manager) ForceLogout(ctx context.Context, reason string) bool {
	m.mu.Lock()
	prev := m.dropLocked(ctx)
	announce := prev != nil || m.unannounced
	m.unannounced = false
	m.mu.Unlock()
	if prev != nil {
		m.record(ctx, domain.EventForcedLogout, prev.Username, map[string]string{"reason": reason})
	}
	return announce
}

// Refresh implements apiclient.TokenSource. Concurrent callers share one exchange. A caller
// whose stale token has already been replaced gets the current token without a new exchange.
// On failure the session is cleared and the error matches apiclient.ErrRefreshFailed.
func (m *Manager) Refresh(ctx context.Context, staleAccess string) (string, error) {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return "", apiclient.ErrRefreshFailed
	}
	if staleAccess != "" && !security.TokenEqual(staleAccess, s.AccessToken) {
		return s.AccessToken, nil
	}
	if !s.CanRefresh() {
		return "", apiclient.ErrRefreshFailed
	}

	ch := m.refreshes.DoChan("refresh", func() (any, error) {
		return m.exchange()
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	}
}

// exchange runs detached from any one caller so a cancelled request does not abort the
// refresh other requests are waiting on.
func (m *Manager) exchange() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.refreshTimeout)
	defer cancel()

	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return "", apiclient.ErrRefreshFailed
	}

	pair, err := m.api.Refresh(ctx, s.RefreshToken)
	if err != nil {
		m.countRefresh(ctx, "failure")
		log.Printf("session: refresh failed for %s (refresh %s): %v", s.Username, security.Fingerprint(s.RefreshToken), err)
		m.endRefreshed(ctx, s)
		return "", fmt.Errorf("%w: %v", apiclient.ErrRefreshFailed, err)
	}

	next := *s
	next.AccessToken = pair.Access
	if pair.Refresh != "" {
		next.RefreshToken = pair.Refresh
	}
	next.AccessExpiresAt = accessExpiry(pair.Access)

	m.mu.Lock()
	switch {
	case m.session == nil:
		m.mu.Unlock()
		return "", apiclient.ErrRefreshFailed
	case m.session.RefreshToken != s.RefreshToken:
		// A new login replaced the session while the exchange was in flight.
		current := m.session.AccessToken
		m.mu.Unlock()
		return current, nil
	}
	if err := m.repo.Save(ctx, &next); err != nil {
		m.mu.Unlock()
		m.countRefresh(ctx, "failure")
		return "", fmt.Errorf("%w: persist: %v", apiclient.ErrRefreshFailed, err)
	}
	m.session = &next
	m.mu.Unlock()

	m.countRefresh(ctx, "success")
	m.record(ctx, domain.EventRefresh, next.Username, map[string]string{"rotated": fmt.Sprint(pair.Refresh != "")})
	return next.AccessToken, nil
}

// establish fetches the profile for a new token pair and persists the session. Storage is
// written before memory, both under the lock.
func (m *Manager) establish(ctx context.Context, pair identity.TokenPair, method string) (domain.Session, error) {
	profile, err := m.api.Me(ctx, pair.Access)
	if err != nil {
		m.record(ctx, domain.EventLoginFailed, "", map[string]string{"method": method, "stage": "profile"})
		return domain.Session{}, fmt.Errorf("session: fetch profile: %w", err)
	}
	s := &domain.Session{
		AccessToken:     pair.Access,
		RefreshToken:    pair.Refresh,
		Username:        profile.Username,
		IsAdmin:         profile.IsAdmin(),
		AccessExpiresAt: accessExpiry(pair.Access),
	}

	m.mu.Lock()
	if err := m.repo.Save(ctx, s); err != nil {
		m.mu.Unlock()
		return domain.Session{}, fmt.Errorf("session: persist: %w", err)
	}
	m.session = s
	m.unannounced = false
	out := *s
	m.mu.Unlock()

	m.record(ctx, domain.EventLogin, out.Username, map[string]string{"method": method, "admin": fmt.Sprint(out.IsAdmin)})
	return out, nil
}

// endRefreshed ends the session whose refresh token failed, unless a new login replaced it
// meanwhile. The logout is left unannounced for the first ForceLogout caller.
func (m *Manager) endRefreshed(ctx context.Context, failed *domain.Session) {
	m.mu.Lock()
	var prev *domain.Session
	if m.session != nil && m.session.RefreshToken == failed.RefreshToken {
		prev = m.dropLocked(ctx)
		m.unannounced = true
	}
	m.mu.Unlock()
	if prev != nil {
		m.record(ctx, domain.EventForcedLogout, prev.Username, map[string]string{"reason": apiclient.ReasonRefreshFailed})
	}
}

// dropLocked drops the session and returns the previous one, nil if there was none. Storage
// is only touched when there was a session. m.mu must be held.
func (m *Manager) dropLocked(ctx context.Context) *domain.Session {
	prev := m.session
	if prev == nil {
		return nil
	}
	m.session = nil
	m.clearStoreLocked(ctx)
	return prev
}

func (m *Manager) clearStoreLocked(ctx context.Context) {
	if err := m.repo.Clear(ctx); err != nil {
		log.Printf("session: failed to clear token store: %v", err)
	}
}

func (m *Manager) beginLoading() {
	m.mu.Lock()
	m.inflight++
	first := m.inflight == 1
	m.mu.Unlock()
	if first && m.onLoading != nil {
		m.onLoading(true)
	}
}

func (m *Manager) endLoading() {
	m.mu.Lock()
	m.inflight--
	last := m.inflight == 0
	m.mu.Unlock()
	if last && m.onLoading != nil {
		m.onLoading(false)
	}
}

// record emits a lifecycle event to telemetry and the audit trail. Best-effort.
func (m *Manager) record(ctx context.Context, eventType, username string, attrs map[string]string) {
	telemetry.EmitAsync(m.emitter, ctx, &telemetry.Event{
		Type:      eventType,
		Username:  username,
		Source:    "session",
		Attrs:     attrs,
		CreatedAt: time.Now().UTC(),
	})
	if m.audit != nil {
		m.audit.LogEvent(ctx, username, "session."+eventType, "session", metadata(attrs))
	}
}

func (m *Manager) countRefresh(ctx context.Context, outcome string) {
	if m.metrics == nil {
		return
	}
	m.metrics.Refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func accessExpiry(token string) time.Time {
	info, err := security.InspectAccess(token)
	if err != nil {
		return time.Time{}
	}
	return info.ExpiresAt
}

// metadata renders attrs as sorted "k=v" pairs for the audit trail.
func metadata(attrs map[string]string) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+attrs[k])
	}
	return strings.Join(parts, " ")
}
