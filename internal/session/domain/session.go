package domain

import "time"

// Session is the authenticated state of the client: the token pair plus identity derived from
// the profile fetched at login. It is persisted as a single storage entry.
type Session struct {
	AccessToken  string `json:"access"`
	RefreshToken string `json:"refresh"`
	Username     string `json:"username"`
	IsAdmin      bool   `json:"isAdmin"`

	// AccessExpiresAt is decoded from the access token's exp claim; zero when unknown.
	// Display only, never persisted.
	AccessExpiresAt time.Time `json:"-"`
}

// Valid reports whether the session carries an access token and a username.
func (s Session) Valid() bool {
	return s.AccessToken != "" && s.Username != ""
}

// CanRefresh reports whether a silent refresh can be attempted.
func (s Session) CanRefresh() bool {
	return s.RefreshToken != ""
}

// Profile is the identity returned by GET /accounts/me/.
type Profile struct {
	Username    string `json:"username"`
	IsStaff     bool   `json:"is_staff"`
	IsSuperuser bool   `json:"is_superuser"`
}

// IsAdmin is true for staff or superusers.
func (p Profile) IsAdmin() bool {
	return p.IsStaff || p.IsSuperuser
}

// Event names emitted on session lifecycle changes.
const (
	EventLogin        = "login"
	EventLoginFailed  = "login_failed"
	EventRefresh      = "refresh"
	EventLogout       = "logout"
	EventForcedLogout = "forced_logout"
	EventRegister     = "register"
)
