// Package identity wraps the EventSphere account endpoints: login, Google sign-in, token
// refresh, profile lookup and registration.
package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/alanmathew190/EventManagementSystem/internal/apiclient"
	"github.com/alanmathew190/EventManagementSystem/internal/session/domain"
)

// ErrMissingTokens is returned when a login or refresh response lacks the expected tokens.
var ErrMissingTokens = errors.New("identity: response is missing tokens")

// TokenPair is the body of a successful login or refresh. Refresh is empty when the server
// does not rotate refresh tokens.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Client calls the account endpoints. Every call is a single attempt with an explicit token;
// none of them go through refresh-on-401.
type Client struct {
	api *apiclient.Client
}

// NewClient returns an identity client on top of api.
func NewClient(api *apiclient.Client) *Client {
	return &Client{api: api}
}

// Login exchanges a username and password for a token pair. Rejected credentials yield
// ErrAuthentication regardless of what the server said.
func (c *Client) Login(ctx context.Context, username, password string) (TokenPair, error) {
	var pair TokenPair
	err := c.api.Send(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/accounts/login/",
		Body:   map[string]string{"username": username, "password": password},
	}, "", &pair)
	if err != nil {
		return TokenPair{}, credentialError(err)
	}
	if pair.Access == "" || pair.Refresh == "" {
		return TokenPair{}, ErrMissingTokens
	}
	return pair, nil
}

// LoginGoogle exchanges a Google ID token for a token pair.
func (c *Client) LoginGoogle(ctx context.Context, idToken string) (TokenPair, error) {
	var pair TokenPair
	err := c.api.Send(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/accounts/google/",
		Body:   map[string]string{"token": idToken},
	}, "", &pair)
	if err != nil {
		return TokenPair{}, credentialError(err)
	}
	if pair.Access == "" || pair.Refresh == "" {
		return TokenPair{}, ErrMissingTokens
	}
	return pair, nil
}

// Refresh exchanges a refresh token for a new access token (and a new refresh token when the
// server rotates them).
func (c *Client) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	var pair TokenPair
	err := c.api.Send(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/accounts/refresh/",
		Body:   map[string]string{"refresh": refreshToken},
	}, "", &pair)
	if err != nil {
		return TokenPair{}, err
	}
	if pair.Access == "" {
		return TokenPair{}, ErrMissingTokens
	}
	return pair, nil
}

// Me returns the profile of the user that owns accessToken.
func (c *Client) Me(ctx context.Context, accessToken string) (domain.Profile, error) {
	var p domain.Profile
	err := c.api.Send(ctx, apiclient.Request{Method: http.MethodGet, Path: "/accounts/me/"}, accessToken, &p)
	if err != nil {
		return domain.Profile{}, err
	}
	if strings.TrimSpace(p.Username) == "" {
		return domain.Profile{}, errors.New("identity: profile has no username")
	}
	return p, nil
}

// Register creates an account. A taken username surfaces as ErrValidation with the server's message.
func (c *Client) Register(ctx context.Context, username, password string) error {
	return c.api.Send(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/accounts/register/",
		Body:   map[string]string{"username": username, "password": password},
	}, "", nil)
}

// credentialError hides server detail for rejected credentials. Transport and 5xx errors pass through.
func credentialError(err error) error {
	if errors.Is(err, apiclient.ErrUnauthorized) || errors.Is(err, apiclient.ErrValidation) || errors.Is(err, apiclient.ErrForbidden) {
		return apiclient.ErrAuthentication
	}
	return err
}
