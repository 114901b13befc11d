package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var (
	// ErrAuthentication is returned when credentials are rejected at login. The message is
	// deliberately generic; server detail is never echoed.
	ErrAuthentication = errors.New("invalid username or password")
	// ErrAuthorizationExpired is returned when a request is still unauthorized after the one
	// permitted retry, or when no refresh token is available. The session has been cleared.
	ErrAuthorizationExpired = errors.New("authorization expired, please log in again")
	// ErrRefreshFailed is returned when the refresh-token exchange fails. The session has been cleared.
	ErrRefreshFailed = errors.New("session refresh failed, please log in again")
	// ErrValidation is matched by 400/422 responses; the *APIError carries the server message verbatim.
	ErrValidation = errors.New("validation failed")
	// ErrNetwork is returned on transport failure (no response received).
	ErrNetwork = errors.New("network error")
	// ErrNotFound is matched by 404 responses.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is matched by 403 responses.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthorized is matched by 401 responses. The pipeline consumes it; callers of Do see
	// ErrRefreshFailed or ErrAuthorizationExpired instead.
	ErrUnauthorized = errors.New("unauthorized")
)

// APIError is a non-2xx response from the API.
type APIError struct {
	Status    int
	Message   string // server's error/detail text, verbatim; empty when the body had none
	RequestID string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if text := http.StatusText(e.Status); text != "" {
		return fmt.Sprintf("api: %d %s", e.Status, text)
	}
	return fmt.Sprintf("api: unexpected status %d", e.Status)
}

// Unwrap maps the status to its sentinel so callers can use errors.Is.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusConflict:
		return ErrValidation
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

// Validation returns an *APIError matching ErrValidation, for checks done before any network call.
func Validation(msg string) error {
	return &APIError{Status: http.StatusBadRequest, Message: msg}
}

// MessageOf returns the server message carried by err, or "" when there is none.
func MessageOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return ""
}

func newAPIError(status int, body []byte, requestID string) *APIError {
	return &APIError{Status: status, Message: serverMessage(body), RequestID: requestID}
}

// serverMessage extracts a human message from a JSON error body: "error", then "detail",
// then "message", then the first field error ("field: text").
func serverMessage(body []byte) string {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return ""
	}
	for _, k := range []string{"error", "detail", "message"} {
		if s := firstString(m[k]); s != "" {
			return s
		}
	}
	if s := firstString(m["non_field_errors"]); s != "" {
		return s
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s := firstString(m[k]); s != "" {
			return k + ": " + s
		}
	}
	return ""
}

func firstString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return strings.TrimSpace(list[0])
	}
	return ""
}
