// Package engine decides whether the current session may open a view, and where to send it
// otherwise.
package engine

import "context"

// Access is the protection level of a view.
type Access string

const (
	Public    Access = "public"
	Protected Access = "protected"
	Admin     Access = "admin"
)

// Redirect targets.
const (
	RedirectLogin  = "/login"
	RedirectEvents = "/events"
)

// View is something the user can open: a CLI command.
type View struct {
	Name   string
	Access Access
}

// Subject is what the guard knows about the current session.
type Subject struct {
	Authenticated bool
	Username      string
	IsAdmin       bool
}

// Decision is the guard's verdict. Redirect is set when Allow is false and a place to go exists.
type Decision struct {
	Allow    bool
	Redirect string
}

// Guard authorizes views.
type Guard interface {
	Authorize(ctx context.Context, view View, subject Subject) (Decision, error)
}
