// Package registration interprets server-reported registration state into what the user may do
// next. Nothing here performs I/O.
package registration

import (
	"errors"
	"fmt"

	"github.com/alanmathew190/EventManagementSystem/internal/event/domain"
)

// ErrInvalidTransition is returned for a state change the registration lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid registration transition")

// Status is the server-reported registration state.
type Status string

const (
	NotRegistered    Status = "not_registered"
	PendingPayment   Status = "pending_payment"
	PaymentSubmitted Status = "payment_submitted"
	Approved         Status = "approved"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case NotRegistered, PendingPayment, PaymentSubmitted, Approved:
		return true
	}
	return false
}

// Action is a step that moves a registration forward.
type Action string

const (
	JoinFree      Action = "join_free"
	JoinPaid      Action = "join_paid"
	SubmitPayment Action = "submit_payment"
	HostApprove   Action = "approve"
)

// Registration is a user's join request against one event.
type Registration struct {
	ID        int
	EventID   int
	Status    Status
	IsScanned bool
	// QRToken is meaningful only when Status is Approved.
	QRToken string
}

// Transition returns the status reached by applying action in from.
//
//	not_registered --join_free--> approved
//	not_registered --join_paid--> pending_payment --submit_payment--> payment_submitted --approve--> approved
func Transition(from Status, action Action) (Status, error) {
	switch {
	case from == NotRegistered && action == JoinFree:
		return Approved, nil
	case from == NotRegistered && action == JoinPaid:
		return PendingPayment, nil
	case from == PendingPayment && action == SubmitPayment:
		return PaymentSubmitted, nil
	case from == PaymentSubmitted && action == HostApprove:
		return Approved, nil
	}
	return from, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, action, from)
}

// JoinAction picks the join action for an event's category.
func JoinAction(e domain.Event) Action {
	if e.IsPaid() {
		return JoinPaid
	}
	return JoinFree
}

// MarkScanned records a check-in. Scanning is only possible once approved and never reverts.
func MarkScanned(r Registration, scanned bool) (Registration, error) {
	if r.IsScanned && !scanned {
		return r, fmt.Errorf("%w: a scanned ticket cannot be unscanned", ErrInvalidTransition)
	}
	if scanned && r.Status != Approved {
		return r, fmt.Errorf("%w: scan requires an approved registration, have %s", ErrInvalidTransition, r.Status)
	}
	r.IsScanned = scanned
	return r, nil
}

// Derive maps the my-events listing to a status. An explicit status wins; otherwise the
// booleans decide: approved beats paid, and a listed registration is at least pending payment.
func Derive(status string, isPaid, isApproved bool) Status {
	if s := Status(status); s.Valid() {
		return s
	}
	switch {
	case isApproved:
		return Approved
	case isPaid:
		return PaymentSubmitted
	default:
		return PendingPayment
	}
}

// FromMyEvent builds a Registration from a my-events entry.
func FromMyEvent(m domain.MyEvent) Registration {
	r := Registration{
		ID:        m.RegistrationID,
		EventID:   m.ID,
		Status:    Derive(m.Status, m.IsPaid, m.IsApproved),
	}
	if r.Status == Approved {
		r.QRToken = m.QRToken
	}
	// A check-in reported for a registration that is not approved is ignored.
	if scanned, err := MarkScanned(r, m.IsScanned); err == nil {
		r = scanned
	}
	return r
}
