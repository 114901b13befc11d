package registration

import "github.com/alanmathew190/EventManagementSystem/internal/event/domain"

// PaymentMode selects how a pending payment is settled. Exactly one mode is active.
type PaymentMode string

const (
	ManualReference PaymentMode = "manual"
	GatewayCheckout PaymentMode = "gateway"
)

// User-facing messages.
const (
	MsgEventFull       = "Event capacity full"
	MsgJoinedFree      = "Successfully joined!"
	MsgPaymentRequired = "Registration created. Please complete payment."
	MsgAwaitApproval   = "Waiting for host approval"
	MsgTicketReady     = "Show this QR at the event"
)

// Affordances is what a view may offer for one event and registration.
type Affordances struct {
	Status Status

	ShowJoin     bool
	JoinDisabled bool

	ShowPayment bool
	PaymentMode PaymentMode
	// PaymentTarget is the collection identifier shown for manual payment.
	PaymentTarget string

	ShowTicket bool
	QRToken    string
	Scanned    bool

	Message string
}

// Interpret derives affordances. e must be the latest fetched snapshot: the join is disabled
// against its attendee count, never a cached one.
func Interpret(e domain.Event, r Registration, mode PaymentMode) Affordances {
	status := r.Status
	if !status.Valid() {
		status = NotRegistered
	}
	a := Affordances{Status: status, Scanned: r.IsScanned}

	switch status {
	case NotRegistered:
		a.ShowJoin = true
		if e.IsFull() {
			a.JoinDisabled = true
			a.Message = MsgEventFull
		}
	case PendingPayment:
		a.ShowPayment = true
		a.PaymentMode = mode
		if mode != GatewayCheckout {
			a.PaymentMode = ManualReference
			a.PaymentTarget = e.PaymentUPI
		}
		a.Message = MsgPaymentRequired
	case PaymentSubmitted:
		a.Message = MsgAwaitApproval
	case Approved:
		if r.QRToken != "" {
			a.ShowTicket = true
			a.QRToken = r.QRToken
			a.Message = MsgTicketReady
		} else {
			a.Message = MsgJoinedFree
		}
	}
	return a
}

// AfterJoin interprets a join response: free events land directly in approved, paid events in
// pending payment with the returned registration id.
func AfterJoin(e domain.Event, res domain.JoinResult, mode PaymentMode) (Registration, Affordances, error) {
	action := JoinAction(e)
	if res.RequiresPayment() {
		action = JoinPaid
	}
	next, err := Transition(NotRegistered, action)
	if err != nil {
		return Registration{}, Affordances{}, err
	}
	r := Registration{ID: res.RegistrationID, EventID: e.ID, Status: next}
	if next == Approved {
		r.QRToken = res.QRToken
	}
	return r, Interpret(e, r, mode), nil
}
