package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Event categories.
const (
	CategoryFree = "free"
	CategoryPaid = "paid"
)

// Event is an EventSphere event as returned by the API.
type Event struct {
	ID             int       `json:"id"`
	Host           string    `json:"host"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Image          string    `json:"image"`
	Category       string    `json:"category"`
	PlaceName      string    `json:"place_name"`
	Location       string    `json:"location"`
	Date           time.Time `json:"date"`
	Capacity       int       `json:"capacity"`
	AttendeesCount int       `json:"attendees_count"`
	Price          *Amount   `json:"price"`
	Approved       bool      `json:"approved"`
	CreatedAt      time.Time `json:"created_at"`
	// PaymentUPI is the manual payment collection identifier, when the host configured one.
	PaymentUPI string `json:"payment_upi,omitempty"`
}

// IsFull reports whether no seats remain.
func (e Event) IsFull() bool {
	return e.AttendeesCount >= e.Capacity
}

// IsPaid reports whether joining requires payment.
func (e Event) IsPaid() bool {
	return e.Category == CategoryPaid
}

// SeatsLeft is the number of free seats, never negative.
func (e Event) SeatsLeft() int {
	if n := e.Capacity - e.AttendeesCount; n > 0 {
		return n
	}
	return 0
}

// Amount is a decimal price. The API serializes decimals as strings ("500.00") but numbers are
// accepted too.
type Amount string

// UnmarshalJSON accepts a JSON string or number.
func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*a = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = Amount(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("amount: expected string or number")
	}
	*a = Amount(n.String())
	return nil
}

// Float returns the numeric value, 0 when unparseable.
func (a Amount) Float() float64 {
	f, err := strconv.ParseFloat(string(a), 64)
	if err != nil {
		return 0
	}
	return f
}

func (a Amount) String() string {
	return string(a)
}

// CreateInput is the body of POST /events/events/.
type CreateInput struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	PlaceName   string    `json:"place_name"`
	Location    string    `json:"location"`
	Date        time.Time `json:"date"`
	Capacity    int       `json:"capacity"`
	// Price is sent as null for free events regardless of what the caller set.
	Price *Amount `json:"price"`
}

// JoinResult is the response of POST /events/events/{id}/join/. A paid event yields a
// RegistrationID; a free event yields a confirmation (and sometimes a QR image or token).
type JoinResult struct {
	Message        string `json:"message"`
	RegistrationID int    `json:"registration_id"`
	QRCode         string `json:"qr_code"`
	QRToken        string `json:"qr_token"`
}

// RequiresPayment reports whether the join created a registration awaiting payment.
func (r JoinResult) RequiresPayment() bool {
	return r.RegistrationID != 0
}

// MyEvent is one entry of GET /events/my-events/: the event plus the caller's registration.
type MyEvent struct {
	Event
	RegistrationID int    `json:"registration_id"`
	Status         string `json:"status,omitempty"`
	IsPaid         bool   `json:"is_paid"`
	IsApproved     bool   `json:"is_approved"`
	IsScanned      bool   `json:"is_scanned"`
	QRToken        string `json:"qr_token"`
	QRImage        string `json:"qr_image"`
}

// Attendee is one row of a hosted event's attendee list.
type Attendee struct {
	ID        int        `json:"id"`
	Username  string     `json:"username"`
	IsPaid    bool       `json:"is_paid"`
	IsScanned bool       `json:"is_scanned"`
	ScannedAt *time.Time `json:"scanned_at"`
}

// AttendeeList is the response of GET /events/hosted/{id}/attendees/.
type AttendeeList struct {
	Event     string     `json:"event"`
	Attendees []Attendee `json:"attendees"`
}

// ScanResult confirms a check-in.
type ScanResult struct {
	Message   string    `json:"message"`
	User      string    `json:"user"`
	Event     string    `json:"event"`
	ScannedAt time.Time `json:"scanned_at"`
}
