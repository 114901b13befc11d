// Package ticket renders approved registrations as QR tickets and keeps an offline copy in the
// local state database.
package ticket

import (
	"errors"
	"time"

	"github.com/alanmathew190/EventManagementSystem/internal/event/domain"
	"github.com/alanmathew190/EventManagementSystem/internal/registration"
)

// ErrTicketLocked is returned for a registration that is not approved yet.
var ErrTicketLocked = errors.New("ticket is locked until the registration is approved")

// Ticket is an approved registration's check-in credential.
type Ticket struct {
	EventID    int
	Username   string
	EventTitle string
	EventDate  time.Time
	PlaceName  string
	QRToken    string
	IsScanned  bool
	CachedAt   time.Time
}

// FromMyEvent builds the ticket for a my-events entry. Only an approved registration with a QR
// token unlocks it; the scanned flag is carried along but never gates it.
func FromMyEvent(m domain.MyEvent, username string) (Ticket, error) {
	reg := registration.FromMyEvent(m)
	if reg.Status != registration.Approved || reg.QRToken == "" {
		return Ticket{}, ErrTicketLocked
	}
	return Ticket{
		EventID:    m.ID,
		Username:   username,
		EventTitle: m.Title,
		EventDate:  m.Date,
		PlaceName:  m.PlaceName,
		QRToken:    reg.QRToken,
		IsScanned:  reg.IsScanned,
	}, nil
}
