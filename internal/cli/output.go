package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/alanmathew190/EventManagementSystem/internal/apiclient"
	"github.com/alanmathew190/EventManagementSystem/internal/event"
	"github.com/alanmathew190/EventManagementSystem/internal/event/domain"
	"github.com/alanmathew190/EventManagementSystem/internal/registration"
)

var (
	errNotLoggedIn = errors.New("not logged in; run `eventsphere login` first")
	errAdminOnly   = errors.New("this command requires an administrator account")
	errHelp        = errors.New("help requested")
)

// usageError marks bad arguments; Run exits with status 2.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// describe turns an error into the message shown to the user. Server messages are shown
// verbatim; credential failures stay generic.
func describe(err error) string {
	switch {
	case errors.Is(err, apiclient.ErrAuthentication):
		return apiclient.ErrAuthentication.Error()
	case errors.Is(err, apiclient.ErrAuthorizationExpired), errors.Is(err, apiclient.ErrRefreshFailed):
		return "your session has expired; run `eventsphere login` to sign in again"
	case errors.Is(err, event.ErrEventFull):
		return registration.MsgEventFull
	case errors.Is(err, apiclient.ErrNetwork):
		return "cannot reach the EventSphere API: " + err.Error()
	}
	if msg := apiclient.MessageOf(err); msg != "" {
		return msg
	}
	return err.Error()
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func writeEvents(w io.Writer, events []domain.Event) error {
	if len(events) == 0 {
		_, err := fmt.Fprintln(w, "No events found.")
		return err
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tTITLE\tWHEN\tPLACE\tSEATS\tPRICE")
	for _, e := range events {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", e.ID, e.Title, when(e.Date), e.PlaceName, seats(e), price(e))
	}
	return tw.Flush()
}

func writeEvent(w io.Writer, e domain.Event) {
	fmt.Fprintf(w, "%s (#%d)\n", e.Title, e.ID)
	if e.Description != "" {
		fmt.Fprintf(w, "  %s\n", e.Description)
	}
	fmt.Fprintf(w, "  When:   %s (%s)\n", e.Date.Local().Format("Mon 02 Jan 2006 15:04"), when(e.Date))
	fmt.Fprintf(w, "  Where:  %s, %s\n", e.PlaceName, e.Location)
	fmt.Fprintf(w, "  Host:   %s\n", e.Host)
	fmt.Fprintf(w, "  Seats:  %s\n", seats(e))
	fmt.Fprintf(w, "  Price:  %s\n", price(e))
	if !e.Approved {
		fmt.Fprintln(w, "  Status: awaiting admin approval")
	}
}

// writeAffordances prints what the user can do next for one registration.
func writeAffordances(w io.Writer, eventID int, a registration.Affordances) {
	if a.Message != "" {
		fmt.Fprintln(w, a.Message)
	}
	switch {
	case a.ShowJoin && !a.JoinDisabled:
		fmt.Fprintf(w, "Join with: eventsphere join %d\n", eventID)
	case a.ShowPayment && a.PaymentMode == registration.GatewayCheckout:
		fmt.Fprintf(w, "Pay with: eventsphere pay %d\n", eventID)
	case a.ShowPayment:
		if a.PaymentTarget != "" {
			fmt.Fprintf(w, "Pay to: %s\n", a.PaymentTarget)
		}
		fmt.Fprintf(w, "Then submit: eventsphere pay -ref <transaction-id> %d\n", eventID)
	case a.ShowTicket && a.Scanned:
		fmt.Fprintln(w, "Ticket already checked in.")
	case a.ShowTicket:
		fmt.Fprintf(w, "Show ticket: eventsphere ticket %d\n", eventID)
	}
}

func when(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func seats(e domain.Event) string {
	if e.IsFull() {
		return "full"
	}
	return fmt.Sprintf("%s of %s left", humanize.Comma(int64(e.SeatsLeft())), humanize.Comma(int64(e.Capacity)))
}

func price(e domain.Event) string {
	if !e.IsPaid() || e.Price == nil {
		return "free"
	}
	return humanize.CommafWithDigits(e.Price.Float(), 2)
}

func statusLabel(s registration.Status) string {
	return strings.ReplaceAll(string(s), "_", " ")
}
