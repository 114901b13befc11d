package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/alanmathew190/EventManagementSystem/internal/apiclient"
	"github.com/alanmathew190/EventManagementSystem/internal/event/domain"
	"github.com/alanmathew190/EventManagementSystem/internal/health"
	"github.com/alanmathew190/EventManagementSystem/internal/payment"
	"github.com/alanmathew190/EventManagementSystem/internal/registration"
	"github.com/alanmathew190/EventManagementSystem/internal/scanner"
	"github.com/alanmathew190/EventManagementSystem/internal/security"
	"github.com/alanmathew190/EventManagementSystem/internal/ticket"
)

// accessExpiryNotice is how close to expiry whoami starts mentioning the refresh.
const accessExpiryNotice = 2 * time.Minute

type command struct {
	name    string
	usage   string
	summary string
	run     func(*App, context.Context, []string) error
}

var commands = []command{
	{"login", "[-u username]", "sign in with username and password", (*App).login},
	{"login-google", "[-token id-token]", "sign in with a Google ID token", (*App).loginGoogle},
	{"register", "[-u username]", "create an account and sign in", (*App).register},
	{"logout", "", "sign out and forget cached tickets", (*App).logout},
	{"whoami", "", "show the signed-in user", (*App).whoami},
	{"events", "[-location text]", "list approved events", (*App).listEvents},
	{"event", "<id>", "show an event and what you can do with it", (*App).showEvent},
	{"join", "<id>", "join an event", (*App).join},
	{"pay", "[-ref id | -order id -payment id -signature sig] <id>", "pay for a joined paid event", (*App).pay},
	{"my-events", "", "list events you joined", (*App).myEvents},
	{"ticket", "[-png | -qr] <id>", "show the QR ticket for an approved registration", (*App).showTicket},
	{"tickets", "", "list tickets saved on this device, without contacting the API", (*App).savedTickets},
	{"create-event", "-title t -date d -capacity n [-category free|paid -price p ...]", "host a new event", (*App).createEvent},
	{"hosted", "", "list events you host", (*App).hosted},
	{"attendees", "<id>", "list attendees of an event you host", (*App).attendees},
	{"scan", "[token...]", "check in attendees; reads tokens from stdin when none are given", (*App).scan},
	{"pending", "", "list events awaiting approval (admin)", (*App).pending},
	{"approve", "<id>", "approve an event (admin)", (*App).approve},
	{"audit", "[-action a] [-n count]", "show the local audit trail", (*App).auditTrail},
	{"doctor", "", "check API, local state and access policy", (*App).doctor},
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func (a *App) usage(w io.Writer) {
	fmt.Fprintln(w, "usage: eventsphere <command> [flags] [args]")
	fmt.Fprintln(w)
	tw := newTable(w)
	for _, c := range commands {
		fmt.Fprintf(tw, "  %s\t%s\n", c.name, c.summary)
	}
	tw.Flush()
}

func (a *App) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.err)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return errHelp
		}
		return usagef("%v", err)
	}
	return nil
}

func noArgs(fs *flag.FlagSet) error {
	if fs.NArg() != 0 {
		return usagef("unexpected argument %q", fs.Arg(0))
	}
	return nil
}

func idArg(fs *flag.FlagSet) (int, error) {
	if fs.NArg() != 1 {
		return 0, usagef("expected exactly one event id (flags go before it)")
	}
	id, err := strconv.Atoi(fs.Arg(0))
	if err != nil || id <= 0 {
		return 0, usagef("invalid event id %q", fs.Arg(0))
	}
	return id, nil
}

func (a *App) credentials(name string, args []string) (string, string, error) {
	fs := a.flags(name)
	user := fs.String("u", "", "username")
	if err := parse(fs, args); err != nil {
		return "", "", err
	}
	if err := noArgs(fs); err != nil {
		return "", "", err
	}
	username := strings.TrimSpace(*user)
	if username == "" {
		line, err := a.readLine("Username: ")
		if err != nil {
			return "", "", fmt.Errorf("read username: %w", err)
		}
		username = strings.TrimSpace(line)
	}
	password, err := a.readSecret("Password: ")
	if err != nil {
		return "", "", err
	}
	return username, password, nil
}

func (a *App) login(ctx context.Context, args []string) error {
	username, password, err := a.credentials("login", args)
	if err != nil {
		return err
	}
	s, err := a.session.LoginWithPassword(ctx, username, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Logged in as %s%s.\n", s.Username, role(s.IsAdmin))
	return nil
}

func (a *App) loginGoogle(ctx context.Context, args []string) error {
	fs := a.flags("login-google")
	token := fs.String("token", "", "Google ID token")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := noArgs(fs); err != nil {
		return err
	}
	idToken := strings.TrimSpace(*token)
	if idToken == "" {
		line, err := a.readLine("Google ID token: ")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		idToken = strings.TrimSpace(line)
	}
	s, err := a.session.LoginWithGoogle(ctx, idToken)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Logged in as %s%s.\n", s.Username, role(s.IsAdmin))
	return nil
}

func (a *App) register(ctx context.Context, args []string) error {
	username, password, err := a.credentials("register", args)
	if err != nil {
		return err
	}
	s, err := a.session.Register(ctx, username, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Account created. Logged in as %s.\n", s.Username)
	return nil
}

func (a *App) logout(ctx context.Context, args []string) error {
	fs := a.flags("logout")
	if err := parse(fs, args); err != nil {
		return err
	}
	username := a.username()
	a.session.Logout(ctx)
	if username != "" {
		if err := a.tickets.Delete(ctx, username); err != nil {
			log.Printf("cli: forget cached tickets: %v", err)
		}
	}
	fmt.Fprintln(a.out, "Logged out.")
	return nil
}

func (a *App) whoami(_ context.Context, args []string) error {
	fs := a.flags("whoami")
	if err := parse(fs, args); err != nil {
		return err
	}
	s, ok := a.session.Current()
	if !ok {
		fmt.Fprintln(a.out, "Not logged in.")
		return nil
	}
	fmt.Fprintf(a.out, "%s%s\n", s.Username, role(s.IsAdmin))
	if !s.AccessExpiresAt.IsZero() {
		verb := "expires"
		if s.AccessExpiresAt.Before(time.Now()) {
			verb = "expired"
		}
		fmt.Fprintf(a.out, "Access token %s %s.\n", verb, humanize.Time(s.AccessExpiresAt))
	}
	if info, err := security.InspectAccess(s.AccessToken); err == nil && info.ExpiresWithin(accessExpiryNotice, time.Now()) {
		if s.CanRefresh() {
			fmt.Fprintln(a.out, "It will be refreshed on the next request.")
		} else {
			fmt.Fprintln(a.out, "No refresh token is stored; sign in again soon.")
		}
	}
	return nil
}

func (a *App) listEvents(ctx context.Context, args []string) error {
	fs := a.flags("events")
	location := fs.String("location", "", "filter by location")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := noArgs(fs); err != nil {
		return err
	}
	events, err := a.events.List(ctx, *location)
	if err != nil {
		return err
	}
	return writeEvents(a.out, events)
}

// registrationFor finds the caller's registration for eventID in my-events. A missing entry
// means not registered.
func (a *App) registrationFor(ctx context.Context, eventID int) (registration.Registration, *domain.MyEvent, error) {
	mine, err := a.events.MyEvents(ctx)
	if err != nil {
		return registration.Registration{}, nil, err
	}
	for i := range mine {
		if mine[i].ID == eventID {
			return registration.FromMyEvent(mine[i]), &mine[i], nil
		}
	}
	return registration.Registration{EventID: eventID, Status: registration.NotRegistered}, nil, nil
}

func (a *App) showEvent(ctx context.Context, args []string) error {
	fs := a.flags("event")
	if err := parse(fs, args); err != nil {
		return err
	}
	id, err := idArg(fs)
	if err != nil {
		return err
	}
	e, err := a.events.Get(ctx, id)
	if err != nil {
		return err
	}
	reg, _, err := a.registrationFor(ctx, id)
	if err != nil {
		return err
	}
	writeEvent(a.out, e)
	fmt.Fprintln(a.out)
	writeAffordances(a.out, id, registration.Interpret(e, reg, a.payments.Mode()))
	return nil
}

func (a *App) join(ctx context.Context, args []string) error {
	fs := a.flags("join")
	if err := parse(fs, args); err != nil {
		return err
	}
	id, err := idArg(fs)
	if err != nil {
		return err
	}
	e, res, err := a.events.Join(ctx, id)
	if err != nil {
		return err
	}
	reg, aff, err := registration.AfterJoin(e, res, a.payments.Mode())
	if err != nil {
		return err
	}
	if reg.Status == registration.Approved && reg.QRToken != "" {
		a.cacheTicket(ctx, ticket.Ticket{
			EventID:    e.ID,
			Username:   a.username(),
			EventTitle: e.Title,
			EventDate:  e.Date,
			PlaceName:  e.PlaceName,
			QRToken:    reg.QRToken,
		})
	}
	writeAffordances(a.out, id, aff)
	return nil
}

func (a *App) pay(ctx context.Context, args []string) error {
	fs := a.flags("pay")
	ref := fs.String("ref", "", "transaction reference (manual payment)")
	order := fs.String("order", "", "gateway order id")
	paymentID := fs.String("payment", "", "gateway payment id")
	signature := fs.String("signature", "", "gateway signature")
	if err := parse(fs, args); err != nil {
		return err
	}
	id, err := idArg(fs)
	if err != nil {
		return err
	}
	e, err := a.events.Get(ctx, id)
	if err != nil {
		return err
	}
	reg, _, err := a.registrationFor(ctx, id)
	if err != nil {
		return err
	}
	mode := a.payments.Mode()
	switch reg.Status {
	case registration.NotRegistered:
		return fmt.Errorf("you have not joined event %d; run `eventsphere join %d` first", id, id)
	case registration.PaymentSubmitted, registration.Approved:
		writeAffordances(a.out, id, registration.Interpret(e, reg, mode))
		return nil
	}

	proof := payment.Proof{Reference: *ref, OrderID: *order, PaymentID: *paymentID, Signature: *signature}
	if proof == (payment.Proof{}) {
		in, err := a.payments.Begin(ctx, e, reg.ID)
		if err != nil {
			return err
		}
		writeInstructions(a.out, id, in)
		return nil
	}
	next, err := a.payments.Complete(ctx, reg.ID, proof)
	if err != nil {
		return err
	}
	reg.Status = next
	fmt.Fprintln(a.out, "Payment submitted.")
	writeAffordances(a.out, id, registration.Interpret(e, reg, mode))
	return nil
}

func writeInstructions(w io.Writer, eventID int, in payment.Instructions) {
	if in.Order != nil {
		fmt.Fprintf(w, "Checkout order %s: %s %s\n", in.Order.OrderID, humanize.Comma(in.Order.Amount), in.Order.Currency)
		if in.Order.CheckoutURL != "" {
			fmt.Fprintf(w, "Open: %s\n", in.Order.CheckoutURL)
		}
		fmt.Fprintf(w, "Then run: eventsphere pay -order %s -payment <payment-id> -signature <signature> %d\n", in.Order.OrderID, eventID)
		return
	}
	if in.PayTo != "" {
		fmt.Fprintf(w, "Pay %s to %s.\n", in.Amount, in.PayTo)
	} else {
		fmt.Fprintf(w, "Pay %s to the host.\n", in.Amount)
	}
	fmt.Fprintf(w, "Then submit: eventsphere pay -ref <transaction-id> %d\n", eventID)
}

func (a *App) myEvents(ctx context.Context, args []string) error {
	fs := a.flags("my-events")
	if err := parse(fs, args); err != nil {
		return err
	}
	mine, err := a.events.MyEvents(ctx)
	if err != nil {
		return err
	}
	if len(mine) == 0 {
		fmt.Fprintln(a.out, "You have not joined any events.")
		return nil
	}
	tw := newTable(a.out)
	fmt.Fprintln(tw, "ID\tTITLE\tWHEN\tSTATUS\tCHECKED IN")
	for _, m := range mine {
		reg := registration.FromMyEvent(m)
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", m.ID, m.Title, when(m.Date), statusLabel(reg.Status), yesNo(reg.IsScanned))
	}
	return tw.Flush()
}

func (a *App) showTicket(ctx context.Context, args []string) error {
	fs := a.flags("ticket")
	png := fs.Bool("png", false, "write a PNG instead of printing the QR code")
	block := fs.Bool("qr", false, "draw the QR code even when output is not a terminal")
	if err := parse(fs, args); err != nil {
		return err
	}
	id, err := idArg(fs)
	if err != nil {
		return err
	}
	t, err := a.fetchTicket(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "%s, %s at %s\n", t.EventTitle, t.EventDate.Local().Format("Mon 02 Jan 2006 15:04"), t.PlaceName)
	if t.IsScanned {
		fmt.Fprintln(a.out, "Already checked in.")
	}
	if *png {
		path, err := ticket.WritePNG(a.cfg.TicketDir(), t)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Ticket written to %s\n", path)
		return nil
	}
	fmt.Fprintln(a.out, registration.MsgTicketReady)
	if !a.tty && !*block {
		return ticket.WriteToken(a.out, t)
	}
	return ticket.WriteTerminal(a.out, t)
}

func (a *App) savedTickets(ctx context.Context, args []string) error {
	fs := a.flags("tickets")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := noArgs(fs); err != nil {
		return err
	}
	saved, err := a.tickets.List(ctx, a.username())
	if err != nil {
		return err
	}
	if len(saved) == 0 {
		fmt.Fprintln(a.out, "No tickets saved on this device. Run `eventsphere ticket <id>` while online.")
		return nil
	}
	tw := newTable(a.out)
	fmt.Fprintln(tw, "ID\tTITLE\tWHEN\tPLACE\tCHECKED IN\tSAVED")
	for _, t := range saved {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", t.EventID, t.EventTitle, when(t.EventDate), t.PlaceName, yesNo(t.IsScanned), humanize.Time(t.CachedAt))
	}
	return tw.Flush()
}

// fetchTicket builds the ticket from my-events and caches it. When the API cannot be reached
// the cached copy is used.
func (a *App) fetchTicket(ctx context.Context, eventID int) (ticket.Ticket, error) {
	username := a.username()
	reg, mine, err := a.registrationFor(ctx, eventID)
	if errors.Is(err, apiclient.ErrNetwork) {
		cached, cerr := a.tickets.Get(ctx, eventID, username)
		if cerr != nil || cached == nil {
			return ticket.Ticket{}, err
		}
		fmt.Fprintf(a.err, "API unreachable; showing the copy saved %s.\n", humanize.Time(cached.CachedAt))
		return *cached, nil
	}
	if err != nil {
		return ticket.Ticket{}, err
	}
	if mine == nil {
		return ticket.Ticket{}, fmt.Errorf("you are not registered for event %d", eventID)
	}
	t, err := ticket.FromMyEvent(*mine, username)
	if err != nil {
		return ticket.Ticket{}, fmt.Errorf("%w (status: %s)", err, statusLabel(reg.Status))
	}
	a.cacheTicket(ctx, t)
	return t, nil
}

func (a *App) cacheTicket(ctx context.Context, t ticket.Ticket) {
	if t.Username == "" {
		return
	}
	if err := a.tickets.Save(ctx, t); err != nil {
		log.Printf("cli: cache ticket for event %d: %v", t.EventID, err)
	}
}

func (a *App) createEvent(ctx context.Context, args []string) error {
	fs := a.flags("create-event")
	title := fs.String("title", "", "event title")
	description := fs.String("description", "", "description")
	category := fs.String("category", domain.CategoryFree, "free or paid")
	place := fs.String("place", "", "venue name")
	location := fs.String("location", "", "city or address")
	date := fs.String("date", "", "start time, e.g. 2026-11-20 18:30 or RFC 3339")
	capacity := fs.Int("capacity", 0, "number of seats")
	priceFlag := fs.String("price", "", "ticket price for paid events")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := noArgs(fs); err != nil {
		return err
	}
	in := domain.CreateInput{
		Title:       *title,
		Description: *description,
		Category:    strings.ToLower(strings.TrimSpace(*category)),
		PlaceName:   *place,
		Location:    *location,
		Capacity:    *capacity,
	}
	if *date != "" {
		t, err := parseDate(*date)
		if err != nil {
			return usagef("invalid -date %q", *date)
		}
		in.Date = t
	}
	if p := strings.TrimSpace(*priceFlag); p != "" {
		amount := domain.Amount(p)
		in.Price = &amount
	}
	e, err := a.events.Create(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Event created (#%d).\n", e.ID)
	if !e.Approved {
		fmt.Fprintln(a.out, "It will be listed once an administrator approves it.")
	}
	return nil
}

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"}

func parseDate(s string) (time.Time, error) {
	var err error
	for _, layout := range dateLayouts {
		var t time.Time
		if t, err = time.ParseInLocation(layout, strings.TrimSpace(s), time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

func (a *App) hosted(ctx context.Context, args []string) error {
	fs := a.flags("hosted")
	if err := parse(fs, args); err != nil {
		return err
	}
	events, err := a.events.Hosted(ctx)
	if err != nil {
		return err
	}
	return writeEvents(a.out, events)
}

func (a *App) attendees(ctx context.Context, args []string) error {
	fs := a.flags("attendees")
	if err := parse(fs, args); err != nil {
		return err
	}
	id, err := idArg(fs)
	if err != nil {
		return err
	}
	list, err := a.events.Attendees(ctx, id)
	if err != nil {
		return err
	}
	if len(list.Attendees) == 0 {
		fmt.Fprintln(a.out, "No attendees yet.")
		return nil
	}
	tw := newTable(a.out)
	fmt.Fprintln(tw, "USER\tPAID\tCHECKED IN")
	for _, at := range list.Attendees {
		checked := "no"
		if at.IsScanned {
			checked = "yes"
			if at.ScannedAt != nil {
				checked = humanize.Time(*at.ScannedAt)
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", at.Username, yesNo(at.IsPaid), checked)
	}
	return tw.Flush()
}

func (a *App) scan(ctx context.Context, args []string) error {
	fs := a.flags("scan")
	if err := parse(fs, args); err != nil {
		return err
	}
	sc := scanner.New(a.events, a.cfg.DedupWindow())
	report := func(o scanner.Outcome) {
		switch {
		case o.Ignored:
			fmt.Fprintln(a.out, "SKIP  duplicate read")
		case o.Err != nil:
			fmt.Fprintf(a.out, "FAIL  %s\n", o.Message)
		default:
			fmt.Fprintf(a.out, "OK    %s checked in to %s\n", o.Result.User, o.Result.Event)
		}
	}
	if fs.NArg() > 0 {
		for _, token := range fs.Args() {
			report(sc.Scan(ctx, token))
		}
	} else if err := sc.Run(ctx, a.in, report); err != nil {
		return err
	}
	st := sc.Stats()
	fmt.Fprintf(a.out, "%d checked, %d rejected, %d ignored\n", st.Checked, st.Rejected, st.Ignored)
	if st.Rejected > 0 {
		return fmt.Errorf("%d scan(s) rejected", st.Rejected)
	}
	return nil
}

func (a *App) pending(ctx context.Context, args []string) error {
	fs := a.flags("pending")
	if err := parse(fs, args); err != nil {
		return err
	}
	events, err := a.events.PendingApproval(ctx)
	if err != nil {
		return err
	}
	return writeEvents(a.out, events)
}

func (a *App) approve(ctx context.Context, args []string) error {
	fs := a.flags("approve")
	if err := parse(fs, args); err != nil {
		return err
	}
	id, err := idArg(fs)
	if err != nil {
		return err
	}
	if err := a.events.Approve(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Event #%d approved.\n", id)
	return nil
}

func (a *App) auditTrail(ctx context.Context, args []string) error {
	fs := a.flags("audit")
	action := fs.String("action", "", "only show this action")
	limit := fs.Int("n", 20, "number of entries")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *limit <= 0 {
		return usagef("-n must be positive")
	}
	entries, err := a.audit.Recent(ctx, *action, *limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.out, "No audit entries.")
		return nil
	}
	tw := newTable(a.out)
	fmt.Fprintln(tw, "WHEN\tACTION\tRESOURCE\tUSER\tDETAILS")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", humanize.Time(e.CreatedAt), e.Action, e.Resource, e.Username, e.Metadata)
	}
	return tw.Flush()
}

func (a *App) doctor(ctx context.Context, args []string) error {
	fs := a.flags("doctor")
	if err := parse(fs, args); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "API:         %s\n", a.base.BaseURL())
	fmt.Fprintf(a.out, "State dir:   %s\n", a.cfg.StateDir)
	fmt.Fprintf(a.out, "Token store: %s (sealed: %s)\n", a.cfg.TokenStore, yesNo(a.cfg.TokenStorePassphrase != ""))
	fmt.Fprintf(a.out, "Payments:    %s\n", a.payments.Mode())
	fmt.Fprintln(a.out)

	report := health.NewChecker(a.base, a.db, a.guard).Check(ctx)
	for _, c := range report.Checks {
		mark := "ok"
		switch {
		case c.Skipped:
			mark = "skip"
		case !c.OK:
			mark = "FAIL"
		}
		fmt.Fprintf(a.out, "%-4s  %-13s  %s (%s)\n", mark, c.Name, c.Detail, c.Duration.Round(time.Millisecond))
	}
	if !report.Healthy() {
		return errors.New("one or more checks failed")
	}
	return nil
}

func role(admin bool) string {
	if admin {
		return " (admin)"
	}
	return ""
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
