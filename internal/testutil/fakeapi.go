// Package testutil provides an in-process fake of the EventSphere REST API for tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanmathew190/EventManagementSystem/internal/event/domain"
	"github.com/alanmathew190/EventManagementSystem/internal/security"
)

// FakeUser is an account known to the fake API.
type FakeUser struct {
	Username    string
	Password    string
	IsStaff     bool
	IsSuperuser bool
}

// FakeRegistration is a join request held by the fake API.
type FakeRegistration struct {
	ID         int
	EventID    int
	Username   string
	IsPaid     bool
	IsApproved bool
	IsScanned  bool
	QRToken    string
	ScannedAt  *time.Time
}

// SeenRequest is one request received by the fake API.
type SeenRequest struct {
	Method        string
	Path          string
	Authorization string
	Body          string
}

// FakeAPI serves the EventSphere endpoints from memory.
type FakeAPI struct {
	Server *httptest.Server

	mu       sync.Mutex
	users    map[string]*FakeUser
	access   map[string]string
	refresh  map[string]string
	events   map[int]*domain.Event
	regs     map[int]*FakeRegistration
	nextID   int
	calls    map[string]int
	seen     []SeenRequest
	accessTT time.Duration

	rotateRefresh bool
	failRefresh   bool
	refreshDelay  time.Duration
}

// NewFakeAPI starts a fake API server that is closed when the test ends.
func NewFakeAPI(t testing.TB) *FakeAPI {
	t.Helper()
	f := &FakeAPI{
		users:    make(map[string]*FakeUser),
		access:   make(map[string]string),
		refresh:  make(map[string]string),
		events:   make(map[int]*domain.Event),
		regs:     make(map[int]*FakeRegistration),
		nextID:   1,
		calls:    make(map[string]int),
		accessTT: 5 * time.Minute,
	}
	f.Server = httptest.NewServer(f.routes())
	t.Cleanup(f.Server.Close)
	return f
}

// URL is the API base URL.
func (f *FakeAPI) URL() string {
	return f.Server.URL
}

// AddUser registers an account. admin makes the user staff.
func (f *FakeAPI) AddUser(username, password string, admin bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[username] = &FakeUser{Username: username, Password: password, IsStaff: admin}
}

// AddEvent stores e and returns its id. A zero ID is assigned.
func (f *FakeAPI) AddEvent(e domain.Event) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.ID == 0 {
		e.ID = f.id()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	f.events[e.ID] = &e
	return e.ID
}

// Event returns a copy of a stored event.
func (f *FakeAPI) Event(id int) (domain.Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		return domain.Event{}, false
	}
	return *e, true
}

// Registration returns a copy of a stored registration.
func (f *FakeAPI) Registration(id int) (FakeRegistration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.regs[id]
	if !ok {
		return FakeRegistration{}, false
	}
	return *r, true
}

// ApproveRegistration simulates the host approving a paid registration: the QR token is minted.
func (f *FakeAPI) ApproveRegistration(id int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.regs[id]
	if !ok {
		return ""
	}
	r.IsApproved = true
	if r.QRToken == "" {
		r.QRToken = fmt.Sprintf("qr-%d-%d", r.EventID, r.ID)
	}
	return r.QRToken
}

// SetRotateRefresh makes every refresh issue a new refresh token and invalidate the old one.
func (f *FakeAPI) SetRotateRefresh(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rotateRefresh = v
}

// SetFailRefresh rejects every refresh exchange with 401.
func (f *FakeAPI) SetFailRefresh(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRefresh = v
}

// SetAccessTTL sets the lifetime of access tokens issued from now on.
func (f *FakeAPI) SetAccessTTL(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accessTT = d
}

// SetRefreshDelay holds each refresh response for d, to let concurrent 401s pile up.
func (f *FakeAPI) SetRefreshDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshDelay = d
}

// ExpireAccessTokens invalidates every issued access token; the next request gets a 401.
func (f *FakeAPI) ExpireAccessTokens() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.access = make(map[string]string)
}

// Calls returns how many times "METHOD /path/" was requested.
func (f *FakeAPI) Calls(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

// Seen returns every request received so far.
func (f *FakeAPI) Seen() []SeenRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SeenRequest(nil), f.seen...)
}

// IssueTokens mints a token pair for username without a login call.
func (f *FakeAPI) IssueTokens(username string) (access, refresh string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issue(username)
}

func (f *FakeAPI) issue(username string) (string, string) {
	access, _ := security.MintTestToken("access", username, f.accessTT)
	refresh, _ := security.MintTestToken("refresh", username, 24*time.Hour)
	f.access[access] = username
	f.refresh[refresh] = username
	return access, refresh
}

func (f *FakeAPI) id() int {
	id := f.nextID
	f.nextID++
	return id
}

func (f *FakeAPI) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /accounts/login/{$}", f.login)
	mux.HandleFunc("POST /accounts/google/{$}", f.google)
	mux.HandleFunc("POST /accounts/refresh/{$}", f.refreshToken)
	mux.HandleFunc("POST /accounts/register/{$}", f.register)
	mux.HandleFunc("GET /accounts/me/{$}", f.authed(f.me))
	mux.HandleFunc("GET /events/events/{$}", f.authed(f.listEvents))
	mux.HandleFunc("POST /events/events/{$}", f.authed(f.createEvent))
	mux.HandleFunc("POST /events/events/scan-qr/{$}", f.authed(f.scanQR))
	mux.HandleFunc("GET /events/events/{id}/{$}", f.authed(f.getEvent))
	mux.HandleFunc("POST /events/events/{id}/join/{$}", f.authed(f.join))
	mux.HandleFunc("GET /events/my-events/{$}", f.authed(f.myEvents))
	mux.HandleFunc("GET /events/hosted/{$}", f.authed(f.hosted))
	mux.HandleFunc("GET /events/hosted/{id}/attendees/{$}", f.authed(f.attendees))
	mux.HandleFunc("POST /events/payments/confirm/{rid}/{$}", f.authed(f.confirmPayment))
	mux.HandleFunc("POST /events/payments/create/{rid}/{$}", f.authed(f.createOrder))
	mux.HandleFunc("POST /events/payments/verify/{$}", f.authed(f.verifyPayment))
	mux.HandleFunc("GET /events/admin/events/pending/{$}", f.authed(f.pending))
	mux.HandleFunc("POST /events/admin/events/{id}/approve/{$}", f.authed(f.approve))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			body, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(body))
		}
		f.mu.Lock()
		f.calls[r.Method+" "+r.URL.Path]++
		f.seen = append(f.seen, SeenRequest{Method: r.Method, Path: r.URL.Path, Authorization: r.Header.Get("Authorization"), Body: string(body)})
		f.mu.Unlock()
		mux.ServeHTTP(w, r)
	})
}

type authedHandler func(w http.ResponseWriter, r *http.Request, username string)

// authed resolves the bearer token under the lock and runs h with the lock held.
func (f *FakeAPI) authed(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		f.mu.Lock()
		defer f.mu.Unlock()
		username, ok := f.access[token]
		if token == "" || !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"detail": "Given token not valid for any token type",
				"code":   "token_not_valid",
			})
			return
		}
		h(w, r, username)
	}
}

func (f *FakeAPI) login(w http.ResponseWriter, r *http.Request) {
	var in struct{ Username, Password string }
	decode(r, &in)
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[in.Username]
	if !ok || u.Password != in.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "No active account found with the given credentials"})
		return
	}
	access, refresh := f.issue(u.Username)
	writeJSON(w, http.StatusOK, map[string]string{"access": access, "refresh": refresh})
}

// google accepts ID tokens of the form "google:<username>" and creates the account on first use.
func (f *FakeAPI) google(w http.ResponseWriter, r *http.Request) {
	var in struct{ Token string }
	decode(r, &in)
	username, ok := strings.CutPrefix(in.Token, "google:")
	if !ok || username == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid Google token"})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.users[username]; !exists {
		f.users[username] = &FakeUser{Username: username}
	}
	access, refresh := f.issue(username)
	writeJSON(w, http.StatusOK, map[string]string{"access": access, "refresh": refresh})
}

func (f *FakeAPI) refreshToken(w http.ResponseWriter, r *http.Request) {
	var in struct{ Refresh string }
	decode(r, &in)

	f.mu.Lock()
	delay := f.refreshDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	username, ok := f.refresh[in.Refresh]
	if f.failRefresh || !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Token is invalid or expired", "code": "token_not_valid"})
		return
	}
	access, _ := security.MintTestToken("access", username, f.accessTT)
	f.access[access] = username
	out := map[string]string{"access": access}
	if f.rotateRefresh {
		delete(f.refresh, in.Refresh)
		next, _ := security.MintTestToken("refresh", username, 24*time.Hour)
		f.refresh[next] = username
		out["refresh"] = next
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *FakeAPI) register(w http.ResponseWriter, r *http.Request) {
	var in struct{ Username, Password string }
	decode(r, &in)
	f.mu.Lock()
	defer f.mu.Unlock()
	if in.Username == "" || in.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Username and password required"})
		return
	}
	if _, exists := f.users[in.Username]; exists {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Username already exists"})
		return
	}
	f.users[in.Username] = &FakeUser{Username: in.Username, Password: in.Password}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "User registered successfully"})
}

func (f *FakeAPI) me(w http.ResponseWriter, _ *http.Request, username string) {
	u := f.users[username]
	if u == nil {
		u = &FakeUser{Username: username}
	}
	writeJSON(w, http.StatusOK, map[string]any{"username": u.Username, "is_staff": u.IsStaff, "is_superuser": u.IsSuperuser})
}

func (f *FakeAPI) listEvents(w http.ResponseWriter, r *http.Request, _ string) {
	loc := strings.ToLower(r.URL.Query().Get("location"))
	out := []domain.Event{}
	for id := 1; id < f.nextID; id++ {
		e, ok := f.events[id]
		if !ok || !e.Approved {
			continue
		}
		if loc != "" && !strings.Contains(strings.ToLower(e.Location), loc) {
			continue
		}
		out = append(out, *e)
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *FakeAPI) createEvent(w http.ResponseWriter, r *http.Request, username string) {
	var in domain.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid payload"})
		return
	}
	if in.Category == domain.CategoryFree && in.Price != nil {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"price": {"Free events cannot have a price."}})
		return
	}
	e := &domain.Event{
		ID:          f.id(),
		Host:        username,
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		PlaceName:   in.PlaceName,
		Location:    in.Location,
		Date:        in.Date,
		Capacity:    in.Capacity,
		Price:       in.Price,
		CreatedAt:   time.Now().UTC(),
	}
	f.events[e.ID] = e
	writeJSON(w, http.StatusCreated, e)
}

func (f *FakeAPI) getEvent(w http.ResponseWriter, r *http.Request, _ string) {
	e, ok := f.events[pathID(r, "id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (f *FakeAPI) join(w http.ResponseWriter, r *http.Request, username string) {
	e, ok := f.events[pathID(r, "id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Event not found"})
		return
	}
	for _, reg := range f.regs {
		if reg.EventID == e.ID && reg.Username == username {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Already joined this event"})
			return
		}
	}
	if e.IsFull() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Event capacity full"})
		return
	}
	reg := &FakeRegistration{ID: f.id(), EventID: e.ID, Username: username}
	f.regs[reg.ID] = reg
	e.AttendeesCount++
	if !e.IsPaid() {
		reg.IsApproved = true
		reg.QRToken = fmt.Sprintf("qr-%d-%d", e.ID, reg.ID)
		writeJSON(w, http.StatusOK, map[string]any{"message": "Joined event successfully", "qr_token": reg.QRToken})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"registration_id": reg.ID})
}

func (f *FakeAPI) myEvents(w http.ResponseWriter, _ *http.Request, username string) {
	out := []domain.MyEvent{}
	for id := 1; id < f.nextID; id++ {
		reg, ok := f.regs[id]
		if !ok || reg.Username != username {
			continue
		}
		me := domain.MyEvent{
			Event:          *f.events[reg.EventID],
			RegistrationID: reg.ID,
			IsPaid:         reg.IsPaid,
			IsApproved:     reg.IsApproved,
			IsScanned:      reg.IsScanned,
		}
		if reg.IsApproved {
			me.QRToken = reg.QRToken
		}
		out = append(out, me)
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *FakeAPI) hosted(w http.ResponseWriter, _ *http.Request, username string) {
	out := []domain.Event{}
	for id := 1; id < f.nextID; id++ {
		if e, ok := f.events[id]; ok && e.Host == username {
			out = append(out, *e)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *FakeAPI) attendees(w http.ResponseWriter, r *http.Request, username string) {
	e, ok := f.events[pathID(r, "id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Event not found"})
		return
	}
	if e.Host != username {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "Not your event"})
		return
	}
	list := domain.AttendeeList{Event: e.Title, Attendees: []domain.Attendee{}}
	for id := 1; id < f.nextID; id++ {
		if reg, ok := f.regs[id]; ok && reg.EventID == e.ID {
			list.Attendees = append(list.Attendees, domain.Attendee{
				ID: reg.ID, Username: reg.Username, IsPaid: reg.IsPaid, IsScanned: reg.IsScanned, ScannedAt: reg.ScannedAt,
			})
		}
	}
	writeJSON(w, http.StatusOK, list)
}

func (f *FakeAPI) confirmPayment(w http.ResponseWriter, r *http.Request, username string) {
	var in struct {
		PaymentReference string `json:"payment_reference"`
	}
	decode(r, &in)
	reg, ok := f.regs[pathID(r, "rid")]
	if !ok || reg.Username != username {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Registration not found"})
		return
	}
	if strings.TrimSpace(in.PaymentReference) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Payment reference required"})
		return
	}
	if reg.IsPaid {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Payment already submitted"})
		return
	}
	reg.IsPaid = true
	writeJSON(w, http.StatusOK, map[string]string{"message": "Payment submitted. Waiting for host approval."})
}

func (f *FakeAPI) createOrder(w http.ResponseWriter, r *http.Request, username string) {
	reg, ok := f.regs[pathID(r, "rid")]
	if !ok || reg.Username != username {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Registration not found"})
		return
	}
	var amount int64
	if e := f.events[reg.EventID]; e != nil && e.Price != nil {
		amount = int64(e.Price.Float() * 100)
	}
	orderID := fmt.Sprintf("order_%d", reg.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"order_id":     orderID,
		"amount":       amount,
		"currency":     "INR",
		"key":          "rzp_test_key",
		"checkout_url": f.Server.URL + "/checkout/" + orderID,
	})
}

// verifyPayment accepts signature "sig_<order_id>".
func (f *FakeAPI) verifyPayment(w http.ResponseWriter, r *http.Request, username string) {
	var in struct {
		OrderID   string `json:"order_id"`
		PaymentID string `json:"payment_id"`
		Signature string `json:"signature"`
	}
	decode(r, &in)
	rid, err := strconv.Atoi(strings.TrimPrefix(in.OrderID, "order_"))
	reg, ok := f.regs[rid]
	if err != nil || !ok || reg.Username != username || in.Signature != "sig_"+in.OrderID {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Payment verification failed"})
		return
	}
	reg.IsPaid = true
	writeJSON(w, http.StatusOK, map[string]string{"message": "Payment verified"})
}

func (f *FakeAPI) scanQR(w http.ResponseWriter, r *http.Request, username string) {
	var in struct {
		QRToken string `json:"qr_token"`
	}
	decode(r, &in)
	for _, reg := range f.regs {
		if reg.QRToken == "" || reg.QRToken != in.QRToken || !reg.IsApproved {
			continue
		}
		e := f.events[reg.EventID]
		if e.Host != username {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "You are not the host of this event"})
			return
		}
		if reg.IsScanned {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "QR already scanned"})
			return
		}
		now := time.Now().UTC()
		reg.IsScanned = true
		reg.ScannedAt = &now
		writeJSON(w, http.StatusOK, map[string]any{"message": "Attendance marked", "user": reg.Username, "event": e.Title, "scanned_at": now})
		return
	}
	writeJSON(w, http.StatusBadRequest, map[string]string{})
}

func (f *FakeAPI) pending(w http.ResponseWriter, _ *http.Request, username string) {
	if !f.isAdmin(username) {
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": "You do not have permission to perform this action."})
		return
	}
	out := []domain.Event{}
	for id := 1; id < f.nextID; id++ {
		if e, ok := f.events[id]; ok && !e.Approved {
			out = append(out, *e)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *FakeAPI) approve(w http.ResponseWriter, r *http.Request, username string) {
	if !f.isAdmin(username) {
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": "You do not have permission to perform this action."})
		return
	}
	e, ok := f.events[pathID(r, "id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Event not found"})
		return
	}
	e.Approved = true
	writeJSON(w, http.StatusOK, map[string]string{"message": "Event approved"})
}

func (f *FakeAPI) isAdmin(username string) bool {
	u := f.users[username]
	return u != nil && (u.IsStaff || u.IsSuperuser)
}

func decode(r *http.Request, v any) {
	_ = json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func pathID(r *http.Request, name string) int {
	id, _ := strconv.Atoi(r.PathValue(name))
	return id
}
