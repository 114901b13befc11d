// Package event provides typed operations over the EventSphere event endpoints. Every call goes
// through the authenticated request pipeline.
package event

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/alanmathew190/EventManagementSystem/internal/apiclient"
	"github.com/alanmathew190/EventManagementSystem/internal/event/domain"
)

// ErrEventFull is returned by Join when the latest snapshot has no seats left, or when the
// server rejects the join for capacity.
var ErrEventFull = errors.New("event capacity full")

// Doer issues a request through the pipeline. *apiclient.Client implements it.
type Doer interface {
	Do(ctx context.Context, req apiclient.Request, out any) error
}

// Client wraps the event endpoints.
type Client struct {
	api Doer
}

// NewClient returns an event client over api.
func NewClient(api Doer) *Client {
	return &Client{api: api}
}

// List returns approved events, optionally filtered by a location substring.
func (c *Client) List(ctx context.Context, location string) ([]domain.Event, error) {
	req := apiclient.Request{Method: http.MethodGet, Path: "/events/events/"}
	if loc := strings.TrimSpace(location); loc != "" {
		req.Query = url.Values{"location": {loc}}
	}
	var events []domain.Event
	if err := c.api.Do(ctx, req, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Get returns one event.
func (c *Client) Get(ctx context.Context, id int) (domain.Event, error) {
	if id <= 0 {
		return domain.Event{}, apiclient.Validation("event id must be positive")
	}
	var e domain.Event
	if err := c.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: eventPath(id)}, &e); err != nil {
		return domain.Event{}, err
	}
	return e, nil
}

// Create submits a new event for admin approval. The price is sent as null for free events.
func (c *Client) Create(ctx context.Context, in domain.CreateInput) (domain.Event, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Category = strings.ToLower(strings.TrimSpace(in.Category))
	switch {
	case in.Title == "":
		return domain.Event{}, apiclient.Validation("title: This field may not be blank.")
	case in.Category != domain.CategoryFree && in.Category != domain.CategoryPaid:
		return domain.Event{}, apiclient.Validation("category must be free or paid")
	case in.Capacity <= 0:
		return domain.Event{}, apiclient.Validation("capacity must be positive")
	case in.Date.IsZero():
		return domain.Event{}, apiclient.Validation("date: This field is required.")
	}
	if in.Category == domain.CategoryFree {
		in.Price = nil
	} else if in.Price == nil || in.Price.Float() <= 0 {
		return domain.Event{}, apiclient.Validation("price is required for paid events")
	}

	var created domain.Event
	err := c.api.Do(ctx, apiclient.Request{Method: http.MethodPost, Path: "/events/events/", Body: in}, &created)
	if err != nil {
		return domain.Event{}, err
	}
	return created, nil
}

// Join registers the caller for event id. It fetches the latest snapshot first and returns
// ErrEventFull without posting when no seats remain. The snapshot is returned alongside the
// result so callers can interpret it.
func (c *Client) Join(ctx context.Context, id int) (domain.Event, domain.JoinResult, error) {
	e, err := c.Get(ctx, id)
	if err != nil {
		return domain.Event{}, domain.JoinResult{}, err
	}
	if e.IsFull() {
		return e, domain.JoinResult{}, ErrEventFull
	}
	var res domain.JoinResult
	err = c.api.Do(ctx, apiclient.Request{Method: http.MethodPost, Path: eventPath(id) + "join/"}, &res)
	if err != nil {
		if errors.Is(err, apiclient.ErrValidation) && strings.Contains(strings.ToLower(apiclient.MessageOf(err)), "full") {
			return e, domain.JoinResult{}, errors.Join(ErrEventFull, err)
		}
		return e, domain.JoinResult{}, err
	}
	return e, res, nil
}

// MyEvents lists the caller's registrations.
func (c *Client) MyEvents(ctx context.Context) ([]domain.MyEvent, error) {
	var out []domain.MyEvent
	if err := c.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: "/events/my-events/"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Hosted lists events created by the caller.
func (c *Client) Hosted(ctx context.Context) ([]domain.Event, error) {
	var out []domain.Event
	if err := c.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: "/events/hosted/"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Attendees lists who joined a hosted event.
func (c *Client) Attendees(ctx context.Context, eventID int) (domain.AttendeeList, error) {
	var out domain.AttendeeList
	path := fmt.Sprintf("/events/hosted/%d/attendees/", eventID)
	if err := c.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: path}, &out); err != nil {
		return domain.AttendeeList{}, err
	}
	return out, nil
}

// ScanQR checks in the ticket holder for token.
func (c *Client) ScanQR(ctx context.Context, token string) (domain.ScanResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.ScanResult{}, apiclient.Validation("qr_token is required")
	}
	var out domain.ScanResult
	err := c.api.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/events/events/scan-qr/",
		Body:   map[string]string{"qr_token": token},
	}, &out)
	if err != nil {
		return domain.ScanResult{}, err
	}
	return out, nil
}

// PendingApproval lists events awaiting admin approval.
func (c *Client) PendingApproval(ctx context.Context) ([]domain.Event, error) {
	var out []domain.Event
	if err := c.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: "/events/admin/events/pending/"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Approve publishes a pending event.
func (c *Client) Approve(ctx context.Context, id int) error {
	if id <= 0 {
		return apiclient.Validation("event id must be positive")
	}
	path := fmt.Sprintf("/events/admin/events/%d/approve/", id)
	return c.api.Do(ctx, apiclient.Request{Method: http.MethodPost, Path: path}, nil)
}

func eventPath(id int) string {
	return fmt.Sprintf("/events/events/%d/", id)
}
