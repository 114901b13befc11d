// Package payment settles paid registrations. Exactly one strategy is active, selected by
// configuration: manual reference entry or gateway checkout.
package payment

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/alanmathew190/EventManagementSystem/internal/apiclient"
	"github.com/alanmathew190/EventManagementSystem/internal/event/domain"
	"github.com/alanmathew190/EventManagementSystem/internal/registration"
)

// Doer issues a request through the pipeline.
type Doer interface {
	Do(ctx context.Context, req apiclient.Request, out any) error
}

// Instructions tell the payer what to do next.
type Instructions struct {
	Mode registration.PaymentMode
	// PayTo is the manual collection identifier (e.g. a UPI address); empty for the gateway.
	PayTo  string
	Amount string
	// Order is set for gateway checkout.
	Order *Order
}

// Order is a gateway checkout order created by the API.
type Order struct {
	OrderID     string `json:"order_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Key         string `json:"key"`
	CheckoutURL string `json:"checkout_url"`
}

// Proof is what the payer brings back: a reference for manual payment, or the gateway's
// order, payment and signature triple.
type Proof struct {
	Reference string
	OrderID   string
	PaymentID string
	Signature string
}

// Strategy settles one pending registration.
type Strategy interface {
	Mode() registration.PaymentMode
	// Begin prepares payment for registrationID of event e.
	Begin(ctx context.Context, e domain.Event, registrationID int) (Instructions, error)
	// Complete submits proof and returns the next registration status.
	Complete(ctx context.Context, registrationID int, proof Proof) (registration.Status, error)
}

// New returns the strategy for mode ("manual" or "gateway").
func New(mode string, api Doer) (Strategy, error) {
	switch registration.PaymentMode(strings.ToLower(strings.TrimSpace(mode))) {
	case registration.ManualReference:
		return &ManualReference{api: api}, nil
	case registration.GatewayCheckout:
		return &GatewayCheckout{api: api}, nil
	}
	return nil, fmt.Errorf("payment: unknown strategy %q", mode)
}

// ManualReference surfaces the host's collection identifier and accepts a transaction reference.
type ManualReference struct {
	api Doer
}

func (m *ManualReference) Mode() registration.PaymentMode { return registration.ManualReference }

func (m *ManualReference) Begin(_ context.Context, e domain.Event, registrationID int) (Instructions, error) {
	if registrationID <= 0 {
		return Instructions{}, apiclient.Validation("registration id must be positive")
	}
	in := Instructions{Mode: registration.ManualReference, PayTo: e.PaymentUPI}
	if e.Price != nil {
		in.Amount = e.Price.String()
	}
	return in, nil
}

func (m *ManualReference) Complete(ctx context.Context, registrationID int, proof Proof) (registration.Status, error) {
	ref := strings.TrimSpace(proof.Reference)
	if ref == "" {
		return registration.PendingPayment, apiclient.Validation("payment reference is required")
	}
	if registrationID <= 0 {
		return registration.PendingPayment, apiclient.Validation("registration id must be positive")
	}
	err := m.api.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/events/payments/confirm/%d/", registrationID),
		Body:   map[string]string{"payment_reference": ref},
	}, nil)
	if err != nil {
		return registration.PendingPayment, err
	}
	return registration.Transition(registration.PendingPayment, registration.SubmitPayment)
}

// GatewayCheckout hands off to an external checkout keyed by a server-issued order id.
type GatewayCheckout struct {
	api Doer
}

func (g *GatewayCheckout) Mode() registration.PaymentMode { return registration.GatewayCheckout }

func (g *GatewayCheckout) Begin(ctx context.Context, e domain.Event, registrationID int) (Instructions, error) {
	if registrationID <= 0 {
		return Instructions{}, apiclient.Validation("registration id must be positive")
	}
	var order Order
	err := g.api.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/events/payments/create/%d/", registrationID),
	}, &order)
	if err != nil {
		return Instructions{}, err
	}
	if order.OrderID == "" {
		return Instructions{}, fmt.Errorf("payment: gateway returned no order id")
	}
	in := Instructions{Mode: registration.GatewayCheckout, Order: &order}
	if e.Price != nil {
		in.Amount = e.Price.String()
	}
	return in, nil
}

func (g *GatewayCheckout) Complete(ctx context.Context, _ int, proof Proof) (registration.Status, error) {
	body := map[string]string{
		"order_id":   strings.TrimSpace(proof.OrderID),
		"payment_id": strings.TrimSpace(proof.PaymentID),
		"signature":  strings.TrimSpace(proof.Signature),
	}
	for _, k := range []string{"order_id", "payment_id", "signature"} {
		if body[k] == "" {
			return registration.PendingPayment, apiclient.Validation(k + " is required")
		}
	}
	err := g.api.Do(ctx, apiclient.Request{Method: http.MethodPost, Path: "/events/payments/verify/", Body: body}, nil)
	if err != nil {
		return registration.PendingPayment, err
	}
	return registration.Transition(registration.PendingPayment, registration.SubmitPayment)
}
