package registration

import (
	"testing"

	"github.com/alanmathew190/EventManagementSystem/internal/event/domain"
)

func TestInterpret_NotRegistered(t *testing.T) {
	open := domain.Event{Capacity: 10, AttendeesCount: 3}
	a := Interpret(open, Registration{Status: NotRegistered}, ManualReference)
	if !a.ShowJoin || a.JoinDisabled {
		t.Errorf("open event: %+v", a)
	}

	full := domain.Event{Capacity: 10, AttendeesCount: 10}
	a = Interpret(full, Registration{}, ManualReference)
	if !a.ShowJoin || !a.JoinDisabled || a.Message != MsgEventFull {
		t.Errorf("full event: %+v", a)
	}
	if a.Status != NotRegistered {
		t.Errorf("empty status should read as not_registered, got %s", a.Status)
	}
}

func TestInterpret_PendingPayment(t *testing.T) {
	e := domain.Event{Category: domain.CategoryPaid, PaymentUPI: "host@upi", Capacity: 10}
	r := Registration{ID: 4, Status: PendingPayment}

	manual := Interpret(e, r, ManualReference)
	if !manual.ShowPayment || manual.PaymentMode != ManualReference || manual.PaymentTarget != "host@upi" {
		t.Errorf("manual: %+v", manual)
	}
	if manual.ShowJoin || manual.ShowTicket {
		t.Errorf("manual should only offer payment: %+v", manual)
	}

	gw := Interpret(e, r, GatewayCheckout)
	if !gw.ShowPayment || gw.PaymentMode != GatewayCheckout || gw.PaymentTarget != "" {
		t.Errorf("gateway: %+v", gw)
	}
}

func TestInterpret_PaymentSubmittedHasNoTicket(t *testing.T) {
	a := Interpret(domain.Event{}, Registration{Status: PaymentSubmitted, QRToken: "qr"}, ManualReference)
	if a.ShowTicket || a.ShowPayment || a.ShowJoin {
		t.Errorf("payment_submitted: %+v", a)
	}
	if a.Message != MsgAwaitApproval {
		t.Errorf("Message = %q, want %q", a.Message, MsgAwaitApproval)
	}
}

func TestInterpret_ApprovedTicketIgnoresScanned(t *testing.T) {
	for _, scanned := range []bool{false, true} {
		a := Interpret(domain.Event{}, Registration{Status: Approved, QRToken: "qr-7", IsScanned: scanned}, ManualReference)
		if !a.ShowTicket || a.QRToken != "qr-7" || a.Scanned != scanned {
			t.Errorf("approved scanned=%v: %+v", scanned, a)
		}
	}
}

func TestAfterJoin_Free(t *testing.T) {
	e := domain.Event{ID: 1, Category: domain.CategoryFree, Capacity: 10, AttendeesCount: 3}
	r, a, err := AfterJoin(e, domain.JoinResult{Message: "Joined event successfully"}, ManualReference)
	if err != nil {
		t.Fatalf("AfterJoin: %v", err)
	}
	if r.Status != Approved || a.ShowPayment {
		t.Errorf("free join: %+v %+v", r, a)
	}
	if a.Message != MsgJoinedFree {
		t.Errorf("Message = %q", a.Message)
	}
}

func TestAfterJoin_PaidFlowToApproved(t *testing.T) {
	e := domain.Event{ID: 2, Category: domain.CategoryPaid, Price: amount("500"), Capacity: 10}
	r, a, err := AfterJoin(e, domain.JoinResult{RegistrationID: 11}, ManualReference)
	if err != nil {
		t.Fatalf("AfterJoin: %v", err)
	}
	if r.Status != PendingPayment || r.ID != 11 || !a.ShowPayment {
		t.Fatalf("paid join: %+v %+v", r, a)
	}

	r.Status, err = Transition(r.Status, SubmitPayment)
	if err != nil || r.Status != PaymentSubmitted {
		t.Fatalf("submit: %s %v", r.Status, err)
	}
	if Interpret(e, r, ManualReference).ShowTicket {
		t.Error("ticket must stay hidden until approval")
	}

	r.Status, err = Transition(r.Status, HostApprove)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	r.QRToken = "qr-token"
	if a := Interpret(e, r, ManualReference); !a.ShowTicket || a.QRToken != "qr-token" {
		t.Errorf("approved: %+v", a)
	}
}

func amount(s string) *domain.Amount {
	a := domain.Amount(s)
	return &a
}
