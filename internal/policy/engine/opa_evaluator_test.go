package engine

import (
	"context"
	"testing"
)

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	if err := e.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestOPAEvaluator_Authorize(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	anon := Subject{}
	user := Subject{Authenticated: true, Username: "alice"}
	admin := Subject{Authenticated: true, Username: "root", IsAdmin: true}

	testCases := []struct {
		name     string
		view     string
		subject  Subject
		allow    bool
		redirect string
	}{
		{"public anon", "login", anon, true, ""},
		{"public user", "register", user, true, ""},
		{"protected anon", "events", anon, false, RedirectLogin},
		{"protected user", "events", user, true, ""},
		{"protected admin", "my-events", admin, true, ""},
		{"admin anon", "pending", anon, false, RedirectLogin},
		{"admin user", "approve", user, false, RedirectEvents},
		{"admin admin", "approve", admin, true, ""},
		{"unknown anon", "teleport", anon, false, RedirectLogin},
		{"unknown user", "teleport", user, true, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := e.Authorize(ctx, ViewFor(tc.view), tc.subject)
			if err != nil {
				t.Fatalf("Authorize: %v", err)
			}
			if d.Allow != tc.allow || d.Redirect != tc.redirect {
				t.Errorf("decision = %+v, want allow=%v redirect=%q", d, tc.allow, tc.redirect)
			}
		})
	}
}

func TestOPAEvaluator_UnknownAccessLevelDenied(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx)
	if err != nil {
		t.Fatal(err)
	}
	d, err := e.Authorize(ctx, View{Name: "odd", Access: "secret"}, Subject{Authenticated: true})
	if err != nil {
		t.Fatal(err)
	}
	if d.Allow || d.Redirect != "" {
		t.Errorf("decision = %+v, want deny without redirect", d)
	}
}

func TestNewOPAEvaluatorWithPolicy_CompileError(t *testing.T) {
	if _, err := NewOPAEvaluatorWithPolicy(context.Background(), "package broken\nallow if {"); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestOPAEvaluator_CustomPolicyFailsClosed(t *testing.T) {
	ctx := context.Background()
	// decision is a string, not an object.
	e, err := NewOPAEvaluatorWithPolicy(ctx, "package eventsphere.access\n\ndecision := \"yes\"\n")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	d, err := e.Authorize(ctx, ViewFor("events"), Subject{Authenticated: true})
	if err == nil {
		t.Fatal("expected evaluation error")
	}
	if d.Allow || d.Redirect != RedirectLogin {
		t.Errorf("decision = %+v, want deny to /login", d)
	}
}

func TestViewFor(t *testing.T) {
	if v := ViewFor("approve"); v.Access != Admin {
		t.Errorf("approve access = %s", v.Access)
	}
	if v := ViewFor("login"); v.Access != Public {
		t.Errorf("login access = %s", v.Access)
	}
	if v := ViewFor("nope"); v.Access != Protected || v.Name != "nope" {
		t.Errorf("unknown view = %+v", v)
	}
}
