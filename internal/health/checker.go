// Package health reports whether the client's dependencies are usable: the API, the local state
// database and the access policy.
package health

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/alanmathew190/EventManagementSystem/internal/apiclient"
)

// Pinger is implemented by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is implemented by the OPA access evaluator.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// APISender is implemented by *apiclient.Client.
type APISender interface {
	Send(ctx context.Context, req apiclient.Request, token string, out any) error
}

// Check is the result of one dependency check.
type Check struct {
	Name     string
	OK       bool
	Skipped  bool
	Detail   string
	Duration time.Duration
}

// Report is the result of all checks.
type Report struct {
	Checks []Check
}

// Healthy is true when no check failed. Skipped checks do not count.
func (r Report) Healthy() bool {
	for _, c := range r.Checks {
		if !c.OK && !c.Skipped {
			return false
		}
	}
	return true
}

// Checker runs the dependency checks. Any dependency may be nil; its check is reported as skipped.
type Checker struct {
	api    APISender
	db     Pinger
	policy PolicyChecker
}

// NewChecker returns a Checker.
func NewChecker(api APISender, db Pinger, policy PolicyChecker) *Checker {
	return &Checker{api: api, db: db, policy: policy}
}

// Check runs every check in order: api, state_db, access_policy.
func (c *Checker) Check(ctx context.Context) Report {
	var r Report
	r.Checks = append(r.Checks, run("api", c.api == nil, func() error { return c.checkAPI(ctx) }))
	r.Checks = append(r.Checks, run("state_db", c.db == nil, func() error { return c.db.PingContext(ctx) }))
	r.Checks = append(r.Checks, run("access_policy", c.policy == nil, func() error { return c.policy.HealthCheck(ctx) }))
	return r
}

// checkAPI issues an unauthenticated listing request. Any HTTP answer below 500, including
// 401, proves the API is reachable.
func (c *Checker) checkAPI(ctx context.Context) error {
	err := c.api.Send(ctx, apiclient.Request{Method: http.MethodGet, Path: "/events/events/"}, "", nil)
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) && apiErr.Status < 500 {
		return nil
	}
	return err
}

func run(name string, skip bool, check func() error) Check {
	if skip {
		return Check{Name: name, Skipped: true, Detail: "not configured"}
	}
	start := time.Now()
	err := check()
	c := Check{Name: name, OK: err == nil, Duration: time.Since(start), Detail: "ok"}
	if err != nil {
		c.Detail = err.Error()
	}
	return c
}
