package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const decisionQuery = "data.eventsphere.access.decision"

// Default Rego policy: public views are open, protected views need a session, admin views
// need an admin session. Unauthenticated callers go to /login, non-admins to /events.
const defaultRegoPolicy = `package eventsphere.access

default allow := false

allow if input.view.access == "public"

allow if {
	input.view.access == "protected"
	input.session.authenticated
}

allow if {
	input.view.access == "admin"
	input.session.authenticated
	input.session.is_admin
}

default redirect := ""

redirect := "/login" if {
	not allow
	not input.session.authenticated
}

redirect := "/events" if {
	not allow
	input.session.authenticated
	input.view.access == "admin"
}

decision := {"allow": allow, "redirect": redirect}
`

// OPAEvaluator evaluates the access policy with OPA Rego. The query is prepared once.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles the default access policy.
func NewOPAEvaluator(ctx context.Context) (*OPAEvaluator, error) {
	return NewOPAEvaluatorWithPolicy(ctx, defaultRegoPolicy)
}

// NewOPAEvaluatorWithPolicy compiles a custom policy. It must define
// data.eventsphere.access.decision as {"allow": bool, "redirect": string}.
func NewOPAEvaluatorWithPolicy(ctx context.Context, policy string) (*OPAEvaluator, error) {
	compiler, err := ast.CompileModules(map[string]string{"access.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile access policy: %w", err)
	}
	pq, err := rego.New(
		rego.Query(decisionQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare access policy: %w", err)
	}
	return &OPAEvaluator{query: pq}, nil
}

// HealthCheck verifies that the compiled policy evaluates to a decision.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	if _, err := e.eval(ctx, ViewFor("whoami"), Subject{}); err != nil {
		return fmt.Errorf("eval access policy: %w", err)
	}
	return nil
}

// Authorize evaluates the policy for view and subject. It fails closed: on any evaluation
// error the view is denied with a redirect to /login.
func (e *OPAEvaluator) Authorize(ctx context.Context, view View, subject Subject) (Decision, error) {
	d, err := e.eval(ctx, view, subject)
	if err != nil {
		log.Printf("policy: evaluation failed for view %s: %v", view.Name, err)
		return Decision{Allow: false, Redirect: RedirectLogin}, err
	}
	return d, nil
}

func (e *OPAEvaluator) eval(ctx context.Context, view View, subject Subject) (Decision, error) {
	input := map[string]interface{}{
		"view": map[string]interface{}{
			"name":   view.Name,
			"access": string(view.Access),
		},
		"session": map[string]interface{}{
			"authenticated": subject.Authenticated,
			"username":      subject.Username,
			"is_admin":      subject.IsAdmin,
		},
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("policy query returned no result")
	}
	obj, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("policy decision has type %T, want object", rs[0].Expressions[0].Value)
	}
	var d Decision
	if v, ok := obj["allow"].(bool); ok {
		d.Allow = v
	}
	if v, ok := obj["redirect"].(string); ok && !d.Allow {
		d.Redirect = v
	}
	return d, nil
}
