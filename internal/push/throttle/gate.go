// Package throttle decides whether a due push may be sent now: quiet hours and the global daily cap
// apply to every type except those on the bypass list.
package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	policydomain "retention-notifier/internal/policy/domain"
	"retention-notifier/internal/push/domain"
)

const decisionQuery = "data.pushes.throttle.decision"

const throttlePolicy = `package pushes.throttle

default bypass = false
default quiet = false
default cap_reached = false
default reason = "ok"
default allow = false

bypass if {
	some t in input.bypass_types
	t == input.type
}

quiet if {
	input.quiet.start < input.quiet.end
	input.local_hour >= input.quiet.start
	input.local_hour < input.quiet.end
}

quiet if {
	input.quiet.start > input.quiet.end
	input.local_hour >= input.quiet.start
}

quiet if {
	input.quiet.start > input.quiet.end
	input.local_hour < input.quiet.end
}

cap_reached if {
	input.sent_today >= input.daily_cap
}

reason = "bypass" if {
	bypass
}

reason = "quiet_hours" if {
	not bypass
	quiet
}

reason = "daily_cap" if {
	not bypass
	not quiet
	cap_reached
}

allow if {
	reason == "ok"
}

allow if {
	reason == "bypass"
}

decision = {"allow": allow, "reason": reason}
`

// Reasons reported by the gate.
const (
	ReasonOK         = "ok"
	ReasonBypass     = "bypass"
	ReasonQuietHours = "quiet_hours"
	ReasonDailyCap   = "daily_cap"
)

// Input is everything the throttle policy looks at for one job.
type Input struct {
	Type        domain.Type
	BypassTypes []string
	LocalHour   int
	Quiet       policydomain.QuietHours
	SentToday   int
	DailyCap    int
}

// InputFor builds the gate input for a job from the retention policy and the sent-today count.
func InputFor(p policydomain.RetentionPolicy, t domain.Type, now time.Time, sentToday int) Input {
	return Input{
		Type:        t,
		BypassTypes: p.BypassTypes,
		LocalHour:   now.In(p.Location()).Hour(),
		Quiet:       p.QuietHours,
		SentToday:   sentToday,
		DailyCap:    p.GlobalDailyCap,
	}
}

func (in Input) document() map[string]interface{} {
	bypass := make([]interface{}, 0, len(in.BypassTypes))
	for _, t := range in.BypassTypes {
		bypass = append(bypass, t)
	}
	return map[string]interface{}{
		"type":         string(in.Type),
		"bypass_types": bypass,
		"local_hour":   in.LocalHour,
		"quiet": map[string]interface{}{
			"start": in.Quiet.Start,
			"end":   in.Quiet.End,
		},
		"sent_today": in.SentToday,
		"daily_cap":  in.DailyCap,
	}
}

// Decision is the gate's verdict. A job that is not allowed stays pending.
type Decision struct {
	Allow  bool
	Reason string
}

// Gate evaluates the throttle policy with a query prepared once.
type Gate struct {
	query rego.PreparedEvalQuery
}

// NewGate compiles the throttle policy and prepares the decision query.
func NewGate(ctx context.Context) (*Gate, error) {
	compiler, err := ast.CompileModules(map[string]string{"throttle.rego": throttlePolicy})
	if err != nil {
		return nil, fmt.Errorf("compile throttle policy: %w", err)
	}
	pq, err := rego.New(
		rego.Query(decisionQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare throttle query: %w", err)
	}
	return &Gate{query: pq}, nil
}

// Evaluate returns the decision for in.
func (g *Gate) Evaluate(ctx context.Context, in Input) (Decision, error) {
	rs, err := g.query.Eval(ctx, rego.EvalInput(in.document()))
	if err != nil {
		return Decision{}, fmt.Errorf("eval throttle policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("throttle query returned no result")
	}
	obj, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("throttle decision has type %T", rs[0].Expressions[0].Value)
	}
	allow, _ := obj["allow"].(bool)
	reason, _ := obj["reason"].(string)
	return Decision{Allow: allow, Reason: reason}, nil
}

// HealthCheck evaluates a fixed input that must be allowed. Does not touch any store.
func (g *Gate) HealthCheck(ctx context.Context) error {
	d, err := g.Evaluate(ctx, Input{
		Type:      domain.TypeRetentionNudge,
		LocalHour: 12,
		Quiet:     policydomain.QuietHours{Start: 22, End: 9},
		DailyCap:  1,
	})
	if err != nil {
		return err
	}
	if !d.Allow || d.Reason != ReasonOK {
		return fmt.Errorf("throttle health input denied: %s", d.Reason)
	}
	return nil
}
