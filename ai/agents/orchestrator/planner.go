package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hrygo/productsense/ai/format"
)

// errNoPlan reports planner output without a usable JSON block.
var errNoPlan = errors.New("planner output has no JSON array or object")

// PlanParse is the decoded planner output. Err is set when nothing could be
// decoded; Agents is then empty.
type PlanParse struct {
	Agents  AgentSet
	Unknown []string
	Err     error
}

// ParsePlan decodes untrusted planner output. It accepts a JSON array of
// names, or an object whose "agents" or "plan" field is such an array,
// anywhere in the text. Names outside the selectable set are reported in
// Unknown and dropped.
func ParsePlan(text string) PlanParse {
	var doc any
	if !format.DecodeFirst(text, &doc) {
		return PlanParse{Agents: AgentSet{}, Err: errNoPlan}
	}

	var items []any
	switch v := doc.(type) {
	case []any:
		items = v
	case map[string]any:
		for _, key := range []string{"agents", "plan"} {
			if list, ok := v[key].([]any); ok {
				items = list
				break
			}
		}
		if items == nil {
			return PlanParse{Agents: AgentSet{}, Err: fmt.Errorf("planner object has no agents list")}
		}
	default:
		return PlanParse{Agents: AgentSet{}, Err: errNoPlan}
	}

	var (
		names   []AgentName
		unknown []string
	)
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			unknown = append(unknown, fmt.Sprint(item))
			continue
		}
		if n := AgentName(s); n.Selectable() {
			names = append(names, n)
		} else {
			unknown = append(unknown, s)
		}
	}
	return PlanParse{Agents: NewAgentSet(names...), Unknown: unknown}
}

// Planner picks the agents to run for one workflow context.
type Planner struct {
	agent     Agent
	invoker   *Invoker
	overrides []PlanOverride
}

// NewPlanner creates a planner. Overrides apply in order after parsing.
func NewPlanner(agent Agent, invoker *Invoker, overrides ...PlanOverride) *Planner {
	return &Planner{agent: agent, invoker: invoker, overrides: overrides}
}

// Plan returns the join set for wc. Unparseable or timed-out planner output
// yields an empty plan; only a failing model call is an error.
func (p *Planner) Plan(ctx context.Context, wc *WorkflowContext) (AgentSet, error) {
	result, err := p.invoker.Invoke(ctx, p.agent, planningPrompt(wc))
	if err != nil {
		return nil, err
	}

	plan := AgentSet{}
	if result.TimedOut {
		slog.Warn("planner: timed out, continuing with empty plan", "trace_id", wc.TraceID)
	} else {
		parsed := ParsePlan(result.Payload)
		switch {
		case parsed.Err != nil:
			slog.Warn("planner: unparseable output, continuing with empty plan",
				"trace_id", wc.TraceID,
				"error", parsed.Err,
				"output_length", len(result.Payload),
			)
		case len(parsed.Unknown) > 0:
			slog.Info("planner: dropped unknown agents",
				"trace_id", wc.TraceID,
				"unknown", parsed.Unknown,
			)
		}
		plan = parsed.Agents
	}

	for _, o := range p.overrides {
		before := len(plan)
		plan = o.Apply(wc, plan)
		if len(plan) != before {
			slog.Info("planner: override changed plan",
				"trace_id", wc.TraceID,
				"override", o.Name(),
				"plan", plan.Strings(),
			)
		}
	}
	return plan, nil
}
