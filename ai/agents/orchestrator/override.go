package orchestrator

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/cel-go/cel"
)

// PlanOverride adjusts a parsed plan. Implementations may only add or remove
// selectable agents; the result is always re-normalized to an AgentSet.
type PlanOverride interface {
	Name() string
	Apply(wc *WorkflowContext, plan AgentSet) AgentSet
}

// FaultCorrectionOverride force-adds reviews when the run asks for fault
// correction, so the evaluation loop is exercised. It never adds anything else.
type FaultCorrectionOverride struct{}

func (FaultCorrectionOverride) Name() string { return "fault_correction" }

func (FaultCorrectionOverride) Apply(wc *WorkflowContext, plan AgentSet) AgentSet {
	if !wc.FaultCorrection || plan.Has(AgentReviews) {
		return plan
	}
	return plan.With(AgentReviews)
}

type planRule struct {
	source string
	agent  AgentName
	prg    cel.Program
}

// RuleOverride adds agents whose CEL condition holds for the run. Rules are
// written "expr => agent", for example `"hiking" in user.hobbies => inventory`.
// Expressions see user (the profile fields by JSON name), product and message.
type RuleOverride struct {
	rules []planRule
}

// NewRuleOverride compiles rules. Every rule must compile to a bool and name
// a selectable agent.
func NewRuleOverride(rules []string) (*RuleOverride, error) {
	env, err := cel.NewEnv(
		cel.Variable("user", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("product", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("message", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	override := &RuleOverride{}
	for _, rule := range rules {
		expr, target, ok := strings.Cut(rule, "=>")
		if !ok {
			return nil, fmt.Errorf("plan rule %q: want \"expr => agent\"", rule)
		}
		agent := AgentName(strings.TrimSpace(target))
		if !agent.Selectable() {
			return nil, fmt.Errorf("plan rule %q: %q is not a selectable agent", rule, agent)
		}

		ast, issues := env.Compile(strings.TrimSpace(expr))
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("plan rule %q: %w", rule, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("plan rule %q: expression must be bool, got %v", rule, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("plan rule %q: %w", rule, err)
		}
		override.rules = append(override.rules, planRule{source: rule, agent: agent, prg: prg})
	}
	return override, nil
}

func (o *RuleOverride) Name() string { return "rules" }

func (o *RuleOverride) Apply(wc *WorkflowContext, plan AgentSet) AgentSet {
	if o == nil || len(o.rules) == 0 {
		return plan
	}
	activation := map[string]any{
		"user": map[string]any{
			"first_name":            wc.User.FirstName,
			"gender":                wc.User.Gender,
			"age":                   int64(wc.User.Age),
			"location":              wc.User.Location,
			"hobbies":               nonNil(wc.User.Hobbies),
			"lifestyle_preferences": nonNil(wc.User.LifestylePreferences),
			"search_history":        nonNil(wc.User.SearchHistory),
			"user_preferences":      nonNil(wc.User.UserPreferences),
		},
		"product": map[string]any{
			"name":     wc.Product.Name,
			"category": wc.Product.Category,
			"brand":    wc.Product.Brand,
			"price":    wc.Product.Price,
		},
		"message": wc.UserMessage,
	}

	for _, r := range o.rules {
		if plan.Has(r.agent) {
			continue
		}
		out, _, err := r.prg.Eval(activation)
		if err != nil {
			slog.Warn("planner: plan rule failed", "rule", r.source, "error", err)
			continue
		}
		if matched, ok := out.Value().(bool); ok && matched {
			plan = plan.With(r.agent)
		}
	}
	return plan
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
