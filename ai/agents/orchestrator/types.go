// Package orchestrator runs the personalization task graph for one
// (user, product) pair: planning, concurrent fan-out to the selected agents,
// the reviews self-correction loop, and the presentation merge.
package orchestrator

import (
	"context"
	"strings"

	"github.com/hrygo/productsense/ai/cards"
)

// AgentName is the closed set of agents and pipeline stages.
type AgentName string

const (
	AgentPersonalization AgentName = "product_personalization"
	AgentReviews         AgentName = "reviews"
	AgentInventory       AgentName = "inventory"

	// Fixed pipeline stages. The planner can never select these.
	AgentPlanning     AgentName = "planning"
	AgentEvaluation   AgentName = "evaluation"
	AgentPresentation AgentName = "presentation"
)

// selectable lists planner-selectable agents in canonical order.
var selectable = []AgentName{AgentPersonalization, AgentReviews, AgentInventory}

// Selectable reports whether the planner may pick n.
func (n AgentName) Selectable() bool {
	for _, s := range selectable {
		if s == n {
			return true
		}
	}
	return false
}

// AgentSet is a deduplicated set of selectable agents kept in canonical order.
// Once planning completes it is the join set of the run.
type AgentSet []AgentName

// NewAgentSet keeps the selectable names and drops everything else.
func NewAgentSet(names ...AgentName) AgentSet {
	seen := make(map[AgentName]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	set := make(AgentSet, 0, len(selectable))
	for _, n := range selectable {
		if seen[n] {
			set = append(set, n)
		}
	}
	return set
}

// Has reports whether n is in the set.
func (s AgentSet) Has(n AgentName) bool {
	for _, m := range s {
		if m == n {
			return true
		}
	}
	return false
}

// With returns a new set that also contains n.
func (s AgentSet) With(n AgentName) AgentSet {
	return NewAgentSet(append(append([]AgentName{}, s...), n)...)
}

// Strings returns the names as plain strings.
func (s AgentSet) Strings() []string {
	out := make([]string, len(s))
	for i, n := range s {
		out[i] = string(n)
	}
	return out
}

// UserProfile is the user as the agents see it.
type UserProfile struct {
	FirstName            string   `json:"first_name"`
	Gender               string   `json:"gender"`
	Age                  int32    `json:"age"`
	Location             string   `json:"location,omitempty"`
	Hobbies              []string `json:"hobbies"`
	LifestylePreferences []string `json:"lifestyle_preferences"`
	SearchHistory        []string `json:"search_history"`
	// UserPreferences are long-term memory entries recalled for this run.
	UserPreferences []string `json:"user_preferences"`
}

// ProductInfo is the product as the agents see it.
type ProductInfo struct {
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Price       float64 `json:"price"`
	Brand       string  `json:"brand"`
	Description string  `json:"description"`
}

// WorkflowContext is the shared state of one run. It is written once during
// setup; afterwards only Triggered is set, by planning.
type WorkflowContext struct {
	UserID          int32
	ProductID       int32
	UserMessage     string
	FaultCorrection bool
	TraceID         string

	User     UserProfile
	Product  ProductInfo
	Variants []map[string]any

	Triggered AgentSet
}

type workflowKey struct{}

// WithWorkflow makes wc visible to agent tools running under ctx.
func WithWorkflow(ctx context.Context, wc *WorkflowContext) context.Context {
	return context.WithValue(ctx, workflowKey{}, wc)
}

// WorkflowFromContext returns the run state set by WithWorkflow, or nil.
func WorkflowFromContext(ctx context.Context) *WorkflowContext {
	wc, _ := ctx.Value(workflowKey{}).(*WorkflowContext)
	return wc
}

// TaskResult is the terminal output of one triggered node.
type TaskResult struct {
	Agent   AgentName `json:"agent"`
	Payload string    `json:"payload"`
	// TimedOut marks Payload as the fixed timeout marker for Agent.
	TimedOut bool `json:"timed_out,omitempty"`
	// Attempts counts reviews passes; zero for other agents.
	Attempts int `json:"attempts,omitempty"`
}

// Usable reports whether the result carries real agent output.
func (r TaskResult) Usable() bool {
	return !r.TimedOut && strings.TrimSpace(r.Payload) != ""
}

// Verdict is the evaluator's decision on a reviews result.
type Verdict struct {
	Retrigger bool
	Reason    string
}

// ParseVerdict reads evaluator output. Any mention of "retrigger" asks for
// another reviews pass; the reason is the text after the keyword, or the
// whole output when nothing follows it.
func ParseVerdict(text string) Verdict {
	lower := strings.ToLower(text)
	idx := strings.Index(lower, "retrigger")
	if idx < 0 {
		return Verdict{}
	}
	reason := strings.TrimSpace(text[idx+len("retrigger"):])
	reason = strings.TrimSpace(strings.TrimLeft(reason, ":-"))
	if reason == "" {
		reason = strings.TrimSpace(text)
	}
	return Verdict{Retrigger: true, Reason: reason}
}

// Request starts one run.
type Request struct {
	UserID          int32
	ProductID       int32
	UserMessage     string
	FaultCorrection bool
	// TraceID is generated when empty.
	TraceID string
}

// Result is the outcome of a successful run.
type Result struct {
	Section *cards.Section `json:"personalization"`
	TraceID string         `json:"trace_id"`
	Plan    AgentSet       `json:"plan"`
	Results []TaskResult   `json:"-"`
}
