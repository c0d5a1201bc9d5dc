package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlan(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    AgentSet
		unknown []string
		wantErr bool
	}{
		{name: "bare array", text: `["reviews","inventory"]`, want: AgentSet{AgentReviews, AgentInventory}},
		{name: "canonical order and dedupe", text: `["inventory","product_personalization","inventory"]`, want: AgentSet{AgentPersonalization, AgentInventory}},
		{name: "fenced", text: "```json\n[\"reviews\"]\n```", want: AgentSet{AgentReviews}},
		{name: "embedded in prose", text: `I would run ["product_personalization"] for this shopper.`, want: AgentSet{AgentPersonalization}},
		{name: "agents object", text: `{"agents":["reviews"]}`, want: AgentSet{AgentReviews}},
		{name: "plan object", text: `{"plan":["inventory"]}`, want: AgentSet{AgentInventory}},
		{name: "empty array", text: `[]`, want: AgentSet{}},
		{name: "unknown names dropped", text: `["reviews","planning","weather",3]`, want: AgentSet{AgentReviews}, unknown: []string{"planning", "weather", "3"}},
		{name: "no json", text: "run the reviews agent", want: AgentSet{}, wantErr: true},
		{name: "object without list", text: `{"choice":"reviews"}`, want: AgentSet{}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePlan(tt.text)
			assert.Equal(t, tt.want, got.Agents)
			assert.Equal(t, tt.unknown, got.Unknown)
			if tt.wantErr {
				assert.Error(t, got.Err)
			} else {
				assert.NoError(t, got.Err)
			}
		})
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		text   string
		want   bool
		reason string
	}{
		{text: "ok", want: false},
		{text: "OK - nothing to fix", want: false},
		{text: "retrigger", want: true, reason: "retrigger"},
		{text: "RETRIGGER: mentions review ids", want: true, reason: "mentions review ids"},
		{text: "The answer cites ids, so retrigger - remove them", want: true, reason: "remove them"},
	}
	for _, tt := range tests {
		got := ParseVerdict(tt.text)
		assert.Equal(t, tt.want, got.Retrigger, tt.text)
		assert.Equal(t, tt.reason, got.Reason, tt.text)
	}
}

func TestAgentSet(t *testing.T) {
	set := NewAgentSet(AgentInventory, AgentPlanning, AgentReviews, AgentInventory)
	assert.Equal(t, AgentSet{AgentReviews, AgentInventory}, set)
	assert.True(t, set.Has(AgentReviews))
	assert.False(t, set.Has(AgentPersonalization))

	with := set.With(AgentPersonalization)
	assert.Equal(t, AgentSet{AgentPersonalization, AgentReviews, AgentInventory}, with)
	assert.Len(t, set, 2, "With must not modify the receiver")
	assert.Equal(t, []string{"reviews", "inventory"}, set.Strings())
}

func TestFaultCorrectionOverride(t *testing.T) {
	var o FaultCorrectionOverride

	assert.Equal(t, AgentSet{}, o.Apply(&WorkflowContext{}, AgentSet{}))
	assert.Equal(t, AgentSet{AgentReviews}, o.Apply(&WorkflowContext{FaultCorrection: true}, AgentSet{}))
	assert.Equal(t, AgentSet{AgentPersonalization, AgentReviews},
		o.Apply(&WorkflowContext{FaultCorrection: true}, AgentSet{AgentPersonalization}))
}

func TestRuleOverride(t *testing.T) {
	o, err := NewRuleOverride([]string{
		`"hiking" in user.hobbies => inventory`,
		`message.contains("review") => reviews`,
		`user.age > 60 => product_personalization`,
	})
	require.NoError(t, err)

	wc := &WorkflowContext{User: UserProfile{Age: 29, Hobbies: []string{"hiking"}}}
	assert.Equal(t, AgentSet{AgentInventory}, o.Apply(wc, AgentSet{}))

	wc.UserMessage = "what do reviews say about the battery"
	assert.Equal(t, AgentSet{AgentReviews, AgentInventory}, o.Apply(wc, AgentSet{}))

	wc = &WorkflowContext{User: UserProfile{Age: 70}}
	assert.Equal(t, AgentSet{AgentPersonalization}, o.Apply(wc, AgentSet{}))
}

func TestNewRuleOverrideRejectsBadRules(t *testing.T) {
	for _, rule := range []string{
		`user.age > 3`,
		`user.age > 3 => evaluation`,
		`user.age + => inventory`,
		`user.first_name => inventory`,
	} {
		_, err := NewRuleOverride([]string{rule})
		assert.Error(t, err, rule)
	}
}

func TestPlannerTimeoutYieldsEmptyPlan(t *testing.T) {
	agent := newFakeAgent(AgentPlanning, blockUntilDone)
	invoker := NewInvoker(time.Second, map[AgentName]time.Duration{AgentPlanning: 20 * time.Millisecond}, nil)
	planner := NewPlanner(agent, invoker, FaultCorrectionOverride{})

	plan, err := planner.Plan(context.Background(), &WorkflowContext{FaultCorrection: true})
	require.NoError(t, err)
	assert.Equal(t, AgentSet{AgentReviews}, plan)
}

func TestPlannerPropagatesModelErrors(t *testing.T) {
	agent := newFakeAgent(AgentPlanning, func(context.Context, string) (string, error) { return "", assert.AnError })
	planner := NewPlanner(agent, NewInvoker(time.Second, nil, nil))

	_, err := planner.Plan(context.Background(), &WorkflowContext{})
	assert.ErrorIs(t, err, assert.AnError)
}
