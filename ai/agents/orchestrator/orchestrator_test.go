package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/productsense/ai/cards"
	"github.com/hrygo/productsense/ai/filter"
	"github.com/hrygo/productsense/ai/memory"
	"github.com/hrygo/productsense/ai/observability/tracing"
	"github.com/hrygo/productsense/store"
)

func countType(section *cards.Section, typ cards.Type) int {
	n := 0
	for _, c := range section.Personalization {
		if c.Type == typ {
			n++
		}
	}
	return n
}

func TestRunStartsExactlyThePlannedAgents(t *testing.T) {
	h := newHarness()
	h.planner.fn = reply(`Here you go: ["inventory","product_personalization"]`)
	o := h.build(t, DefaultConfig())

	result, err := o.Run(context.Background(), &Request{UserID: 1, ProductID: 7})
	require.NoError(t, err)

	assert.Equal(t, AgentSet{AgentPersonalization, AgentInventory}, result.Plan)
	assert.Len(t, h.personalization.calls(), 1)
	assert.Len(t, h.inventory.calls(), 1)
	assert.Empty(t, h.reviews.calls())
	assert.Empty(t, h.evaluation.calls())

	require.Len(t, h.presentation.calls(), 1)
	prompt := h.presentation.calls()[0]
	assert.Contains(t, prompt, `"inventory"`)
	assert.Contains(t, prompt, `"product_personalization"`)
	assert.NotContains(t, prompt, `"reviews"`)

	assert.Equal(t, 3, countType(result.Section, cards.TypeFeature))
	assert.LessOrEqual(t, len(result.Section.Personalization)-3, cards.MaxOtherCards)
	assert.NoError(t, result.Section.Validate())

	last := h.data.lastUpsert(t)
	assert.Equal(t, store.SectionStatusDone, last.Status)
	assert.Equal(t, result.TraceID, last.TraceID)
	assert.NotEmpty(t, last.Personalization)

	names := h.data.spanNames()
	assert.Contains(t, names, tracing.SpanRun)
	assert.Contains(t, names, tracing.SpanPlanner)
	assert.Contains(t, names, tracing.SpanPresentation)
	assert.Contains(t, names, tracing.SpanComplete)
	assert.NotContains(t, names, tracing.SpanReviews)
}

func TestRunWithUnparseablePlanStillPresents(t *testing.T) {
	h := newHarness()
	h.planner.fn = reply("I think the shopper would like everything.")
	o := h.build(t, DefaultConfig())

	result, err := o.Run(context.Background(), &Request{UserID: 1, ProductID: 7})
	require.NoError(t, err)

	assert.Empty(t, result.Plan)
	assert.Empty(t, result.Results)
	assert.Empty(t, h.personalization.calls())
	assert.Empty(t, h.reviews.calls())
	assert.Empty(t, h.inventory.calls())
	assert.Len(t, h.presentation.calls(), 1)
}

func TestRunDropsUnknownPlannedAgents(t *testing.T) {
	h := newHarness()
	h.planner.fn = reply(`{"agents":["inventory","evaluation","shipping"]}`)
	o := h.build(t, DefaultConfig())

	result, err := o.Run(context.Background(), &Request{UserID: 1, ProductID: 7})
	require.NoError(t, err)
	assert.Equal(t, AgentSet{AgentInventory}, result.Plan)
	assert.Empty(t, h.evaluation.calls())
}

func TestRunTimeoutMarkerNeverReachesPresentation(t *testing.T) {
	h := newHarness()
	h.planner.fn = reply(`["inventory","product_personalization"]`)
	h.inventory.fn = blockUntilDone
	config := DefaultConfig()
	config.AgentTimeouts = map[AgentName]time.Duration{AgentInventory: 20 * time.Millisecond}
	o := h.build(t, config)

	result, err := o.Run(context.Background(), &Request{UserID: 1, ProductID: 7})
	require.NoError(t, err)

	require.Len(t, result.Results, 2)
	for _, r := range result.Results {
		if r.Agent == AgentInventory {
			assert.True(t, r.TimedOut)
			assert.Equal(t, TimeoutMarker(AgentInventory), r.Payload)
		}
	}

	require.Len(t, h.presentation.calls(), 1)
	prompt := h.presentation.calls()[0]
	assert.NotContains(t, prompt, "timed out")
	assert.NotContains(t, prompt, `"inventory"`)
	assert.Contains(t, prompt, `"product_personalization"`)
}

func TestRunKeepsPreviousSectionWhenNothingUsable(t *testing.T) {
	h := newHarness()
	h.data.seedSection(t, 7, 1, validCardsJSON)
	h.planner.fn = reply(`["inventory"]`)
	h.inventory.fn = blockUntilDone
	config := DefaultConfig()
	config.AgentTimeouts = map[AgentName]time.Duration{AgentInventory: 20 * time.Millisecond}
	o := h.build(t, config)

	result, err := o.Run(context.Background(), &Request{UserID: 1, ProductID: 7})
	require.NoError(t, err)

	assert.Empty(t, h.presentation.calls())
	assert.Equal(t, []string{"Trail Ready", "Eco Materials", "Low Stock", "Why it suits you"}, result.Section.Titles())
	assert.Equal(t, store.SectionStatusDone, h.data.lastUpsert(t).Status)
}

func TestRunFaultCorrectionWithEmptyPlanRunsReviewsOnce(t *testing.T) {
	h := newHarness()
	o := h.build(t, DefaultConfig())

	result, err := o.Run(context.Background(), &Request{UserID: 1, ProductID: 7, FaultCorrection: true})
	require.NoError(t, err)

	assert.Equal(t, AgentSet{AgentReviews}, result.Plan)
	assert.Len(t, h.reviews.calls(), 1)
	assert.Len(t, h.evaluation.calls(), 1)
	assert.Contains(t, h.reviews.calls()[0], injectIDsInstruction)
	assert.Empty(t, h.personalization.calls())
	assert.Empty(t, h.inventory.calls())

	require.Len(t, result.Results, 1)
	assert.Equal(t, AgentReviews, result.Results[0].Agent)
	assert.Equal(t, 1, result.Results[0].Attempts)
	assert.Equal(t, 1, strings.Count(h.presentation.calls()[0], `"reviews"`))
}

func TestRunFaultCorrectionRetriesLeakingReviews(t *testing.T) {
	h := newHarness()
	h.reviews.fn = func(_ context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, injectIDsInstruction) {
			return "Battery lasts two days (review_id: 42).", nil
		}
		return "Battery lasts two days.", nil
	}
	h.evaluation.fn = func(_ context.Context, prompt string) (string, error) {
		if filter.Contains(strings.TrimPrefix(prompt, "Check the following output:")) {
			return "retrigger: the summary cites internal review ids", nil
		}
		return "ok", nil
	}
	o := h.build(t, DefaultConfig())

	result, err := o.Run(context.Background(), &Request{UserID: 1, ProductID: 7, FaultCorrection: true})
	require.NoError(t, err)

	calls := h.reviews.calls()
	require.Len(t, calls, 2)
	assert.NotContains(t, calls[1], injectIDsInstruction)
	assert.Contains(t, calls[1], "the summary cites internal review ids")
	assert.Len(t, h.evaluation.calls(), 2)

	require.Len(t, result.Results, 1)
	assert.Equal(t, 2, result.Results[0].Attempts)
	assert.Equal(t, "Battery lasts two days.", result.Results[0].Payload)
	assert.NotContains(t, h.presentation.calls()[0], "review_id")
}

func TestRunRejectsCardsWithIdentifierFields(t *testing.T) {
	h := newHarness()
	h.data.seedSection(t, 7, 1, validCardsJSON)
	h.planner.fn = reply(`["reviews"]`)
	h.presentation.fn = reply(`{"personalization":[{"type":"feature_card","title":"Loved","value":"4.8","text":"Great","review_id":12}]}`)
	o := h.build(t, DefaultConfig())

	_, err := o.Run(context.Background(), &Request{UserID: 1, ProductID: 7})
	require.Error(t, err)

	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, StagePresent, runErr.Stage)

	last := h.data.lastUpsert(t)
	assert.Equal(t, store.SectionStatusFailed, last.Status)
	assert.Nil(t, last.Personalization)

	// The failed run keeps the previously stored cards.
	stored, err := h.data.GetPersonalizedSection(context.Background(), 7, 1)
	require.NoError(t, err)
	assert.JSONEq(t, validCardsJSON, string(stored.Personalization))
}

func TestRunRejectsInvalidCardCounts(t *testing.T) {
	h := newHarness()
	h.presentation.fn = reply(`[{"type":"text_card","title":"Only one","content":"Nice tablet."}]`)
	o := h.build(t, DefaultConfig())

	_, err := o.Run(context.Background(), &Request{UserID: 1, ProductID: 7})
	var validation *cards.ValidationError
	require.True(t, errors.As(err, &validation))
	assert.Equal(t, store.SectionStatusFailed, h.data.lastUpsert(t).Status)
}

func TestRunMissingUserOrProduct(t *testing.T) {
	h := newHarness()
	o := h.build(t, DefaultConfig())

	_, err := o.Run(context.Background(), &Request{UserID: 99, ProductID: 7})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = o.Run(context.Background(), &Request{UserID: 1, ProductID: 99})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Empty(t, h.planner.calls())
	assert.Empty(t, h.data.upserts)
}

func TestRunPlannerFailureIsFatal(t *testing.T) {
	h := newHarness()
	h.planner.fn = func(context.Context, string) (string, error) { return "", errors.New("rate limited") }
	o := h.build(t, DefaultConfig())

	_, err := o.Run(context.Background(), &Request{UserID: 1, ProductID: 7})
	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, StagePlanning, runErr.Stage)
	assert.Contains(t, err.Error(), "rate limited")
	assert.Empty(t, h.presentation.calls())
	assert.Equal(t, store.SectionStatusFailed, h.data.lastUpsert(t).Status)
}

func TestRunDeadlineBecomesRunTimeout(t *testing.T) {
	h := newHarness()
	h.planner.fn = blockUntilDone
	config := DefaultConfig()
	config.RunTimeout = 30 * time.Millisecond
	o := h.build(t, config)

	_, err := o.Run(context.Background(), &Request{UserID: 1, ProductID: 7})
	assert.ErrorIs(t, err, ErrRunTimeout)
	assert.Equal(t, store.SectionStatusFailed, h.data.lastUpsert(t).Status)
}

func TestRunRecallsPreferencesIntoPrompts(t *testing.T) {
	h := newHarness()
	h.memory.recalled = []memory.Memory{{ID: 1, Memory: "prefers matte finishes"}}
	h.planner.fn = reply(`["product_personalization"]`)
	o := h.build(t, DefaultConfig())

	_, err := o.Run(context.Background(), &Request{UserID: 1, ProductID: 7, UserMessage: "I like matte finishes"})
	require.NoError(t, err)

	assert.Equal(t, []string{"I like matte finishes"}, h.memory.messages)
	assert.Contains(t, h.planner.calls()[0], "prefers matte finishes")
	assert.Contains(t, h.planner.calls()[0], "user query=I like matte finishes")
	assert.Contains(t, h.personalization.calls()[0], "prefers matte finishes")
	assert.Contains(t, h.personalization.calls()[0], `"price":"$499"`)
}

func TestRunAppliesPlanRules(t *testing.T) {
	h := newHarness()
	config := DefaultConfig()
	config.PlanRules = []string{`"hiking" in user.hobbies => inventory`}
	o := h.build(t, config)

	result, err := o.Run(context.Background(), &Request{UserID: 1, ProductID: 7})
	require.NoError(t, err)
	assert.Equal(t, AgentSet{AgentInventory}, result.Plan)
}

func TestNewRejectsMissingAgents(t *testing.T) {
	_, err := New(newFakeData(), nil, Agents{}, DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestRunStreamEvents(t *testing.T) {
	h := newHarness()
	h.memory.added = []memory.Memory{{ID: 3, Memory: "likes hiking"}}
	h.planner.fn = reply(`["product_personalization"]`)
	o := h.build(t, DefaultConfig())

	ch := o.RunStream(context.Background(), &Request{UserID: 1, ProductID: 7, UserMessage: "I hike every weekend"})

	var events []*Event
	sawSentinel := false
	for e := range ch {
		if e == nil {
			sawSentinel = true
			continue
		}
		require.False(t, sawSentinel, "event after sentinel")
		events = append(events, e)
	}
	require.True(t, sawSentinel)
	require.GreaterOrEqual(t, len(events), 3)

	first := events[0]
	assert.Equal(t, EventWorkflow, first.Type)
	assert.Equal(t, "Your personalized section is being generated", first.Data["message"])
	assert.Equal(t, int32(7), first.Meta.ProductID)
	assert.True(t, strings.HasSuffix(first.Meta.Timestamp, "Z"))

	var sawMemory bool
	for _, e := range events {
		if e.Type == EventMemory {
			sawMemory = true
			assert.Equal(t, "Memory updated!", e.Data["message"])
		}
	}
	assert.True(t, sawMemory)

	last := events[len(events)-1]
	assert.Equal(t, EventWorkflow, last.Type)
	assert.Contains(t, last.Data, "personalization")
	assert.Equal(t, first.Data["trace_id"], last.Data["trace_id"])
}

func TestRunStreamReportsErrors(t *testing.T) {
	h := newHarness()
	o := h.build(t, DefaultConfig())

	var events []*Event
	for e := range o.RunStream(context.Background(), &Request{UserID: 99, ProductID: 7}) {
		if e != nil {
			events = append(events, e)
		}
	}
	require.Len(t, events, 2)
	assert.Equal(t, EventError, events[1].Type)
	assert.Contains(t, events[1].Data["message"], "not found")
}

func TestRunStreamSurvivesClientDisconnect(t *testing.T) {
	h := newHarness()
	h.planner.fn = reply(`["product_personalization"]`)
	h.personalization.fn = func(ctx context.Context, _ string) (string, error) {
		select {
		case <-time.After(100 * time.Millisecond):
			return "Highlight the 480g weight.", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	o := h.build(t, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	ch := o.RunStream(ctx, &Request{UserID: 1, ProductID: 7})
	first := <-ch
	require.NotNil(t, first)
	cancel()
	for range ch {
	}

	last := h.data.lastUpsert(t)
	assert.Equal(t, store.SectionStatusDone, last.Status)
	assert.Len(t, h.personalization.calls(), 1)
}
