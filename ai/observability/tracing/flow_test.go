package tracing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/productsense/store"
)

func span(name string, start int64, status string) *store.TraceSpan {
	return &store.TraceSpan{TraceID: "t", SpanID: name, Name: name, StartMs: start, EndMs: start + 500, Status: status}
}

func edgePairs(flow Flow) [][2]string {
	byID := map[string]string{}
	for _, n := range flow.Nodes {
		byID[n.ID] = n.Name
	}
	out := [][2]string{}
	for _, e := range flow.Edges {
		out = append(out, [2]string{byID[e.Source], byID[e.Target]})
	}
	return out
}

func TestBuildFlowWithReviewRetry(t *testing.T) {
	spans := []*store.TraceSpan{
		span(SpanRun, 0, StatusOK),
		span(SpanMemoryAdd, 1, StatusOK),
		span(SpanPlanner, 10, StatusOK),
		span(SpanPersonalize, 20, StatusOK),
		span(SpanInventory, 21, StatusTimeout),
		span(SpanAgentTool+"search_reviews", 23, StatusOK),
		{TraceID: "t", SpanID: "r1", Name: SpanReviews, StartMs: 22, EndMs: 30, Status: StatusOK},
		{TraceID: "t", SpanID: "e1", Name: SpanEvaluation, StartMs: 31, EndMs: 40, Status: StatusOK},
		{TraceID: "t", SpanID: "r2", Name: SpanReviews, StartMs: 41, EndMs: 50, Status: StatusOK},
		{TraceID: "t", SpanID: "e2", Name: SpanEvaluation, StartMs: 51, EndMs: 60, Status: StatusOK},
		span(SpanPresentation, 70, StatusOK),
		span(SpanComplete, 80, StatusOK),
	}

	flow := BuildFlow(spans)

	require.Len(t, flow.Nodes, 9)
	assert.Equal(t, "t", flow.TraceID)
	assert.False(t, flow.UserQueryAgent)
	assert.Equal(t, "Planning Agent", flow.Nodes[0].Label)
	assert.Equal(t, 0, flow.Nodes[0].Level)

	assert.Equal(t, [][2]string{
		{SpanPlanner, SpanPersonalize},
		{SpanPlanner, SpanInventory},
		{SpanPlanner, SpanReviews},
		{SpanPersonalize, SpanPresentation},
		{SpanInventory, SpanPresentation},
		{SpanReviews, SpanEvaluation},
		{SpanEvaluation, SpanReviews},
		{SpanReviews, SpanEvaluation},
		{SpanEvaluation, SpanPresentation},
		{SpanPresentation, SpanComplete},
	}, edgePairs(flow))

	// personalization, inventory and the first review share a level.
	assert.Equal(t, 1, flow.Nodes[1].Level)
	assert.Equal(t, 1, flow.Nodes[2].Level)
	assert.Equal(t, 1, flow.Nodes[3].Level)
	assert.True(t, flow.Nodes[1].Parallel)
	assert.Equal(t, 4, flow.Nodes[6].Level)
	assert.Equal(t, 5, flow.Nodes[7].Level)
	assert.Equal(t, 6, flow.Nodes[8].Level)
	assert.Equal(t, StatusTimeout, flow.Nodes[2].Status)
}

func TestBuildFlowRouterTools(t *testing.T) {
	spans := []*store.TraceSpan{
		span(SpanRouter, 0, StatusOK),
		span(SpanToolPrefix+"search_products", 5, StatusError),
		span(SpanToolPrefix+"query_about_product", 6, StatusOK),
		span(SpanPlanner, 10, StatusOK),
		span(SpanReviews, 20, StatusOK),
		span(SpanPresentation, 30, StatusOK),
	}

	flow := BuildFlow(spans)

	assert.True(t, flow.UserQueryAgent)
	assert.Equal(t, "Tool: search_products", flow.Nodes[1].Label)
	assert.Equal(t, [][2]string{
		{SpanRouter, SpanToolPrefix + "search_products"},
		{SpanRouter, SpanToolPrefix + "query_about_product"},
		{SpanToolPrefix + "query_about_product", SpanPlanner},
		{SpanPlanner, SpanReviews},
		{SpanReviews, SpanPresentation},
	}, edgePairs(flow))
}

func TestBuildFlowEmpty(t *testing.T) {
	flow := BuildFlow(nil)
	assert.Empty(t, flow.Nodes)
	assert.Empty(t, flow.Edges)
}

func TestBuildFlowTruncatesPreview(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'a'
	}
	s := span(SpanPlanner, 0, StatusOK)
	s.Attributes = map[string]string{"input": string(long)}

	flow := BuildFlow([]*store.TraceSpan{s})
	assert.Len(t, flow.Nodes[0].Input, maxFlowTextPreview+3)
}
