package tracing

import (
	"sort"
	"strconv"
	"strings"

	"github.com/hrygo/productsense/store"
)

// Span names recorded by the pipeline. BuildFlow keys its edges off them.
const (
	SpanRun            = "run"
	SpanRouter         = "router"
	SpanToolPrefix     = "tool:"
	SpanPlanner        = "planner"
	SpanPersonalize    = "personalization"
	SpanInventory      = "inventory"
	SpanReviews        = "reviews"
	SpanEvaluation     = "evaluation"
	SpanPresentation   = "presentation"
	SpanComplete       = "complete"
	SpanMemoryAdd      = "memory.add"
	SpanMemorySearch   = "memory.search"
	SpanAgentTool      = "agent.tool:"
	AttrInput          = "input"
	AttrOutput         = "output"
	maxFlowTextPreview = 200
)

var spanLabels = map[string]string{
	SpanRouter:       "Command Routing Agent",
	SpanPlanner:      "Planning Agent",
	SpanPersonalize:  "Product Personalization Agent",
	SpanInventory:    "Inventory Agent",
	SpanReviews:      "Review Agent",
	SpanEvaluation:   "Evaluation Agent",
	SpanPresentation: "Presentation Agent",
	SpanComplete:     "Workflow Complete",
}

// FlowNode is one agent or tool invocation in the flow graph.
type FlowNode struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Label    string  `json:"label"`
	Level    int     `json:"level"`
	Status   string  `json:"status"`
	Input    string  `json:"input,omitempty"`
	Output   string  `json:"output,omitempty"`
	Seconds  float64 `json:"time"`
	StartMs  int64   `json:"start_ms"`
	Parallel bool    `json:"parallel,omitempty"`
}

// FlowEdge connects two nodes.
type FlowEdge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Flow is the graph of a single run.
type Flow struct {
	TraceID        string     `json:"trace_id"`
	Nodes          []FlowNode `json:"nodes"`
	Edges          []FlowEdge `json:"edges"`
	UserQueryAgent bool       `json:"user_query_agent_flow"`
}

// BuildFlow derives the flow graph from recorded spans. It reads nothing but
// its argument.
func BuildFlow(spans []*store.TraceSpan) Flow {
	ordered := make([]*store.TraceSpan, 0, len(spans))
	for _, s := range spans {
		if s == nil || s.Name == SpanRun || strings.HasPrefix(s.Name, "memory.") || strings.HasPrefix(s.Name, SpanAgentTool) {
			continue
		}
		ordered = append(ordered, s)
	}
	sortSpans(ordered)

	flow := Flow{Nodes: []FlowNode{}, Edges: []FlowEdge{}}
	if len(spans) > 0 && spans[0] != nil {
		flow.TraceID = spans[0].TraceID
	}

	byName := map[string][]string{}
	for i, s := range ordered {
		id := strconv.Itoa(i + 1)
		flow.Nodes = append(flow.Nodes, FlowNode{
			ID:      id,
			Name:    s.Name,
			Label:   labelFor(s.Name),
			Status:  s.Status,
			Input:   preview(s.Attributes[AttrInput]),
			Output:  preview(s.Attributes[AttrOutput]),
			Seconds: float64(s.EndMs-s.StartMs) / 1000,
			StartMs: s.StartMs,
		})
		key := s.Name
		if strings.HasPrefix(key, SpanToolPrefix) {
			key = SpanToolPrefix
		}
		byName[key] = append(byName[key], id)
		if s.Name == SpanRouter {
			flow.UserQueryAgent = true
		}
	}

	edges := newEdgeSet()
	statusOf := func(id string) string {
		n, _ := strconv.Atoi(id)
		return flow.Nodes[n-1].Status
	}

	for _, router := range first(byName[SpanRouter]) {
		for _, tool := range byName[SpanToolPrefix] {
			edges.add(router, tool)
		}
	}
	for _, tool := range byName[SpanToolPrefix] {
		if statusOf(tool) != StatusOK {
			continue
		}
		for _, planner := range first(byName[SpanPlanner]) {
			edges.add(tool, planner)
		}
	}
	for _, planner := range first(byName[SpanPlanner]) {
		for _, name := range []string{SpanPersonalize, SpanInventory, SpanReviews} {
			for _, target := range first(byName[name]) {
				edges.add(planner, target)
			}
		}
	}

	// Reviews and evaluations alternate in start order.
	chain := interleave(byName[SpanReviews], byName[SpanEvaluation])
	for i := 1; i < len(chain); i++ {
		edges.add(chain[i-1], chain[i])
	}

	for _, present := range byName[SpanPresentation] {
		for _, name := range []string{SpanPersonalize, SpanInventory} {
			for _, src := range byName[name] {
				edges.add(src, present)
			}
		}
		if len(chain) > 0 {
			edges.add(chain[len(chain)-1], present)
		}
		for _, done := range byName[SpanComplete] {
			edges.add(present, done)
		}
	}

	flow.Edges = edges.sorted()
	assignLevels(&flow)
	return flow
}

func labelFor(name string) string {
	if label, ok := spanLabels[name]; ok {
		return label
	}
	if tool, ok := strings.CutPrefix(name, SpanToolPrefix); ok {
		return "Tool: " + tool
	}
	return name
}

func preview(s string) string {
	if len(s) <= maxFlowTextPreview {
		return s
	}
	return s[:maxFlowTextPreview] + "..."
}

func first(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	return ids[:1]
}

// interleave merges two id lists that are each in start order, alternating
// between them by numeric id.
func interleave(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	sort.SliceStable(out, func(i, j int) bool { return atoi(out[i]) < atoi(out[j]) })
	return out
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

type edgeSet struct {
	seen  map[string]bool
	edges []FlowEdge
}

func newEdgeSet() *edgeSet {
	return &edgeSet{seen: map[string]bool{}}
}

func (s *edgeSet) add(source, target string) {
	id := source + "-" + target
	if source == target || s.seen[id] {
		return
	}
	s.seen[id] = true
	s.edges = append(s.edges, FlowEdge{ID: id, Source: source, Target: target})
}

func (s *edgeSet) sorted() []FlowEdge {
	out := append([]FlowEdge{}, s.edges...)
	sort.Slice(out, func(i, j int) bool {
		if atoi(out[i].Source) != atoi(out[j].Source) {
			return atoi(out[i].Source) < atoi(out[j].Source)
		}
		return atoi(out[i].Target) < atoi(out[j].Target)
	})
	return out
}

// assignLevels sets each node's level to its longest distance from a root.
// Edges always point from a lower id to a higher one, so one pass in id order suffices.
func assignLevels(flow *Flow) {
	incoming := map[string][]string{}
	for _, e := range flow.Edges {
		incoming[e.Target] = append(incoming[e.Target], e.Source)
	}
	levels := map[string]int{}
	for i := range flow.Nodes {
		node := &flow.Nodes[i]
		for _, src := range incoming[node.ID] {
			if l := levels[src] + 1; l > node.Level {
				node.Level = l
			}
		}
		levels[node.ID] = node.Level
	}
	perLevel := map[int]int{}
	for _, n := range flow.Nodes {
		perLevel[n.Level]++
	}
	for i := range flow.Nodes {
		flow.Nodes[i].Parallel = perLevel[flow.Nodes[i].Level] > 1
	}
}

func sortSpans(spans []*store.TraceSpan) {
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].StartMs != spans[j].StartMs {
			return spans[i].StartMs < spans[j].StartMs
		}
		return spans[i].SpanID < spans[j].SpanID
	})
}
