package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Executor fans out the nodes of a plan and joins on exactly that set.
type Executor struct {
	nodes map[AgentName]TaskNode
}

// NewExecutor creates an executor over the given nodes.
func NewExecutor(nodes map[AgentName]TaskNode) *Executor {
	copied := make(map[AgentName]TaskNode, len(nodes))
	for k, v := range nodes {
		copied[k] = v
	}
	return &Executor{nodes: copied}
}

// joinSet collects terminal results for a fixed set of expected agents.
type joinSet struct {
	mu       sync.Mutex
	expected AgentSet
	results  map[AgentName]TaskResult
}

func newJoinSet(expected AgentSet) *joinSet {
	return &joinSet{expected: expected, results: make(map[AgentName]TaskResult, len(expected))}
}

func (j *joinSet) put(r TaskResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results[r.Agent] = r
}

// ordered returns the results in plan order, or an error if any is missing.
func (j *joinSet) ordered() ([]TaskResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]TaskResult, 0, len(j.expected))
	for _, name := range j.expected {
		r, ok := j.results[name]
		if !ok {
			return nil, fmt.Errorf("no result from %s", name)
		}
		out = append(out, r)
	}
	return out, nil
}

// Execute starts one goroutine per agent in plan and waits for all of them.
// Agents outside plan are never started. onDone, when set, is called as each
// node finishes. The first fatal node error cancels the others.
func (e *Executor) Execute(ctx context.Context, wc *WorkflowContext, plan AgentSet, onDone func(TaskResult)) ([]TaskResult, error) {
	for _, name := range plan {
		if e.nodes[name] == nil {
			return nil, &RunError{Stage: StageFanOut, Agent: name, Err: fmt.Errorf("no node registered")}
		}
	}

	start := time.Now()
	join := newJoinSet(plan)
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range plan {
		node := e.nodes[name]
		g.Go(func() error {
			result, err := node(gctx, wc)
			if err != nil {
				return &RunError{Stage: StageFanOut, Agent: name, Err: err}
			}
			result.Agent = name
			join.put(result)
			if onDone != nil {
				onDone(result)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results, err := join.ordered()
	if err != nil {
		return nil, &RunError{Stage: StageFanOut, Err: err}
	}
	slog.Info("executor: join complete",
		"trace_id", wc.TraceID,
		"plan", plan.Strings(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return results, nil
}
