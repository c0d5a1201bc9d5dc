package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hrygo/productsense/ai/internal/strutil"
	"github.com/hrygo/productsense/ai/metrics"
	"github.com/hrygo/productsense/ai/observability/tracing"
)

// Agent is one model-driven unit of work: a prompt in, a text result out.
type Agent interface {
	Name() AgentName
	Run(ctx context.Context, prompt string) (string, error)
}

// DefaultAgentTimeout bounds a node when no timeout is configured for it.
const DefaultAgentTimeout = 60 * time.Second

var timeoutMarkers = map[AgentName]string{
	AgentPersonalization: "Personalization agent timed out. No response",
	AgentReviews:         "Review agent timed out. No response",
	AgentInventory:       "Inventory agent timed out. No response",
	AgentEvaluation:      "Evaluation agent timed out. No response",
	AgentPlanning:        "Planning agent timed out. No response",
	AgentPresentation:    "Presentation agent timed out. No response",
}

// TimeoutMarker is the fixed payload substituted when name exceeds its timeout.
func TimeoutMarker(name AgentName) string {
	if m, ok := timeoutMarkers[name]; ok {
		return m
	}
	return string(name) + " agent timed out. No response"
}

var spanNames = map[AgentName]string{
	AgentPersonalization: tracing.SpanPersonalize,
	AgentReviews:         tracing.SpanReviews,
	AgentInventory:       tracing.SpanInventory,
	AgentEvaluation:      tracing.SpanEvaluation,
	AgentPlanning:        tracing.SpanPlanner,
	AgentPresentation:    tracing.SpanPresentation,
}

// Invoker runs agents under a per-agent timeout with a uniform failure
// contract: a node timeout becomes a TimedOut result, any other error is
// returned to the caller.
type Invoker struct {
	timeouts       map[AgentName]time.Duration
	defaultTimeout time.Duration
	metrics        *metrics.PrometheusExporter
}

// NewInvoker creates an invoker. Agents missing from timeouts use defaultTimeout.
func NewInvoker(defaultTimeout time.Duration, timeouts map[AgentName]time.Duration, exporter *metrics.PrometheusExporter) *Invoker {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultAgentTimeout
	}
	copied := make(map[AgentName]time.Duration, len(timeouts))
	for k, v := range timeouts {
		copied[k] = v
	}
	return &Invoker{
		timeouts:       copied,
		defaultTimeout: defaultTimeout,
		metrics:        exporter,
	}
}

// Timeout returns the bound applied to name.
func (i *Invoker) Timeout(name AgentName) time.Duration {
	if d, ok := i.timeouts[name]; ok && d > 0 {
		return d
	}
	return i.defaultTimeout
}

type agentReply struct {
	text string
	err  error
}

// Invoke runs agent with prompt. The returned error is non-nil only for
// non-timeout failures, or when the parent context itself is done.
func (i *Invoker) Invoke(ctx context.Context, agent Agent, prompt string) (TaskResult, error) {
	name := agent.Name()
	timeout := i.Timeout(name)

	spanName, ok := spanNames[name]
	if !ok {
		spanName = string(name)
	}
	spanCtx, span := tracing.StartSpan(ctx, spanName)
	span.SetAttr(tracing.AttrInput, prompt)

	callCtx, cancel := context.WithTimeout(spanCtx, timeout)
	defer cancel()

	start := time.Now()
	replies := make(chan agentReply, 1)
	go func() {
		text, err := agent.Run(callCtx, prompt)
		replies <- agentReply{text: text, err: err}
	}()

	var reply agentReply
	select {
	case reply = <-replies:
	case <-callCtx.Done():
		reply = agentReply{err: callCtx.Err()}
	}
	latency := time.Since(start)

	if reply.err != nil && errors.Is(reply.err, context.DeadlineExceeded) && ctx.Err() == nil {
		slog.Warn("invoker: agent timed out, substituting marker",
			"agent", name,
			"timeout", timeout,
			"duration_ms", latency.Milliseconds(),
		)
		marker := TimeoutMarker(name)
		span.SetAttr(tracing.AttrOutput, marker)
		span.EndWithStatus(tracing.StatusTimeout)
		i.metrics.RecordNode(string(name), latency, true)
		return TaskResult{Agent: name, Payload: marker, TimedOut: true}, nil
	}

	if reply.err != nil {
		if ctx.Err() != nil {
			reply.err = ctx.Err()
		}
		span.End(reply.err)
		i.metrics.RecordNode(string(name), latency, false)
		return TaskResult{}, fmt.Errorf("agent %s: %w", name, reply.err)
	}

	slog.Debug("invoker: agent completed",
		"agent", name,
		"duration_ms", latency.Milliseconds(),
		"output_preview", strutil.Truncate(reply.text, 100),
	)
	span.SetAttr(tracing.AttrOutput, reply.text)
	span.End(nil)
	i.metrics.RecordNode(string(name), latency, false)
	return TaskResult{Agent: name, Payload: reply.text}, nil
}
