package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hrygo/productsense/ai/core/llm"
	"github.com/hrygo/productsense/ai/internal/strutil"
	"github.com/hrygo/productsense/ai/metrics"
	"github.com/hrygo/productsense/ai/observability/tracing"
)

// Tool is a function the model may call while an agent runs.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON Schema of the arguments.
	Parameters() *llm.JSONSchema
	Run(ctx context.Context, args string) (string, error)
}

// FuncTool adapts a function to Tool.
type FuncTool struct {
	name        string
	description string
	params      *llm.JSONSchema
	run         func(ctx context.Context, args string) (string, error)
}

// NewTool creates a FuncTool.
func NewTool(name, description string, params *llm.JSONSchema, run func(ctx context.Context, args string) (string, error)) *FuncTool {
	return &FuncTool{name: name, description: description, params: params, run: run}
}

func (t *FuncTool) Name() string { return t.name }
func (t *FuncTool) Description() string { return t.description }
func (t *FuncTool) Parameters() *llm.JSONSchema { return t.params }
func (t *FuncTool) Run(ctx context.Context, args string) (string, error) { return t.run(ctx, args) }

// LLMAgentConfig configures an LLMAgent.
type LLMAgentConfig struct {
	Name         AgentName
	SystemPrompt string
	Tools        []Tool
	// MaxIterations bounds the tool-calling loop. Default 5.
	MaxIterations int
	// Model labels LLM metrics.
	Model string
}

// LLMAgent is an Agent backed by a chat model with an optional tool loop.
type LLMAgent struct {
	llm     llm.Service
	config  LLMAgentConfig
	toolMap map[string]Tool
	metrics *metrics.PrometheusExporter
}

// NewLLMAgent creates an LLMAgent.
func NewLLMAgent(service llm.Service, config LLMAgentConfig, exporter *metrics.PrometheusExporter) *LLMAgent {
	if config.MaxIterations <= 0 {
		config.MaxIterations = 5
	}
	toolMap := make(map[string]Tool, len(config.Tools))
	for _, t := range config.Tools {
		toolMap[t.Name()] = t
	}
	return &LLMAgent{
		llm:     service,
		config:  config,
		toolMap: toolMap,
		metrics: exporter,
	}
}

func (a *LLMAgent) Name() AgentName { return a.config.Name }

// Run sends prompt to the model. With tools configured it loops until the
// model answers without calling a tool or MaxIterations is reached.
func (a *LLMAgent) Run(ctx context.Context, prompt string) (string, error) {
	messages := []llm.Message{
		llm.SystemPrompt(a.config.SystemPrompt),
		llm.UserMessage(prompt),
	}

	if len(a.config.Tools) == 0 {
		content, stats, err := a.llm.Chat(ctx, messages)
		if err != nil {
			return "", fmt.Errorf("%s chat: %w", a.config.Name, err)
		}
		a.recordStats(stats)
		return content, nil
	}

	descriptors := a.toolDescriptors()
	for iteration := 0; iteration < a.config.MaxIterations; iteration++ {
		resp, stats, err := a.llm.ChatWithTools(ctx, messages, descriptors)
		if err != nil {
			return "", fmt.Errorf("%s chat with tools (iteration %d): %w", a.config.Name, iteration+1, err)
		}
		a.recordStats(stats)

		if len(resp.ToolCalls) == 0 {
			slog.Debug("agent: final answer",
				"agent", a.config.Name,
				"iteration", iteration+1,
				"content_length", len(resp.Content),
			)
			return resp.Content, nil
		}

		assistantText := resp.Content
		for _, tc := range resp.ToolCalls {
			assistantText += fmt.Sprintf("\n[Tool: %s(%s)]", tc.Name, tc.Arguments)
		}
		messages = append(messages, llm.AssistantMessage(strings.TrimSpace(assistantText)))

		for _, tc := range resp.ToolCalls {
			result := a.executeTool(ctx, tc)
			messages = append(messages, llm.UserMessage(fmt.Sprintf("[Result from %s]: %s", tc.Name, result)))
		}
	}

	// Out of tool budget: ask for an answer from what has been gathered.
	slog.Warn("agent: tool iterations exhausted, forcing final answer",
		"agent", a.config.Name,
		"max_iterations", a.config.MaxIterations,
	)
	messages = append(messages, llm.UserMessage("Answer now using the tool results above. Do not call any more tools."))
	content, stats, err := a.llm.Chat(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("%s final answer: %w", a.config.Name, err)
	}
	a.recordStats(stats)
	return content, nil
}

func (a *LLMAgent) executeTool(ctx context.Context, tc llm.ToolCall) string {
	ctx, span := tracing.StartSpan(ctx, tracing.SpanAgentTool+tc.Name)
	span.SetAttr(tracing.AttrInput, tc.Arguments)
	start := time.Now()

	tool, ok := a.toolMap[tc.Name]
	if !ok {
		err := fmt.Errorf("unknown tool %q", tc.Name)
		span.End(err)
		a.metrics.RecordToolCall(tc.Name, time.Since(start), false)
		return "Error: " + err.Error()
	}

	result, err := tool.Run(ctx, tc.Arguments)
	a.metrics.RecordToolCall(tc.Name, time.Since(start), err == nil)
	if err != nil {
		slog.Warn("agent: tool failed",
			"agent", a.config.Name,
			"tool", tc.Name,
			"error", err,
		)
		span.End(err)
		return "Error: " + err.Error()
	}

	slog.Debug("agent: tool completed",
		"agent", a.config.Name,
		"tool", tc.Name,
		"duration_ms", time.Since(start).Milliseconds(),
		"result_preview", strutil.Truncate(result, 100),
	)
	span.SetAttr(tracing.AttrOutput, result)
	span.End(nil)
	return result
}

func (a *LLMAgent) toolDescriptors() []llm.ToolDescriptor {
	out := make([]llm.ToolDescriptor, 0, len(a.config.Tools))
	for _, t := range a.config.Tools {
		out = append(out, llm.ToolDescriptor{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters().String(),
		})
	}
	return out
}

func (a *LLMAgent) recordStats(stats *llm.CallStats) {
	if stats == nil {
		return
	}
	a.metrics.RecordLLMCall(a.config.Model, stats.PromptTokens, stats.CompletionTokens,
		time.Duration(stats.TotalDurationMs)*time.Millisecond)
}
