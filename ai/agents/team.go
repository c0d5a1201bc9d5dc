// Package agent assembles the model-backed agents of a personalization run.
package agent

import (
	"fmt"

	"github.com/hrygo/productsense/ai/agents/orchestrator"
	"github.com/hrygo/productsense/ai/agents/tools"
	"github.com/hrygo/productsense/ai/core/embedding"
	"github.com/hrygo/productsense/ai/core/llm"
	"github.com/hrygo/productsense/ai/metrics"
)

// TeamStore is the persistence the agent tools read from.
type TeamStore interface {
	tools.ReviewSearcher
	tools.VariantLister
}

// TeamConfig configures NewTeam.
type TeamConfig struct {
	// Model labels LLM metrics.
	Model string
	// EmbeddingModel labels the review vectors searched by the reviews agent.
	EmbeddingModel string
	// MaxToolIterations bounds each agent's tool loop.
	MaxToolIterations int
	// ToolCache is shared by read-only tools. Optional.
	ToolCache *tools.ResultCache
}

// NewTeam builds the six agents over one chat model. The reviews and
// inventory agents get their tools; the others are single-call agents.
func NewTeam(service llm.Service, st TeamStore, embedder embedding.Service, config TeamConfig, exporter *metrics.PrometheusExporter) (orchestrator.Agents, error) {
	if service == nil {
		return orchestrator.Agents{}, fmt.Errorf("llm service cannot be nil")
	}

	reviewSearch, err := tools.NewReviewSearchTool(st, embedder, config.EmbeddingModel, config.ToolCache)
	if err != nil {
		return orchestrator.Agents{}, fmt.Errorf("reviews agent: %w", err)
	}
	inventory, err := tools.NewInventoryTool(st)
	if err != nil {
		return orchestrator.Agents{}, fmt.Errorf("inventory agent: %w", err)
	}

	newAgent := func(name orchestrator.AgentName, prompt string, agentTools ...orchestrator.Tool) orchestrator.Agent {
		return orchestrator.NewLLMAgent(service, orchestrator.LLMAgentConfig{
			Name:          name,
			SystemPrompt:  prompt,
			Tools:         agentTools,
			MaxIterations: config.MaxToolIterations,
			Model:         config.Model,
		}, exporter)
	}

	return orchestrator.Agents{
		Planner:         newAgent(orchestrator.AgentPlanning, orchestrator.PlanningSystemPrompt),
		Personalization: newAgent(orchestrator.AgentPersonalization, orchestrator.PersonalizationSystemPrompt),
		Reviews:         newAgent(orchestrator.AgentReviews, orchestrator.ReviewsSystemPrompt, reviewSearch),
		Inventory:       newAgent(orchestrator.AgentInventory, orchestrator.InventorySystemPrompt, inventory),
		Evaluation:      newAgent(orchestrator.AgentEvaluation, orchestrator.EvaluationSystemPrompt),
		Presentation:    newAgent(orchestrator.AgentPresentation, orchestrator.PresentationSystemPrompt),
	}, nil
}
