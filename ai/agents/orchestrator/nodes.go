package orchestrator

import (
	"context"
)

// TaskNode runs one triggered agent to its terminal result. A node timeout
// is reported through TaskResult.TimedOut, never as an error.
type TaskNode func(ctx context.Context, wc *WorkflowContext) (TaskResult, error)

// AgentNode is a single-call node: render the prompt from wc, invoke agent.
func AgentNode(invoker *Invoker, agent Agent, prompt func(*WorkflowContext) string) TaskNode {
	return func(ctx context.Context, wc *WorkflowContext) (TaskResult, error) {
		return invoker.Invoke(ctx, agent, prompt(wc))
	}
}

// PersonalizationNode highlights features for the user.
func PersonalizationNode(invoker *Invoker, agent Agent) TaskNode {
	return AgentNode(invoker, agent, personalizationPrompt)
}

// InventoryNode matches variants to the user's preferences.
func InventoryNode(invoker *Invoker, agent Agent) TaskNode {
	return AgentNode(invoker, agent, inventoryPrompt)
}

// ReviewsNode runs the reviews agent inside its evaluation loop.
func ReviewsNode(loop *ReviewsLoop) TaskNode {
	return loop.Run
}
