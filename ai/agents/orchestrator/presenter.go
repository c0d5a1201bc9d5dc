package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hrygo/productsense/ai/cards"
)

// timeoutSuffix is shared by every timeout marker.
const timeoutSuffix = "timed out. No response"

// Presenter merges the joined agent results with the previous section into
// the final cards.
type Presenter struct {
	agent   Agent
	invoker *Invoker
}

// NewPresenter creates a presenter.
func NewPresenter(agent Agent, invoker *Invoker) *Presenter {
	return &Presenter{agent: agent, invoker: invoker}
}

// Merge produces the validated section for results. Timed-out results are
// dropped before the model sees them. When nothing usable is left and a valid
// previous section exists, that section is returned unchanged.
func (p *Presenter) Merge(ctx context.Context, wc *WorkflowContext, results []TaskResult, previous *cards.Section) (*cards.Section, error) {
	current := make(map[AgentName]string, len(results))
	for _, r := range results {
		if r.Usable() {
			current[r.Agent] = r.Payload
		}
	}

	if len(current) == 0 && previous != nil && previous.Validate() == nil {
		slog.Info("presenter: no usable results, keeping previous section", "trace_id", wc.TraceID)
		return previous, nil
	}

	result, err := p.invoker.Invoke(ctx, p.agent, presentationPrompt(current, previous, wc.UserMessage))
	if err != nil {
		return nil, err
	}
	if result.TimedOut {
		return nil, fmt.Errorf("presentation: %s", result.Payload)
	}

	section, err := cards.Parse(result.Payload)
	if err != nil {
		return nil, err
	}
	if err := section.Validate(); err != nil {
		return nil, err
	}
	for i, c := range section.Personalization {
		if leaksMarker(c) {
			return nil, fmt.Errorf("card %d carries a timeout marker", i)
		}
	}
	return section, nil
}

func leaksMarker(c cards.Card) bool {
	if strings.Contains(c.Title, timeoutSuffix) ||
		strings.Contains(c.Text, timeoutSuffix) ||
		strings.Contains(c.Content, timeoutSuffix) ||
		strings.Contains(c.Value, timeoutSuffix) {
		return true
	}
	for _, item := range c.Items {
		if strings.Contains(item, timeoutSuffix) {
			return true
		}
	}
	return false
}
