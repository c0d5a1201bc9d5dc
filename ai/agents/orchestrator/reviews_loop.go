package orchestrator

import (
	"context"
	"log/slog"

	"github.com/hrygo/productsense/ai/filter"
	"github.com/hrygo/productsense/ai/metrics"
)

// DefaultMaxReviewAttempts bounds reviews passes per run.
const DefaultMaxReviewAttempts = 3

// ReviewsLoop is the reviews node with its evaluation cycle:
//
//	REVIEW_PENDING -> (fault correction off) -> REVIEW_DONE
//	REVIEW_PENDING -> EVALUATING -> ok -> REVIEW_DONE
//	                             -> retrigger -> REVIEW_PENDING (with reflection)
//
// After maxAttempts rejected passes the last raw result is accepted with
// identifiers redacted.
type ReviewsLoop struct {
	reviews     Agent
	evaluator   Agent
	invoker     *Invoker
	maxAttempts int
	metrics     *metrics.PrometheusExporter
}

// NewReviewsLoop creates the loop. maxAttempts below one uses the default.
func NewReviewsLoop(reviews, evaluator Agent, invoker *Invoker, maxAttempts int, exporter *metrics.PrometheusExporter) *ReviewsLoop {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxReviewAttempts
	}
	return &ReviewsLoop{
		reviews:     reviews,
		evaluator:   evaluator,
		invoker:     invoker,
		maxAttempts: maxAttempts,
		metrics:     exporter,
	}
}

// Run drives the loop to REVIEW_DONE.
func (l *ReviewsLoop) Run(ctx context.Context, wc *WorkflowContext) (TaskResult, error) {
	var prev, reason string
	for attempt := 1; ; attempt++ {
		injectIDs := wc.FaultCorrection && attempt == 1
		result, err := l.invoker.Invoke(ctx, l.reviews, reviewsPrompt(wc, prev, reason, injectIDs))
		if err != nil {
			return TaskResult{}, err
		}
		result.Attempts = attempt

		if !wc.FaultCorrection || result.TimedOut {
			return result, nil
		}

		evaluation, err := l.invoker.Invoke(ctx, l.evaluator, evaluationPrompt(result.Payload))
		if err != nil {
			return TaskResult{}, err
		}
		if evaluation.TimedOut {
			slog.Warn("reviews: evaluator timed out, accepting raw result",
				"trace_id", wc.TraceID,
				"attempt", attempt,
			)
			l.metrics.RecordReviewLoop("evaluator_timeout")
			return result, nil
		}

		verdict := ParseVerdict(evaluation.Payload)
		if !verdict.Retrigger {
			l.metrics.RecordReviewLoop("accepted")
			return result, nil
		}

		if attempt >= l.maxAttempts {
			slog.Warn("reviews: retry budget exhausted, using last result with identifiers redacted",
				"trace_id", wc.TraceID,
				"attempts", attempt,
				"reason", verdict.Reason,
			)
			l.metrics.RecordReviewLoop("exhausted")
			result.Payload = filter.Redact(result.Payload)
			return result, nil
		}

		slog.Info("reviews: evaluator asked for another pass",
			"trace_id", wc.TraceID,
			"attempt", attempt,
			"reason", verdict.Reason,
		)
		l.metrics.RecordReviewLoop("retried")
		prev, reason = result.Payload, verdict.Reason
	}
}
