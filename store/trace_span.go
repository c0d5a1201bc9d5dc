package store

import (
	"context"
)

// TraceSpan is one recorded step of an orchestration run.
type TraceSpan struct {
	TraceID    string
	SpanID     string
	ParentID   string
	Name       string
	StartMs    int64
	EndMs      int64
	Status     string
	Attributes map[string]string
}

func (s *Store) CreateTraceSpans(ctx context.Context, spans []*TraceSpan) error {
	if len(spans) == 0 {
		return nil
	}
	return s.driver.CreateTraceSpans(ctx, spans)
}

// ListTraceSpans returns the spans of a trace ordered by start time.
func (s *Store) ListTraceSpans(ctx context.Context, traceID string) ([]*TraceSpan, error) {
	return s.driver.ListTraceSpans(ctx, traceID)
}
