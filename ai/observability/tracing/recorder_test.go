package tracing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/productsense/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(10 * time.Millisecond)
	return c.t
}

func TestNewTraceID(t *testing.T) {
	a, b := NewTraceID(), NewTraceID()
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

func TestRecorderParentChild(t *testing.T) {
	clock := &fakeClock{t: time.UnixMilli(1_000)}
	rec := NewRecorder("trace-1")
	rec.now = clock.now

	ctx := WithRecorder(context.Background(), rec)
	ctx, root := StartSpan(ctx, SpanRun)
	_, child := StartSpan(ctx, SpanPlanner)
	child.SetAttr("output", `["reviews"]`)
	child.End(nil)
	_, failed := StartSpan(ctx, SpanPresentation)
	failed.End(errors.New("boom"))
	root.EndWithStatus(StatusTimeout)

	spans := rec.Spans()
	require.Len(t, spans, 3)
	assert.Equal(t, SpanRun, spans[0].Name)
	assert.Equal(t, StatusTimeout, spans[0].Status)
	assert.Empty(t, spans[0].ParentID)
	assert.Equal(t, spans[0].SpanID, spans[1].ParentID)
	assert.Equal(t, `["reviews"]`, spans[1].Attributes["output"])
	assert.Equal(t, StatusError, spans[2].Status)
	assert.Equal(t, "boom", spans[2].Attributes["error"])
	assert.Greater(t, spans[1].EndMs, spans[1].StartMs)
}

func TestNilRecorderIsNoop(t *testing.T) {
	ctx, span := StartSpan(context.Background(), SpanPlanner)
	assert.Nil(t, span)
	assert.NotPanics(t, func() {
		span.SetAttr("k", "v")
		span.End(nil)
	})
	assert.Nil(t, FromContext(ctx).Spans())
	assert.NoError(t, FromContext(ctx).Flush(ctx, nil))
}

type spanSink struct {
	got []*store.TraceSpan
}

func (s *spanSink) CreateTraceSpans(_ context.Context, spans []*store.TraceSpan) error {
	s.got = append(s.got, spans...)
	return nil
}

func TestRecorderConcurrentSpansAndFlush(t *testing.T) {
	rec := NewRecorder("trace-2")
	ctx := WithRecorder(context.Background(), rec)

	var wg sync.WaitGroup
	for _, name := range []string{SpanPersonalize, SpanInventory, SpanReviews} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, span := StartSpan(ctx, name)
			span.SetAttr("agent", name)
			span.End(nil)
		}(name)
	}
	wg.Wait()

	sink := &spanSink{}
	require.NoError(t, rec.Flush(ctx, sink))
	assert.Len(t, sink.got, 3)
	for _, s := range sink.got {
		assert.Equal(t, "trace-2", s.TraceID)
	}
}
