// Package tracing records the spans of one personalization run and turns them
// into the flow graph served by the debug endpoint.
package tracing

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/productsense/store"
)

// Span statuses.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

// NewTraceID returns a 32 character hex trace id.
func NewTraceID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// SpanWriter persists finished spans.
type SpanWriter interface {
	CreateTraceSpans(ctx context.Context, spans []*store.TraceSpan) error
}

// Recorder collects the spans of a single trace. It is safe for concurrent use
// and a nil *Recorder records nothing.
type Recorder struct {
	traceID string
	now     func() time.Time

	mu    sync.Mutex
	spans []*store.TraceSpan
}

// NewRecorder creates a recorder for traceID.
func NewRecorder(traceID string) *Recorder {
	return &Recorder{traceID: traceID, now: time.Now}
}

// TraceID returns the trace id.
func (r *Recorder) TraceID() string {
	if r == nil {
		return ""
	}
	return r.traceID
}

type spanKey struct{}

type recorderKey struct{}

// WithRecorder stores r in ctx.
func WithRecorder(ctx context.Context, r *Recorder) context.Context {
	return context.WithValue(ctx, recorderKey{}, r)
}

// FromContext returns the recorder stored in ctx, or nil.
func FromContext(ctx context.Context) *Recorder {
	r, _ := ctx.Value(recorderKey{}).(*Recorder)
	return r
}

// Span is an open span. End must be called exactly once.
type Span struct {
	rec  *Recorder
	data *store.TraceSpan
}

// Start opens a span named name as a child of the span carried by ctx.
func (r *Recorder) Start(ctx context.Context, name string) (context.Context, *Span) {
	if r == nil {
		return ctx, nil
	}
	parent, _ := ctx.Value(spanKey{}).(string)
	data := &store.TraceSpan{
		TraceID:    r.traceID,
		SpanID:     shortuuid.New(),
		ParentID:   parent,
		Name:       name,
		StartMs:    r.now().UnixMilli(),
		Attributes: map[string]string{},
	}
	return context.WithValue(ctx, spanKey{}, data.SpanID), &Span{rec: r, data: data}
}

// StartSpan opens a span on the recorder carried by ctx.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	return FromContext(ctx).Start(ctx, name)
}

// SetAttr sets an attribute on the span.
func (s *Span) SetAttr(key, value string) {
	if s == nil {
		return
	}
	s.rec.mu.Lock()
	s.data.Attributes[key] = value
	s.rec.mu.Unlock()
}

// End closes the span with StatusOK, or StatusError when err is non-nil.
func (s *Span) End(err error) {
	if err != nil {
		s.SetAttr("error", err.Error())
		s.EndWithStatus(StatusError)
		return
	}
	s.EndWithStatus(StatusOK)
}

// EndWithStatus closes the span with an explicit status.
func (s *Span) EndWithStatus(status string) {
	if s == nil {
		return
	}
	s.rec.mu.Lock()
	defer s.rec.mu.Unlock()
	s.data.EndMs = s.rec.now().UnixMilli()
	s.data.Status = status
	s.rec.spans = append(s.rec.spans, s.data)
}

// Spans returns copies of the finished spans in start order.
func (r *Recorder) Spans() []*store.TraceSpan {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*store.TraceSpan, 0, len(r.spans))
	for _, span := range r.spans {
		cp := *span
		cp.Attributes = make(map[string]string, len(span.Attributes))
		for k, v := range span.Attributes {
			cp.Attributes[k] = v
		}
		out = append(out, &cp)
	}
	sortSpans(out)
	return out
}

// Flush writes the finished spans through w.
func (r *Recorder) Flush(ctx context.Context, w SpanWriter) error {
	spans := r.Spans()
	if len(spans) == 0 || w == nil {
		return nil
	}
	return w.CreateTraceSpans(ctx, spans)
}
