package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// Event types streamed to clients.
const (
	EventMemory        = "memory"
	EventWorkflow      = "personalization_workflow"
	EventProductSearch = "product_search"
	EventError         = "error"
)

// EventMeta describes where and when an event was produced.
type EventMeta struct {
	Timestamp string `json:"timestamp"`
	ProductID int32  `json:"product_id,omitempty"`
	EventID   string `json:"event_id"`
}

// Event is one streamed progress or result message.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
	Meta EventMeta      `json:"meta"`
}

// NewEvent stamps an event for productID.
func NewEvent(eventType string, productID int32, data map[string]any) *Event {
	return &Event{
		Type: eventType,
		Data: data,
		Meta: EventMeta{
			Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000000") + "Z",
			ProductID: productID,
			EventID:   shortuuid.New(),
		},
	}
}

// EventDispatcher delivers events in order to a single consumer channel. The
// stream ends with a nil event, after which the channel is closed.
type EventDispatcher struct {
	ctx     context.Context
	ch      chan *Event
	mu      sync.Mutex
	closed  bool
	traceID string
}

// NewEventDispatcher creates a dispatcher whose sends give up once ctx is done.
func NewEventDispatcher(ctx context.Context, traceID string, buffer int) *EventDispatcher {
	if buffer < 1 {
		buffer = 16
	}
	return &EventDispatcher{
		ctx:     ctx,
		ch:      make(chan *Event, buffer),
		traceID: traceID,
	}
}

// Events returns the consumer side.
func (d *EventDispatcher) Events() <-chan *Event {
	return d.ch
}

// Send delivers e. It blocks while the buffer is full and drops e if the
// consumer has gone away.
func (d *EventDispatcher) Send(e *Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || e == nil {
		return
	}
	select {
	case d.ch <- e:
	case <-d.ctx.Done():
		slog.Debug("event dispatcher: consumer gone, dropping event",
			"trace_id", d.traceID,
			"type", e.Type,
		)
	}
}

// Close sends the nil sentinel and closes the channel. Calling Close again
// does nothing.
func (d *EventDispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	select {
	case d.ch <- nil:
	case <-d.ctx.Done():
	}
	close(d.ch)
}
