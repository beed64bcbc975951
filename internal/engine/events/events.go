// Package events records what the registry did. Committed actions, rejected
// actions and transfer outcomes are kept in a ring buffer and fanned out to
// subscribers such as the websocket stream.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/dapp_registry/pkg/logger"
)

// EventType classifies the kind of event.
type EventType string

const (
	EventActionCommitted EventType = "action.committed"
	EventActionRejected  EventType = "action.rejected"

	EventTransferCompleted EventType = "transfer.completed"
	EventTransferFailed    EventType = "transfer.failed"

	EventValidatorWeight EventType = "validator.weight_changed"
)

// Severity indicates the importance of an event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is one recorded occurrence.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`

	Verb        string `json:"verb,omitempty"`
	Actor       string `json:"actor,omitempty"`
	Application string `json:"application,omitempty"`
	Subject     string `json:"subject,omitempty"`

	Message  string            `json:"message,omitempty"`
	Error    string            `json:"error,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	TraceID string `json:"trace_id,omitempty"`
}

// String returns the JSON form of the event.
func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// Handler processes events as they occur.
type Handler func(Event)

// Filter decides whether an event should be delivered.
type Filter func(Event) bool

// Publisher accepts events.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// RingBuffer is a thread-safe circular buffer of events.
type RingBuffer struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

var _ Publisher = (*RingBuffer)(nil)

type handlerEntry struct {
	id      int64
	filter  Filter
	handler Handler
}

// NewRingBuffer creates a buffer keeping the last size events.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1000
	}
	return &RingBuffer{
		events: make([]Event, size),
		size:   size,
	}
}

// Publish stamps the event with the trace id carried by ctx and logs it.
func (rb *RingBuffer) Publish(ctx context.Context, event Event) {
	if event.TraceID == "" {
		event.TraceID = logger.TraceID(ctx)
	}
	rb.Log(event)
}

// Log adds an event to the buffer and notifies handlers.
func (rb *RingBuffer) Log(event Event) {
	rb.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	rb.events[rb.head] = event
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}

	handlers := make([]handlerEntry, len(rb.handlers))
	copy(handlers, rb.handlers)
	rb.mu.Unlock()

	for _, h := range handlers {
		if h.filter == nil || h.filter(event) {
			h.handler(event)
		}
	}
}

// Subscribe registers a handler for all events and returns its cancel func.
func (rb *RingBuffer) Subscribe(handler Handler) func() {
	return rb.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler with a filter.
func (rb *RingBuffer) SubscribeFiltered(filter Filter, handler Handler) func() {
	rb.mu.Lock()
	id := rb.nextID
	rb.nextID++
	rb.handlers = append(rb.handlers, handlerEntry{id: id, filter: filter, handler: handler})
	rb.mu.Unlock()

	return func() {
		rb.mu.Lock()
		defer rb.mu.Unlock()
		for i, h := range rb.handlers {
			if h.id == id {
				rb.handlers = append(rb.handlers[:i], rb.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns the most recent n events, newest first.
func (rb *RingBuffer) Recent(n int) []Event {
	return rb.collect(n, nil)
}

// RecentByType returns recent events of one type, newest first.
func (rb *RingBuffer) RecentByType(eventType EventType, n int) []Event {
	return rb.collect(n, func(e Event) bool { return e.Type == eventType })
}

// RecentByApplication returns recent events touching one application.
func (rb *RingBuffer) RecentByApplication(app string, n int) []Event {
	return rb.collect(n, func(e Event) bool { return e.Application == app })
}

func (rb *RingBuffer) collect(n int, filter Filter) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}

	var result []Event
	for i := 0; i < rb.count && len(result) < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		if filter == nil || filter(rb.events[idx]) {
			result = append(result, rb.events[idx])
		}
	}
	return result
}

// Count returns the number of buffered events.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Builder provides a fluent API for creating events.
type Builder struct {
	event Event
}

// New starts an event of the given type.
func New(eventType EventType) *Builder {
	return &Builder{event: Event{Type: eventType, Severity: SeverityInfo}}
}

func (b *Builder) Verb(verb string) *Builder {
	b.event.Verb = verb
	return b
}

func (b *Builder) Actor(actor string) *Builder {
	b.event.Actor = actor
	return b
}

func (b *Builder) Application(app string) *Builder {
	b.event.Application = app
	return b
}

func (b *Builder) Subject(subject string) *Builder {
	b.event.Subject = subject
	return b
}

func (b *Builder) Message(msg string) *Builder {
	b.event.Message = msg
	return b
}

func (b *Builder) Severity(severity Severity) *Builder {
	b.event.Severity = severity
	return b
}

// ErrorFrom records err and raises the severity to error.
func (b *Builder) ErrorFrom(err error) *Builder {
	if err != nil {
		b.event.Error = err.Error()
		b.event.Severity = SeverityError
	}
	return b
}

func (b *Builder) Metadata(key, value string) *Builder {
	if b.event.Metadata == nil {
		b.event.Metadata = make(map[string]string)
	}
	b.event.Metadata[key] = value
	return b
}

// Build returns the constructed event.
func (b *Builder) Build() Event {
	return b.event
}

// PublishTo sends the event to p.
func (b *Builder) PublishTo(ctx context.Context, p Publisher) {
	if p == nil {
		return
	}
	p.Publish(ctx, b.Build())
}

// Discard is a Publisher that drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) {}
