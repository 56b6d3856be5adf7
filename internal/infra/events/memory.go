package events

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"kittycore/pkg/domain"
)

// MemorySink keeps published events in order.
type MemorySink struct {
	mu     sync.Mutex
	events []domain.Event
}

// NewMemorySink constructs an empty sink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

// Publish implements the core event sink.
func (m *MemorySink) Publish(_ context.Context, event domain.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	return nil
}

// Events returns a copy of the published events.
func (m *MemorySink) Events() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Event(nil), m.events...)
}

// Fanout publishes to every sink and returns the first error.
type Fanout []interface {
	Publish(context.Context, domain.Event) error
}

// Publish implements the core event sink.
func (f Fanout) Publish(ctx context.Context, event domain.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	var first error
	for _, sink := range f {
		if err := sink.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
