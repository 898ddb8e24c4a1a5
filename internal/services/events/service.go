package events

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/models"
)

// Service is the in-process pub/sub bus for lifecycle events. Publish
// never blocks: slow subscribers drop events rather than stall sessions.
type Service struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	closed bool
	logger arbor.ILogger
}

type subscriber struct {
	ch    chan models.Event
	types map[models.EventType]bool // empty matches everything
}

// NewService creates the event bus.
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		subs:   make(map[int]*subscriber),
		logger: logger,
	}
}

// Publish delivers the event to every matching subscriber.
func (s *Service) Publish(event models.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	for _, sub := range s.subs {
		if len(sub.types) > 0 && !sub.types[event.Type] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			s.logger.Debug().
				Str("event", string(event.Type)).
				Msg("Dropping event for slow subscriber")
		}
	}
}

// Subscribe returns a buffered channel of matching events and an
// unsubscribe function. An empty type list subscribes to everything.
func (s *Service) Subscribe(types ...models.EventType) (<-chan models.Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	typeSet := make(map[models.EventType]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	sub := &subscriber{
		ch:    make(chan models.Event, 64),
		types: typeSet,
	}
	s.subs[id] = sub

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existing, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(existing.ch)
		}
	}
	return sub.ch, unsubscribe
}

// Close shuts down the bus and closes all subscriber channels.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id, sub := range s.subs {
		delete(s.subs, id)
		close(sub.ch)
	}
	return nil
}
