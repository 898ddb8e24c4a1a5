package interfaces

import "github.com/ternarybob/peto/internal/models"

// EventService is the in-process pub/sub bus for lifecycle events.
type EventService interface {
	Publish(event models.Event)
	// Subscribe returns a channel of matching events and an unsubscribe
	// function. An empty type list subscribes to everything.
	Subscribe(types ...models.EventType) (<-chan models.Event, func())
	Close() error
}
