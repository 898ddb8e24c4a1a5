package models

import "time"

// EventType names a lifecycle event published on the internal bus and,
// when subscribed, broadcast to status WebSocket clients.
type EventType string

const (
	EventBatchCreated   EventType = "batch_created"
	EventBatchClosed    EventType = "batch_closed"
	EventSlotStarted    EventType = "slot_started"
	EventSlotProgress   EventType = "slot_progress"
	EventSlotCompleted  EventType = "slot_completed"
	EventSlotFailed     EventType = "slot_failed"
	EventReadyForReview EventType = "ready_for_review"
	EventVNCStarted     EventType = "vnc_started"
	EventVNCClosed      EventType = "vnc_closed"
)

// Event is one published lifecycle event.
type Event struct {
	Type      EventType              `json:"type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Identity is the authenticated caller attached to each request by the
// upstream auth layer. Token minting is out of scope.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Admin  bool   `json:"admin"`
}
