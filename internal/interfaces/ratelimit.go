package interfaces

import (
	"context"
	"time"
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	Limit     int
}

// RateLimiter enforces sliding-window limits per (limit_type, identifier).
// Admin identities from the configured allow-list bypass all checks.
// External store failures fail open for admission.
type RateLimiter interface {
	Check(ctx context.Context, limitType, identifier string) (Decision, error)
	// Consume records n units against the window. Accounting of successful
	// LLM calls must not be dropped silently: implementations retry and
	// log "unbilled" on persistent store failure.
	Consume(ctx context.Context, limitType, identifier string, n int) error
	IsAdmin(identifier string) bool
	// PaceLLM blocks until the global LLM minute pacer admits one call.
	PaceLLM(ctx context.Context) error
}

// Reservation is a granted or queued slot in the LLM priority queue.
type Reservation interface {
	// Granted is closed when the reservation acquires a slot.
	Granted() <-chan struct{}
	// Position reports the current queue position; 0 once granted.
	Position() int
}

// QuotaReserver is the priority-ordered reservation queue in front of the
// shared LLM API. Lower numeric priority is served sooner. Every
// reservation must be released exactly once on every execution path.
type QuotaReserver interface {
	Reserve(ctx context.Context, userID string, priority int) (Reservation, error)
	Release(r Reservation)
}
