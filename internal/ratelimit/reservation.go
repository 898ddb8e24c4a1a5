package ratelimit

import (
	"container/heap"
	"context"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/interfaces"
)

// reservation is one entry in the priority queue. Granted reservations
// hold a slot until released.
type reservation struct {
	userID   string
	priority int
	seq      uint64
	index    int // heap index; -1 once granted or removed

	granted  chan struct{}
	done     chan struct{} // closed on Release so the context watcher exits
	doneOnce sync.Once
	q        *ReservationQueue
}

func (r *reservation) Granted() <-chan struct{} { return r.granted }

func (r *reservation) Position() int {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	if r.index < 0 {
		return 0
	}
	// Position is 1-based among queued reservations that sort before r.
	pos := 1
	for _, other := range r.q.heap {
		if other == r {
			continue
		}
		if less(other, r) {
			pos++
		}
	}
	return pos
}

func less(a, b *reservation) bool {
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.seq < b.seq
}

type reservationHeap []*reservation

func (h reservationHeap) Len() int           { return len(h) }
func (h reservationHeap) Less(i, j int) bool { return less(h[i], h[j]) }
func (h reservationHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *reservationHeap) Push(x interface{}) {
	r := x.(*reservation)
	r.index = len(*h)
	*h = append(*h, r)
}
func (h *reservationHeap) Pop() interface{} {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.index = -1
	*h = old[:n-1]
	return r
}

// ReservationQueue is the priority-ordered reservation queue in front of
// the shared LLM API. Capacity slots are granted in (priority, FIFO)
// order; lower numeric priority is served sooner.
type ReservationQueue struct {
	mu       sync.Mutex
	heap     reservationHeap
	capacity int
	inFlight int
	seq      uint64
	logger   arbor.ILogger
}

// NewReservationQueue creates a queue granting at most capacity concurrent
// reservations.
func NewReservationQueue(capacity int, logger arbor.ILogger) *ReservationQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &ReservationQueue{capacity: capacity, logger: logger}
}

// Reserve enqueues a reservation and returns immediately; callers wait on
// Granted(). Cancelling ctx before the grant removes the reservation.
func (q *ReservationQueue) Reserve(ctx context.Context, userID string, priority int) (interfaces.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	q.seq++
	r := &reservation{
		userID:   userID,
		priority: priority,
		seq:      q.seq,
		granted:  make(chan struct{}),
		done:     make(chan struct{}),
		q:        q,
	}
	heap.Push(&q.heap, r)
	q.dispatchLocked()
	q.mu.Unlock()

	// Drop the queued reservation if the caller gives up before the grant.
	go func() {
		select {
		case <-r.granted:
		case <-r.done:
		case <-ctx.Done():
			q.abandon(r)
		}
	}()

	return r, nil
}

// Release frees a granted slot, or removes a still-queued reservation.
// Releasing is idempotent.
func (q *ReservationQueue) Release(res interfaces.Reservation) {
	r, ok := res.(*reservation)
	if !ok || r == nil {
		return
	}
	r.doneOnce.Do(func() { close(r.done) })

	q.mu.Lock()
	defer q.mu.Unlock()

	select {
	case <-r.granted:
		if q.inFlight > 0 {
			q.inFlight--
		}
	default:
		if r.index >= 0 {
			heap.Remove(&q.heap, r.index)
		}
	}
	q.dispatchLocked()
}

func (q *ReservationQueue) abandon(r *reservation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if r.index >= 0 {
		heap.Remove(&q.heap, r.index)
	}
}

// dispatchLocked grants slots while capacity allows. Callers hold q.mu.
func (q *ReservationQueue) dispatchLocked() {
	for q.inFlight < q.capacity && q.heap.Len() > 0 {
		r := heap.Pop(&q.heap).(*reservation)
		q.inFlight++
		close(r.granted)
	}
}

// QueuedCount returns the number of ungranted reservations.
func (q *ReservationQueue) QueuedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// InFlight returns the number of granted, unreleased reservations.
func (q *ReservationQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}
