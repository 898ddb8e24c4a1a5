package formfill

import (
	"sync"

	"github.com/ternarybob/peto/internal/models"
)

// Tracker remembers which fields on the current page were attempted and
// with what outcome. It lives for one page navigation: a field marked
// succeeded is never attempted again within that navigation, and a field
// that keeps failing is elided after maxRetries attempts.
type Tracker struct {
	mu         sync.Mutex
	records    map[string]*models.CompletionRecord
	maxRetries int
}

// NewTracker creates a tracker for one page navigation.
func NewTracker(maxRetries int) *Tracker {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Tracker{
		records:    make(map[string]*models.CompletionRecord),
		maxRetries: maxRetries,
	}
}

// Reset clears all records. Called on page navigation.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[string]*models.CompletionRecord)
}

// Record notes the outcome of one attempt against a field.
func (t *Tracker) Record(stableID string, status models.CompletionStatus, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[stableID]
	if !ok {
		rec = &models.CompletionRecord{}
		t.records[stableID] = rec
	}
	rec.Attempts++
	rec.LastStatus = status
	rec.LastValue = value
}

// Succeeded reports whether the field has already been filled.
func (t *Tracker) Succeeded(stableID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[stableID]
	return ok && rec.LastStatus == models.CompletionSucceeded
}

// Eligible reports whether the field may still be attempted: not yet
// succeeded and not past the retry budget.
func (t *Tracker) Eligible(stableID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[stableID]
	if !ok {
		return true
	}
	if rec.LastStatus == models.CompletionSucceeded {
		return false
	}
	return rec.Attempts < t.maxRetries
}

// Get returns a copy of the field's record.
func (t *Tracker) Get(stableID string) (models.CompletionRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[stableID]
	if !ok {
		return models.CompletionRecord{}, false
	}
	return *rec, true
}

// FailedIDs returns the stable ids whose last status is failed.
func (t *Tracker) FailedIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for id, rec := range t.records {
		if rec.LastStatus == models.CompletionFailed {
			out = append(out, id)
		}
	}
	return out
}

// SucceededCount returns how many fields have been filled this
// navigation.
func (t *Tracker) SucceededCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, rec := range t.records {
		if rec.LastStatus == models.CompletionSucceeded {
			n++
		}
	}
	return n
}
