package models

import "time"

// SessionState is the lifecycle of one application job.
// queued -> starting -> filling -> (submitted | ready_for_review | failed).
// completed is reached when the user marks a ready_for_review slot as
// manually submitted.
type SessionState string

const (
	SessionQueued         SessionState = "queued"
	SessionStarting       SessionState = "starting"
	SessionFilling        SessionState = "filling"
	SessionSubmitted      SessionState = "submitted"
	SessionReadyForReview SessionState = "ready_for_review"
	SessionFailed         SessionState = "failed"
	SessionCompleted      SessionState = "completed"
)

// Terminal reports whether the state admits no further automation.
func (s SessionState) Terminal() bool {
	switch s {
	case SessionSubmitted, SessionReadyForReview, SessionFailed, SessionCompleted:
		return true
	}
	return false
}

// JobSlot is the per-URL tracking state inside a batch.
type JobSlot struct {
	JobID        string       `json:"job_id"`
	JobURL       string       `json:"job_url"`
	Status       SessionState `json:"status"`
	Progress     int          `json:"progress"` // percent
	Error        string       `json:"error,omitempty"`
	VNCSessionID string       `json:"vnc_session_id,omitempty"`
	ViewerURL    string       `json:"vnc_viewer_url,omitempty"`
	TailorResume bool         `json:"tailor_resume,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// BatchStatus is the lifecycle of a batch as a whole.
type BatchStatus string

const (
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed" // every slot terminal
	BatchClosed    BatchStatus = "closed"    // user closed; VNC sessions torn down
)

// Batch is a user's submission of up to N job URLs.
type Batch struct {
	ID        string      `badgerhold:"key" json:"id"`
	UserID    string      `badgerholdIndex:"UserID" json:"user_id"`
	Status    BatchStatus `json:"status"`
	Slots     []JobSlot   `json:"slots"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Counts aggregates slot states. The invariant
// completed + ready_for_review + failed + in_progress + queued = total
// holds at every observation.
type Counts struct {
	Total          int `json:"total"`
	Queued         int `json:"queued"`
	InProgress     int `json:"in_progress"`
	Completed      int `json:"completed"` // submitted or user-completed
	ReadyForReview int `json:"ready_for_review"`
	Failed         int `json:"failed"`
}

// Count tallies the batch's slots.
func (b *Batch) Count() Counts {
	c := Counts{Total: len(b.Slots)}
	for _, s := range b.Slots {
		switch s.Status {
		case SessionQueued:
			c.Queued++
		case SessionStarting, SessionFilling:
			c.InProgress++
		case SessionSubmitted, SessionCompleted:
			c.Completed++
		case SessionReadyForReview:
			c.ReadyForReview++
		case SessionFailed:
			c.Failed++
		}
	}
	return c
}

// Slot returns the slot with the given job ID, or nil.
func (b *Batch) Slot(jobID string) *JobSlot {
	for i := range b.Slots {
		if b.Slots[i].JobID == jobID {
			return &b.Slots[i]
		}
	}
	return nil
}
