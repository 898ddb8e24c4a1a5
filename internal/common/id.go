package common

import (
	"github.com/google/uuid"
)

// NewBatchID generates a unique batch ID with the "batch_" prefix
func NewBatchID() string {
	return "batch_" + uuid.New().String()
}

// NewJobID generates a unique job ID with the "job_" prefix
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewVNCSessionID generates a unique VNC session ID with the "vnc_" prefix
func NewVNCSessionID() string {
	return "vnc_" + uuid.New().String()
}

// NewErrorID generates an opaque error ID surfaced to callers on 500-class
// failures and recorded in the action log for correlation.
func NewErrorID() string {
	return "err_" + uuid.New().String()[:8]
}
