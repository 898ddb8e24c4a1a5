package models

import "time"

// ActionKind classifies one recorded interaction.
type ActionKind string

const (
	ActionFill     ActionKind = "fill"
	ActionSelect   ActionKind = "select"
	ActionClick    ActionKind = "click"
	ActionUpload   ActionKind = "upload"
	ActionNavigate ActionKind = "navigate"
	ActionWait     ActionKind = "wait"
	ActionSubmit   ActionKind = "submit"
)

// Verification captures the post-action read-back comparison.
type Verification struct {
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// ActionRecord is one append-only entry of the interaction log.
// success=true implies a verification step was recorded with matching
// expected/actual.
type ActionRecord struct {
	Timestamp    time.Time     `json:"timestamp"`
	Kind         ActionKind    `json:"kind"`
	StableID     string        `json:"stable_id,omitempty"`
	Value        string        `json:"value,omitempty"`
	Success      bool          `json:"success"`
	RetryCount   int           `json:"retry_count"`
	Error        string        `json:"error,omitempty"`
	Verification *Verification `json:"verification,omitempty"`
}

// ActionLog is the durable per-(user, job) record set. Logs survive the
// session for 24 hours to support replay and debugging; marking a session
// complete sets the terminal flag.
type ActionLog struct {
	ID        string         `badgerhold:"key" json:"id"` // "<user_id>/<job_id>"
	UserID    string         `badgerholdIndex:"UserID" json:"user_id"`
	JobID     string         `json:"job_id"`
	Records   []ActionRecord `json:"records"`
	Completed bool           `json:"completed"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// ActionLogID builds the composite storage key.
func ActionLogID(userID, jobID string) string {
	return userID + "/" + jobID
}

// Tail returns the last n records with values redacted for user display.
func (l *ActionLog) Tail(n int) []ActionRecord {
	if n <= 0 || len(l.Records) == 0 {
		return nil
	}
	start := len(l.Records) - n
	if start < 0 {
		start = 0
	}
	out := make([]ActionRecord, len(l.Records)-start)
	copy(out, l.Records[start:])
	for i := range out {
		out[i].Value = ""
		if out[i].Verification != nil {
			out[i].Verification = &Verification{}
		}
	}
	return out
}
