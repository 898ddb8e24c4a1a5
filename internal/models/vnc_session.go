package models

import "time"

// VNCSessionStatus is the durable status of a session row.
type VNCSessionStatus string

const (
	VNCActive         VNCSessionStatus = "active"
	VNCClosed         VNCSessionStatus = "closed"
	VNCFailed         VNCSessionStatus = "failed"
	VNCFailedRecovery VNCSessionStatus = "failed_recovery"
)

// VNCSession is the durable row for one live session. Rows survive process
// restarts so the fleet can recover live sessions.
//
// No two concurrent sessions on the same host share a display number, a
// VNC port, a WebSocket port, or a sandbox home.
type VNCSession struct {
	ID            string           `badgerhold:"key" json:"id"`
	UserID        string           `badgerholdIndex:"UserID" json:"user_id"`
	JobURL        string           `json:"job_url"`
	SlotIndex     int              `json:"slot_index"` // i in (display, vnc, ws) = base + i
	DisplayNum    int              `json:"display_num"`
	VNCPort       int              `json:"vnc_port"`
	WSPort        int              `json:"ws_port"`
	SandboxHome   string           `json:"sandbox_home"`
	Status        VNCSessionStatus `badgerholdIndex:"Status" json:"status"`
	AllocatedHost string           `json:"allocated_host"`
	CreatedAt     time.Time        `json:"created_at"`
	LastActive    time.Time        `json:"last_active"`
}
