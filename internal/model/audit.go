package model

import "time"

type AuditEntry struct {
	ID        string      `db:"id" json:"id"`
	SessionID string      `db:"session_id" json:"sessionId"`
	UserID    string      `db:"user_id" json:"userId"`
	Action    AuditAction `db:"action" json:"action"`
	Details   string      `db:"details" json:"details"`
	Timestamp time.Time   `db:"created_at" json:"timestamp"`
}
