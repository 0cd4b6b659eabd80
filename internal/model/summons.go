package model

import "time"

// SummonsTTL is how long an invitation token stays actionable after it is issued.
const SummonsTTL = 24 * time.Hour

type WitnessSummons struct {
	ID           string        `db:"id" json:"id"`
	SessionID    string        `db:"session_id" json:"sessionId"`
	InvitedEmail string        `db:"invited_email" json:"invitedEmail"`
	InvitedBy    string        `db:"invited_by" json:"invitedBy"`
	InvitedAt    time.Time     `db:"invited_at" json:"invitedAt"`
	Status       SummonsStatus `db:"status" json:"status"`
	Role         SummonsRole   `db:"role" json:"role"`
	Token        string        `db:"token" json:"-"`
	ExpiresAt    time.Time     `db:"expires_at" json:"expiresAt"`
	RespondedAt  *time.Time    `db:"responded_at" json:"respondedAt,omitempty"`
}

// IsExpired reports whether the token can no longer be acted upon at now.
func (s *WitnessSummons) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// IsActionable reports whether the invitee may still accept or decline.
func (s *WitnessSummons) IsActionable(now time.Time) bool {
	return s.Status == SummonsStatusPending && !s.IsExpired(now)
}

type CreateSummonsParams struct {
	SessionID    string
	InvitedEmail string
	InvitedBy    string
	InvitedAt    time.Time
	Role         SummonsRole
	Token        string
	ExpiresAt    time.Time
}
