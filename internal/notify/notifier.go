package notify

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/scrolljustice/summons-server/internal/model"
)

// Invitation is the payload handed to the mail function for one summons.
type Invitation struct {
	Email      string            `json:"email"`
	Role       model.SummonsRole `json:"role"`
	SessionID  string            `json:"sessionId"`
	Token      string            `json:"token"`
	InviteLink string            `json:"inviteLink"`

	// CopyOf names the witness when this is the inviter's copy. The token is
	// left out of copies.
	CopyOf string `json:"copyOf,omitempty"`
}

type Notifier interface {
	Send(ctx context.Context, inv Invitation) error
}

// Noop is used when no mail function is configured.
type Noop struct{}

func (Noop) Send(ctx context.Context, inv Invitation) error {
	log.Debug().
		Str("sessionId", inv.SessionID).
		Str("role", string(inv.Role)).
		Msg("mailer not configured, skipping summons email")
	return nil
}
