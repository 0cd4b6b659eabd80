package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// MailDispatcher posts invitations to the external mail-sending function.
type MailDispatcher struct {
	endpoint string
	apiKey   string
	client   *resty.Client
}

func NewMailDispatcher(endpoint, apiKey string, timeout time.Duration) *MailDispatcher {
	return &MailDispatcher{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   resty.New().SetTimeout(timeout),
	}
}

func (d *MailDispatcher) Send(ctx context.Context, inv Invitation) error {
	if d.endpoint == "" {
		return fmt.Errorf("mailer endpoint is required")
	}

	req := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(inv)
	if d.apiKey != "" {
		req.SetAuthToken(d.apiKey)
	}

	start := time.Now()
	resp, err := req.Post(d.endpoint)
	elapsed := time.Since(start)

	if err != nil {
		log.Error().
			Err(err).
			Str("sessionId", inv.SessionID).
			Dur("elapsed", elapsed).
			Msg("summons email request error")
		return fmt.Errorf("mailer request failed: %w", err)
	}

	if resp.IsError() {
		log.Error().
			Str("sessionId", inv.SessionID).
			Int("status", resp.StatusCode()).
			Dur("elapsed", elapsed).
			Msg("summons email rejected")
		return fmt.Errorf("mailer failed with status %d", resp.StatusCode())
	}

	log.Info().
		Str("sessionId", inv.SessionID).
		Str("role", string(inv.Role)).
		Int("status", resp.StatusCode()).
		Dur("elapsed", elapsed).
		Msg("summons email dispatched")

	return nil
}
