package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/scrolljustice/summons-server/internal/audit"
	"github.com/scrolljustice/summons-server/internal/config"
	apperrors "github.com/scrolljustice/summons-server/internal/errors"
	"github.com/scrolljustice/summons-server/internal/metrics"
	"github.com/scrolljustice/summons-server/internal/model"
	"github.com/scrolljustice/summons-server/internal/notify"
	"github.com/scrolljustice/summons-server/internal/repository"
	"github.com/scrolljustice/summons-server/internal/sse"
	"github.com/scrolljustice/summons-server/internal/util"
)

const invitationPath = "/witness-invitation"

// Warnings attached to an InviteResult when a best-effort step failed.
const (
	WarningAuditFailed        = "audit_failed"
	WarningNotificationFailed = "notification_failed"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// TokenGenerator produces the bearer credential for a new summons.
type TokenGenerator func() (string, error)

type EventPublisher interface {
	Publish(ctx context.Context, sessionID string, event sse.Event) error
}

type QuotaChecker interface {
	CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, resetAt time.Time)
}

type SendInviteParams struct {
	Email     string            `json:"email" validate:"required"`
	Role      model.SummonsRole `json:"role" validate:"required"`
	SessionID string            `json:"sessionId" validate:"required"`
	InvitedBy string            `json:"invitedBy" validate:"required"`

	// CopyTo receives a courtesy copy of the invitation when set.
	CopyTo string `json:"copyTo,omitempty" validate:"omitempty,email"`
}

type InviteResult struct {
	Summons    *model.WitnessSummons `json:"summons"`
	InviteLink string                `json:"inviteLink"`
	Warnings   []string              `json:"warnings,omitempty"`
}

type SummonsConfig struct {
	SiteBaseURL        string
	StoreTimeout       time.Duration
	InviteLimitPerHour int
}

type SummonsService struct {
	repo          repository.SummonsRepository
	auditLog      audit.Appender
	notifier      notify.Notifier
	events        EventPublisher
	quota         QuotaChecker
	generateToken TokenGenerator
	now           func() time.Time
	siteBaseURL   string
	storeTimeout  time.Duration
	inviteLimit   int
}

func NewSummonsService(
	repo repository.SummonsRepository,
	auditLog audit.Appender,
	notifier notify.Notifier,
	events EventPublisher,
	quota QuotaChecker,
	cfg SummonsConfig,
) *SummonsService {
	return &SummonsService{
		repo:          repo,
		auditLog:      auditLog,
		notifier:      notifier,
		events:        events,
		quota:         quota,
		generateToken: util.GenerateSummonsToken,
		now:           time.Now,
		siteBaseURL:   strings.TrimRight(cfg.SiteBaseURL, "/"),
		storeTimeout:  cfg.StoreTimeout,
		inviteLimit:   cfg.InviteLimitPerHour,
	}
}

// SendInvite stores a pending summons and hands back its invite link.
// Only input validation, quota and the insert can fail the call; audit and
// notification failures are reported in InviteResult.Warnings.
func (s *SummonsService) SendInvite(ctx context.Context, params SendInviteParams) (*InviteResult, error) {
	params.Email = strings.TrimSpace(params.Email)
	if err := validateSendInvite(params); err != nil {
		metrics.InvitesTotal.WithLabelValues(metrics.ResultRejected).Inc()
		return nil, err
	}

	if s.quota != nil && s.inviteLimit > 0 {
		allowed, resetAt := s.quota.CheckLimit(ctx, "invite:"+params.InvitedBy, s.inviteLimit, config.InviteQuotaWindow)
		if !allowed {
			metrics.InvitesTotal.WithLabelValues(metrics.ResultRejected).Inc()
			audit.Log(ctx, audit.Event{
				Type:      audit.EventInviteQuota,
				UserID:    params.InvitedBy,
				SessionID: params.SessionID,
			})
			return nil, apperrors.RateLimitExceeded().WithDetails(map[string]any{
				"resetAt": resetAt.Unix(),
			})
		}
	}

	token, err := s.generateToken()
	if err != nil {
		metrics.InvitesTotal.WithLabelValues(metrics.ResultFailed).Inc()
		return nil, apperrors.Internal("Failed to generate summons token").WithCause(err)
	}

	invitedAt := s.now().UTC().Truncate(time.Second)
	summons, err := s.create(ctx, model.CreateSummonsParams{
		SessionID:    params.SessionID,
		InvitedEmail: params.Email,
		InvitedBy:    params.InvitedBy,
		InvitedAt:    invitedAt,
		Role:         params.Role,
		Token:        token,
		ExpiresAt:    invitedAt.Add(model.SummonsTTL),
	})
	if err != nil {
		metrics.InvitesTotal.WithLabelValues(metrics.ResultFailed).Inc()
		log.Error().
			Err(err).
			Str("sessionId", params.SessionID).
			Str("invitedBy", params.InvitedBy).
			Msg("failed to store summons")
		if errors.Is(err, repository.ErrDuplicateToken) {
			return nil, apperrors.Conflict("Summons token already in use, retry to issue a new one").WithCause(err)
		}
		return nil, apperrors.Database(err)
	}
	metrics.InvitesTotal.WithLabelValues(metrics.ResultCreated).Inc()

	result := &InviteResult{
		Summons:    summons,
		InviteLink: s.InviteLink(token),
	}

	log.Info().
		Str("summonsId", summons.ID).
		Str("sessionId", summons.SessionID).
		Str("role", string(summons.Role)).
		Str("token", util.MaskToken(token)).
		Time("expiresAt", summons.ExpiresAt).
		Msg("witness summons created")

	if err := s.auditLog.Append(ctx, model.AuditEntry{
		SessionID: summons.SessionID,
		UserID:    summons.InvitedBy,
		Action:    model.AuditActionWitnessSummoned,
		Details:   fmt.Sprintf("Summoned %s as %s", summons.InvitedEmail, summons.Role),
		Timestamp: invitedAt,
	}); err != nil {
		metrics.DegradedTotal.WithLabelValues(metrics.StepAudit).Inc()
		log.Warn().Err(err).Str("summonsId", summons.ID).Msg("summons audit append failed")
		result.Warnings = append(result.Warnings, WarningAuditFailed)
	}

	if err := s.notifier.Send(ctx, notify.Invitation{
		Email:      summons.InvitedEmail,
		Role:       summons.Role,
		SessionID:  summons.SessionID,
		Token:      token,
		InviteLink: result.InviteLink,
	}); err != nil {
		metrics.DegradedTotal.WithLabelValues(metrics.StepNotify).Inc()
		log.Warn().Err(err).Str("summonsId", summons.ID).Msg("summons notification failed")
		result.Warnings = append(result.Warnings, WarningNotificationFailed)
	}

	if params.CopyTo != "" {
		if err := s.notifier.Send(ctx, notify.Invitation{
			Email:      params.CopyTo,
			Role:       summons.Role,
			SessionID:  summons.SessionID,
			InviteLink: result.InviteLink,
			CopyOf:     summons.InvitedEmail,
		}); err != nil {
			log.Warn().Err(err).Str("summonsId", summons.ID).Msg("summons email copy failed")
		}
	}

	s.publish(ctx, sse.EventSummonsCreated, summons)

	return result, nil
}

// InviteLink builds the public URL carrying token.
func (s *SummonsService) InviteLink(token string) string {
	return s.siteBaseURL + invitationPath + "?token=" + url.QueryEscape(token)
}

// Resolve looks a summons up by its token. The caller decides what to do with
// summons that are no longer actionable.
func (s *SummonsService) Resolve(ctx context.Context, token string) (*model.WitnessSummons, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperrors.MissingRequired("token")
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	summons, err := s.repo.FindByToken(storeCtx, token)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if summons == nil {
		log.Warn().Str("token", util.MaskToken(token)).Msg("unknown summons token")
		return nil, apperrors.NotFound("Summons")
	}
	return summons, nil
}

// Respond records the invitee's answer while the summons is still actionable.
func (s *SummonsService) Respond(ctx context.Context, token string, accept bool) (*model.WitnessSummons, error) {
	summons, err := s.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if summons.Status != model.SummonsStatusPending {
		return nil, apperrors.SummonsClosed(string(summons.Status))
	}
	if summons.IsExpired(now) {
		return nil, apperrors.SummonsExpired()
	}

	status, action, eventType := model.SummonsStatusDeclined, model.AuditActionWitnessDeclined, sse.EventSummonsDeclined
	if accept {
		status, action, eventType = model.SummonsStatusAccepted, model.AuditActionWitnessAccepted, sse.EventSummonsAccepted
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	updated, err := s.repo.UpdateStatus(storeCtx, summons.Token, status, now)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if updated == nil {
		// Answered or expired between the read and the conditional update.
		return nil, apperrors.Conflict("Summons is no longer pending")
	}
	metrics.ResponsesTotal.WithLabelValues(string(status)).Inc()

	log.Info().
		Str("summonsId", updated.ID).
		Str("sessionId", updated.SessionID).
		Str("status", string(status)).
		Msg("witness summons answered")

	if err := s.auditLog.Append(ctx, model.AuditEntry{
		SessionID: updated.SessionID,
		UserID:    updated.InvitedEmail,
		Action:    action,
		Details:   fmt.Sprintf("%s %s the summons as %s", updated.InvitedEmail, status, updated.Role),
		Timestamp: now,
	}); err != nil {
		metrics.DegradedTotal.WithLabelValues(metrics.StepAudit).Inc()
		log.Warn().Err(err).Str("summonsId", updated.ID).Msg("summons response audit append failed")
	}

	s.publish(ctx, eventType, updated)

	return updated, nil
}

func (s *SummonsService) ListForSession(ctx context.Context, sessionID string, limit, offset int) ([]model.WitnessSummons, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, apperrors.MissingRequired("sessionId")
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	summons, err := s.repo.FindBySessionID(storeCtx, sessionID, limit, offset)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return summons, nil
}

// CanViewSession grants read access to a session's summons, audit trail and
// events to users who have summoned someone into it.
func (s *SummonsService) CanViewSession(ctx context.Context, sessionID, userID string) (bool, error) {
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	ok, err := s.repo.HasInviter(storeCtx, sessionID, userID)
	if err != nil {
		return false, apperrors.Database(err)
	}
	return ok, nil
}

func (s *SummonsService) create(ctx context.Context, params model.CreateSummonsParams) (*model.WitnessSummons, error) {
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	return s.repo.Create(storeCtx, params)
}

func (s *SummonsService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

func (s *SummonsService) publish(ctx context.Context, eventType string, summons *model.WitnessSummons) {
	if s.events == nil {
		return
	}

	data, err := json.Marshal(summons)
	if err != nil {
		log.Error().Err(err).Msg("marshal summons event")
		return
	}

	if err := s.events.Publish(ctx, summons.SessionID, sse.Event{Type: eventType, Data: data}); err != nil {
		metrics.DegradedTotal.WithLabelValues(metrics.StepEvents).Inc()
		log.Warn().Err(err).Str("sessionId", summons.SessionID).Msg("publish summons event failed")
	}
}

func validateSendInvite(params SendInviteParams) error {
	if err := validate.Struct(params); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Tag() == "required" {
				return apperrors.MissingRequired(fe.Field())
			}
			return apperrors.InvalidInput(fe.Field(), fmt.Sprintf("failed %s check", fe.Tag()))
		}
		return apperrors.ValidationError(err.Error())
	}

	if !params.Role.IsValid() {
		return apperrors.InvalidInput("role", fmt.Sprintf("must be one of %v", model.SummonsRoles))
	}
	return nil
}
