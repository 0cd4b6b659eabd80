package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/scrolljustice/summons-server/internal/errors"
	"github.com/scrolljustice/summons-server/internal/model"
	"github.com/scrolljustice/summons-server/internal/notify"
	"github.com/scrolljustice/summons-server/internal/repository"
	"github.com/scrolljustice/summons-server/internal/sse"
)

// callLog records the order in which the fakes were reached.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) record(call string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.calls = append(l.calls, call)
	l.mu.Unlock()
}

type fakeSummonsRepo struct {
	calls     *callLog
	mu        sync.Mutex
	byToken   map[string]*model.WitnessSummons
	createErr error
	updateErr error
	// staleUpdate makes UpdateStatus behave as if another request won the race.
	staleUpdate bool
	creates     int
}

func newFakeSummonsRepo() *fakeSummonsRepo {
	return &fakeSummonsRepo{byToken: make(map[string]*model.WitnessSummons)}
}

func (r *fakeSummonsRepo) Create(ctx context.Context, params model.CreateSummonsParams) (*model.WitnessSummons, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	r.calls.record("create")

	if r.createErr != nil {
		return nil, r.createErr
	}
	if _, exists := r.byToken[params.Token]; exists {
		return nil, repository.ErrDuplicateToken
	}

	s := &model.WitnessSummons{
		ID:           fmt.Sprintf("summons-%d", len(r.byToken)+1),
		SessionID:    params.SessionID,
		InvitedEmail: params.InvitedEmail,
		InvitedBy:    params.InvitedBy,
		InvitedAt:    params.InvitedAt,
		Status:       model.SummonsStatusPending,
		Role:         params.Role,
		Token:        params.Token,
		ExpiresAt:    params.ExpiresAt,
	}
	r.byToken[params.Token] = s
	copied := *s
	return &copied, nil
}

func (r *fakeSummonsRepo) FindByToken(ctx context.Context, token string) (*model.WitnessSummons, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byToken[token]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (r *fakeSummonsRepo) FindBySessionID(ctx context.Context, sessionID string, limit, offset int) ([]model.WitnessSummons, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.WitnessSummons
	for _, s := range r.byToken {
		if s.SessionID == sessionID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *fakeSummonsRepo) HasInviter(ctx context.Context, sessionID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.byToken {
		if s.SessionID == sessionID && s.InvitedBy == userID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeSummonsRepo) UpdateStatus(ctx context.Context, token string, status model.SummonsStatus, at time.Time) (*model.WitnessSummons, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.updateErr != nil {
		return nil, r.updateErr
	}
	s, ok := r.byToken[token]
	if !ok || r.staleUpdate || s.Status != model.SummonsStatusPending || !at.Before(s.ExpiresAt) {
		return nil, nil
	}
	s.Status = status
	s.RespondedAt = &at
	copied := *s
	return &copied, nil
}

func (r *fakeSummonsRepo) get(token string) *model.WitnessSummons {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byToken[token]
}

type recordingAppender struct {
	calls   *callLog
	entries []model.AuditEntry
	err     error
}

func (a *recordingAppender) Append(ctx context.Context, entry model.AuditEntry) error {
	a.calls.record("audit")
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, entry)
	return nil
}

type recordingNotifier struct {
	calls *callLog
	sent  []notify.Invitation
	err   error
}

func (n *recordingNotifier) Send(ctx context.Context, inv notify.Invitation) error {
	n.calls.record("notify")
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, inv)
	return nil
}

type recordingPublisher struct {
	calls  *callLog
	events []sse.Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, sessionID string, event sse.Event) error {
	p.calls.record("publish:" + event.Type)
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

type fixedQuota struct {
	allowed bool
	keys    []string
}

func (q *fixedQuota) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Time) {
	q.keys = append(q.keys, key)
	return q.allowed, time.Unix(0, 0)
}

type summonsFixture struct {
	calls     *callLog
	svc       *SummonsService
	repo      *fakeSummonsRepo
	audit     *recordingAppender
	notifier  *recordingNotifier
	publisher *recordingPublisher
	now       time.Time
}

func newSummonsFixture(t *testing.T) *summonsFixture {
	t.Helper()

	calls := &callLog{}
	repo := newFakeSummonsRepo()
	repo.calls = calls
	f := &summonsFixture{
		calls:     calls,
		repo:      repo,
		audit:     &recordingAppender{calls: calls},
		notifier:  &recordingNotifier{calls: calls},
		publisher: &recordingPublisher{calls: calls},
		now:       time.Date(2026, 5, 4, 10, 30, 15, 400, time.UTC),
	}
	f.svc = NewSummonsService(f.repo, f.audit, f.notifier, f.publisher, nil, SummonsConfig{
		SiteBaseURL:  "https://example.org/",
		StoreTimeout: time.Second,
	})
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *summonsFixture) pinToken(token string) {
	f.svc.generateToken = func() (string, error) { return token, nil }
}

func validInvite() SendInviteParams {
	return SendInviteParams{
		Email:     "witness@example.org",
		Role:      model.RoleWitness,
		SessionID: "session-42",
		InvitedBy: "user-7",
	}
}

func TestSendInvite_Success(t *testing.T) {
	f := newSummonsFixture(t)
	f.pinToken("abc123")

	result, err := f.svc.SendInvite(context.Background(), validInvite())
	require.NoError(t, err)

	assert.Equal(t, "https://example.org/witness-invitation?token=abc123", result.InviteLink)
	assert.Empty(t, result.Warnings)

	s := result.Summons
	assert.Equal(t, model.SummonsStatusPending, s.Status)
	assert.Equal(t, "abc123", s.Token)
	assert.Equal(t, "witness@example.org", s.InvitedEmail)
	assert.Equal(t, "user-7", s.InvitedBy)
	assert.Equal(t, f.now.Truncate(time.Second), s.InvitedAt)
	assert.Equal(t, s.InvitedAt.Add(24*time.Hour), s.ExpiresAt)

	require.Len(t, f.audit.entries, 1)
	entry := f.audit.entries[0]
	assert.Equal(t, model.AuditActionWitnessSummoned, entry.Action)
	assert.Equal(t, "session-42", entry.SessionID)
	assert.Equal(t, "user-7", entry.UserID)
	assert.Contains(t, entry.Details, "witness@example.org")

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, result.InviteLink, f.notifier.sent[0].InviteLink)
	assert.Equal(t, "abc123", f.notifier.sent[0].Token)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, sse.EventSummonsCreated, f.publisher.events[0].Type)
	assert.NotContains(t, string(f.publisher.events[0].Data), "abc123")

	assert.Equal(t, []string{"create", "audit", "notify", "publish:summons.created"}, f.calls.calls)
}

func TestSendInvite_EmailCopy(t *testing.T) {
	f := newSummonsFixture(t)
	f.pinToken("tok-copy")
	params := validInvite()
	params.CopyTo = "inviter@example.org"

	result, err := f.svc.SendInvite(context.Background(), params)
	require.NoError(t, err)
	assert.Empty(t, result.Warnings)

	require.Len(t, f.notifier.sent, 2)
	copied := f.notifier.sent[1]
	assert.Equal(t, "inviter@example.org", copied.Email)
	assert.Equal(t, "witness@example.org", copied.CopyOf)
	assert.Equal(t, result.InviteLink, copied.InviteLink)
	assert.Empty(t, copied.Token)

	assert.Equal(t, []string{"create", "audit", "notify", "notify", "publish:summons.created"}, f.calls.calls)
}

func TestSendInvite_EmailCopyFailureAddsNoWarning(t *testing.T) {
	f := newSummonsFixture(t)
	f.notifier.err = errors.New("mail function unreachable")
	params := validInvite()
	params.CopyTo = "inviter@example.org"

	result, err := f.svc.SendInvite(context.Background(), params)
	require.NoError(t, err)

	assert.Equal(t, []string{WarningNotificationFailed}, result.Warnings)
	assert.Equal(t, []string{"create", "audit", "notify", "notify", "publish:summons.created"}, f.calls.calls)
}

func TestSendInvite_GeneratedTokenIsUUID(t *testing.T) {
	f := newSummonsFixture(t)

	result, err := f.svc.SendInvite(context.Background(), validInvite())
	require.NoError(t, err)

	parsed, err := uuid.Parse(result.Summons.Token)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())

	link, err := url.Parse(result.InviteLink)
	require.NoError(t, err)
	assert.Equal(t, "/witness-invitation", link.Path)
	assert.Equal(t, result.Summons.Token, link.Query().Get("token"))
}

func TestSendInvite_NotificationFailureIsNotFatal(t *testing.T) {
	f := newSummonsFixture(t)
	f.pinToken("tok-notify")
	f.notifier.err = errors.New("mail function unreachable")

	result, err := f.svc.SendInvite(context.Background(), validInvite())
	require.NoError(t, err)

	assert.Equal(t, []string{WarningNotificationFailed}, result.Warnings)
	assert.Len(t, f.audit.entries, 1)

	stored := f.repo.get("tok-notify")
	require.NotNil(t, stored)
	assert.Equal(t, model.SummonsStatusPending, stored.Status)
}

func TestSendInvite_AuditFailureIsNotFatal(t *testing.T) {
	f := newSummonsFixture(t)
	f.audit.err = errors.New("audit table locked")

	result, err := f.svc.SendInvite(context.Background(), validInvite())
	require.NoError(t, err)

	assert.Equal(t, []string{WarningAuditFailed}, result.Warnings)
	assert.Len(t, f.notifier.sent, 1)
	assert.Equal(t, []string{"create", "audit", "notify", "publish:summons.created"}, f.calls.calls)
}

func TestSendInvite_EventFailureIsSilent(t *testing.T) {
	f := newSummonsFixture(t)
	f.publisher.err = errors.New("redis down")

	result, err := f.svc.SendInvite(context.Background(), validInvite())
	require.NoError(t, err)
	assert.Empty(t, result.Warnings)
}

func TestSendInvite_StoreFailureStopsEverything(t *testing.T) {
	f := newSummonsFixture(t)
	f.repo.createErr = errors.New("connection refused")

	result, err := f.svc.SendInvite(context.Background(), validInvite())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, apperrors.ErrCodeDatabase, apperrors.GetCode(err))

	assert.Empty(t, f.audit.entries)
	assert.Empty(t, f.notifier.sent)
	assert.Empty(t, f.publisher.events)
	assert.Equal(t, []string{"create"}, f.calls.calls)
}

func TestSendInvite_DuplicateToken(t *testing.T) {
	f := newSummonsFixture(t)
	f.pinToken("same-token")

	_, err := f.svc.SendInvite(context.Background(), validInvite())
	require.NoError(t, err)

	_, err = f.svc.SendInvite(context.Background(), validInvite())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeConflict, apperrors.GetCode(err))
	assert.Len(t, f.audit.entries, 1)
	assert.Len(t, f.notifier.sent, 1)
}

func TestSendInvite_TokenGenerationFailure(t *testing.T) {
	f := newSummonsFixture(t)
	f.svc.generateToken = func() (string, error) { return "", errors.New("entropy exhausted") }

	_, err := f.svc.SendInvite(context.Background(), validInvite())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInternal, apperrors.GetCode(err))
	assert.Zero(t, f.repo.creates)
	assert.Empty(t, f.notifier.sent)
}

func TestSendInvite_Validation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(p *SendInviteParams)
		code   apperrors.ErrorCode
	}{
		{"empty email", func(p *SendInviteParams) { p.Email = "" }, apperrors.ErrCodeMissingRequired},
		{"blank email", func(p *SendInviteParams) { p.Email = "   " }, apperrors.ErrCodeMissingRequired},
		{"empty session", func(p *SendInviteParams) { p.SessionID = "" }, apperrors.ErrCodeMissingRequired},
		{"empty inviter", func(p *SendInviteParams) { p.InvitedBy = "" }, apperrors.ErrCodeMissingRequired},
		{"empty role", func(p *SendInviteParams) { p.Role = "" }, apperrors.ErrCodeMissingRequired},
		{"unknown role", func(p *SendInviteParams) { p.Role = "jester" }, apperrors.ErrCodeInvalidInput},
		{"malformed copy address", func(p *SendInviteParams) { p.CopyTo = "not-an-address" }, apperrors.ErrCodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSummonsFixture(t)
			params := validInvite()
			tt.modify(&params)

			_, err := f.svc.SendInvite(context.Background(), params)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.GetCode(err))

			assert.Zero(t, f.repo.creates)
			assert.Empty(t, f.audit.entries)
			assert.Empty(t, f.notifier.sent)
		})
	}
}

func TestSendInvite_AllRolesAccepted(t *testing.T) {
	f := newSummonsFixture(t)

	for _, role := range model.SummonsRoles {
		params := validInvite()
		params.Role = role
		result, err := f.svc.SendInvite(context.Background(), params)
		require.NoError(t, err, role)
		assert.Equal(t, role, result.Summons.Role)
	}
}

func TestSendInvite_Quota(t *testing.T) {
	f := newSummonsFixture(t)
	quota := &fixedQuota{allowed: false}
	f.svc.quota = quota
	f.svc.inviteLimit = 5

	_, err := f.svc.SendInvite(context.Background(), validInvite())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeRateLimitExceeded, apperrors.GetCode(err))
	assert.Equal(t, []string{"invite:user-7"}, quota.keys)
	assert.Zero(t, f.repo.creates)

	quota.allowed = true
	_, err = f.svc.SendInvite(context.Background(), validInvite())
	require.NoError(t, err)
}

func TestInviteLink_EscapesToken(t *testing.T) {
	f := newSummonsFixture(t)
	assert.Equal(t, "https://example.org/witness-invitation?token=a%2Bb%26c", f.svc.InviteLink("a+b&c"))
}

func TestResolve(t *testing.T) {
	f := newSummonsFixture(t)
	f.pinToken("resolve-me")
	_, err := f.svc.SendInvite(context.Background(), validInvite())
	require.NoError(t, err)

	s, err := f.svc.Resolve(context.Background(), "resolve-me")
	require.NoError(t, err)
	assert.True(t, s.IsActionable(f.now))

	_, err = f.svc.Resolve(context.Background(), "unknown")
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))

	_, err = f.svc.Resolve(context.Background(), " ")
	assert.Equal(t, apperrors.ErrCodeMissingRequired, apperrors.GetCode(err))
}

func TestRespond(t *testing.T) {
	t.Run("accept", func(t *testing.T) {
		f := newSummonsFixture(t)
		f.pinToken("tok")
		_, err := f.svc.SendInvite(context.Background(), validInvite())
		require.NoError(t, err)

		f.now = f.now.Add(time.Hour)
		s, err := f.svc.Respond(context.Background(), "tok", true)
		require.NoError(t, err)
		assert.Equal(t, model.SummonsStatusAccepted, s.Status)
		require.NotNil(t, s.RespondedAt)

		require.Len(t, f.audit.entries, 2)
		assert.Equal(t, model.AuditActionWitnessAccepted, f.audit.entries[1].Action)
		assert.Equal(t, "witness@example.org", f.audit.entries[1].UserID)

		require.Len(t, f.publisher.events, 2)
		assert.Equal(t, sse.EventSummonsAccepted, f.publisher.events[1].Type)
	})

	t.Run("decline", func(t *testing.T) {
		f := newSummonsFixture(t)
		f.pinToken("tok")
		_, err := f.svc.SendInvite(context.Background(), validInvite())
		require.NoError(t, err)

		s, err := f.svc.Respond(context.Background(), "tok", false)
		require.NoError(t, err)
		assert.Equal(t, model.SummonsStatusDeclined, s.Status)
		assert.Equal(t, model.AuditActionWitnessDeclined, f.audit.entries[1].Action)
	})

	t.Run("expired at exactly 24 hours", func(t *testing.T) {
		f := newSummonsFixture(t)
		f.pinToken("tok")
		result, err := f.svc.SendInvite(context.Background(), validInvite())
		require.NoError(t, err)

		f.now = result.Summons.ExpiresAt
		_, err = f.svc.Respond(context.Background(), "tok", true)
		assert.Equal(t, apperrors.ErrCodeSummonsExpired, apperrors.GetCode(err))
		assert.Equal(t, model.SummonsStatusPending, f.repo.get("tok").Status)
	})

	t.Run("already answered", func(t *testing.T) {
		f := newSummonsFixture(t)
		f.pinToken("tok")
		_, err := f.svc.SendInvite(context.Background(), validInvite())
		require.NoError(t, err)

		_, err = f.svc.Respond(context.Background(), "tok", false)
		require.NoError(t, err)

		_, err = f.svc.Respond(context.Background(), "tok", true)
		assert.Equal(t, apperrors.ErrCodeSummonsClosed, apperrors.GetCode(err))
		assert.Equal(t, model.SummonsStatusDeclined, f.repo.get("tok").Status)
	})

	t.Run("lost race", func(t *testing.T) {
		f := newSummonsFixture(t)
		f.pinToken("tok")
		_, err := f.svc.SendInvite(context.Background(), validInvite())
		require.NoError(t, err)

		f.repo.staleUpdate = true
		_, err = f.svc.Respond(context.Background(), "tok", true)
		assert.Equal(t, apperrors.ErrCodeConflict, apperrors.GetCode(err))
		assert.Len(t, f.audit.entries, 1)
	})

	t.Run("store error", func(t *testing.T) {
		f := newSummonsFixture(t)
		f.pinToken("tok")
		_, err := f.svc.SendInvite(context.Background(), validInvite())
		require.NoError(t, err)

		f.repo.updateErr = errors.New("disk full")
		_, err = f.svc.Respond(context.Background(), "tok", true)
		assert.Equal(t, apperrors.ErrCodeDatabase, apperrors.GetCode(err))
	})
}

func TestListForSession(t *testing.T) {
	f := newSummonsFixture(t)
	_, err := f.svc.SendInvite(context.Background(), validInvite())
	require.NoError(t, err)

	other := validInvite()
	other.SessionID = "session-other"
	_, err = f.svc.SendInvite(context.Background(), other)
	require.NoError(t, err)

	list, err := f.svc.ListForSession(context.Background(), "session-42", 20, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = f.svc.ListForSession(context.Background(), "", 20, 0)
	assert.Equal(t, apperrors.ErrCodeMissingRequired, apperrors.GetCode(err))
}

func TestCanViewSession(t *testing.T) {
	f := newSummonsFixture(t)
	_, err := f.svc.SendInvite(context.Background(), validInvite())
	require.NoError(t, err)

	ok, err := f.svc.CanViewSession(context.Background(), "session-42", "user-7")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.CanViewSession(context.Background(), "session-42", "user-other")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.svc.CanViewSession(context.Background(), "session-other", "user-7")
	require.NoError(t, err)
	assert.False(t, ok)
}
