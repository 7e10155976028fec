package notification

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vervex/internal/authorization"
	"github.com/smallbiznis/vervex/internal/clock"
	"github.com/smallbiznis/vervex/internal/config"
	identitydomain "github.com/smallbiznis/vervex/internal/identity/domain"
	identityservice "github.com/smallbiznis/vervex/internal/identity/service"
	memberdomain "github.com/smallbiznis/vervex/internal/member/domain"
	memberrepo "github.com/smallbiznis/vervex/internal/member/repository"
	"github.com/smallbiznis/vervex/internal/providers/email"
	"github.com/smallbiznis/vervex/internal/role"
	"github.com/smallbiznis/vervex/pkg/db"
	"github.com/smallbiznis/vervex/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type failingMailer struct{ email.NoOpProvider }

func (f *failingMailer) SendTemplate(ctx context.Context, to []string, name string, data map[string]any) error {
	return errors.New("smtp: connection refused")
}

type fixture struct {
	svc      *Service
	mail     *email.NoOpProvider
	identity identitydomain.Provider
	repo     memberdomain.Repository
	node     *snowflake.Node
}

func newFixture(t *testing.T, mailer email.Provider) *fixture {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&memberdomain.Member{}, &identitydomain.Identity{}, &identitydomain.VerificationToken{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	enforcer, err := authorization.NewMemoryEnforcer()
	require.NoError(t, err)

	log := zaptest.NewLogger(t)
	clk := clock.NewFakeClock(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	identity, err := identityservice.NewLocal(identityservice.Params{
		DB:    conn,
		Log:   log,
		Cfg:   config.Config{AppName: "vervex", AuthJWTSecret: "k", PublicBaseURL: "https://app.vervex.test"},
		GenID: node,
		Clock: clk,
	})
	require.NoError(t, err)

	noop := &email.NoOpProvider{}
	if mailer == nil {
		mailer = noop
	}
	repo := memberrepo.Provide()
	svc := New(Params{
		DB:       conn,
		Log:      log,
		Clock:    clk,
		Members:  repo,
		Identity: identity,
		Email:    mailer,
		Authz:    authorization.NewService(log, enforcer),
	})
	return &fixture{svc: svc, mail: noop, identity: identity, repo: repo, node: node}
}

func (f *fixture) member(t *testing.T, emailAddr string) memberdomain.Member {
	t.Helper()
	ctx := context.Background()
	identityID, err := f.identity.CreateIdentity(ctx, emailAddr, "correct-horse")
	require.NoError(t, err)

	id := f.node.Generate()
	m := memberdomain.Member{
		ID:           id,
		IdentityID:   identityID,
		Email:        emailAddr,
		DisplayName:  "Nadia",
		Role:         role.VIP,
		ReferralCode: "R-" + id.String(),
		Status:       memberdomain.StatusActive,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	require.NoError(t, f.repo.Insert(ctx, f.svc.db, &m))
	return m
}

func tokenFrom(t *testing.T, html string) string {
	t.Helper()
	start := strings.Index(html, "https://app.vervex.test/api/auth/verify?token=")
	require.GreaterOrEqual(t, start, 0)
	rest := html[start:]
	end := strings.IndexAny(rest, "\" <")
	require.Greater(t, end, 0)
	link, err := url.Parse(strings.ReplaceAll(rest[:end], "&amp;", "&"))
	require.NoError(t, err)
	return link.Query().Get("token")
}

func TestSendVerificationAndConfirm(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	m := f.member(t, "nadia@example.com")

	require.True(t, f.svc.SendVerification(ctx, m))
	sent := f.mail.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"nadia@example.com"}, sent[0].To)

	verified, err := f.svc.ConfirmVerification(ctx, tokenFrom(t, sent[0].HTML))
	require.NoError(t, err)
	assert.True(t, verified.EmailVerified())
}

func TestSendVerificationFailureIsAFlag(t *testing.T) {
	f := newFixture(t, &failingMailer{})
	m := f.member(t, "nadia@example.com")

	assert.False(t, f.svc.SendVerification(context.Background(), m))
}

func TestResendVerificationIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	m := f.member(t, "nadia@example.com")
	self := authorization.Actor{ID: m.ID, Role: m.Role}

	res, err := f.svc.ResendVerification(ctx, self, m.ID)
	require.NoError(t, err)
	assert.True(t, res.EmailSent)

	_, err = f.svc.ConfirmVerification(ctx, tokenFrom(t, f.mail.Sent()[0].HTML))
	require.NoError(t, err)

	res, err = f.svc.ResendVerification(ctx, self, m.ID)
	require.NoError(t, err)
	assert.True(t, res.AlreadyVerified)
	assert.False(t, res.EmailSent)
	assert.Len(t, f.mail.Sent(), 1)
}

func TestResendVerificationAuthorization(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	m := f.member(t, "nadia@example.com")

	stranger := authorization.Actor{ID: f.node.Generate(), Role: role.Supreme}
	_, err := f.svc.ResendVerification(ctx, stranger, m.ID)
	assert.ErrorIs(t, err, errs.ErrPermissionDenied)

	cashier := authorization.Actor{ID: f.node.Generate(), Role: role.Cashier}
	res, err := f.svc.ResendVerification(ctx, cashier, m.ID)
	require.NoError(t, err)
	assert.True(t, res.EmailSent)

	_, err = f.svc.ResendVerification(ctx, cashier, f.node.Generate())
	assert.ErrorIs(t, err, memberdomain.ErrNotFound)
}

func TestConfirmVerificationRejectsUnknownToken(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.ConfirmVerification(context.Background(), "nope")
	assert.ErrorIs(t, err, identitydomain.ErrInvalidVerifyToken)
}

func TestSendInvitation(t *testing.T) {
	f := newFixture(t, nil)

	ok := f.svc.SendInvitation(context.Background(), Invite{
		Email:       "budi@example.com",
		Name:        "Budi",
		InviterName: "Maya",
		Link:        "https://app.vervex.test/invitations/accept?token=t",
		ExpiresAt:   time.Date(2026, 7, 8, 0, 0, 0, 0, time.UTC),
	})
	require.True(t, ok)
	sent := f.mail.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Maya invited you to Vervex", sent[0].Subject)

	failing := newFixture(t, &failingMailer{})
	assert.False(t, failing.svc.SendInvitation(context.Background(), Invite{Email: "x@example.com"}))
}
