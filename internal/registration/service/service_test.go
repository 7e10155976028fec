package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/vervex/internal/audit/domain"
	auditrepo "github.com/smallbiznis/vervex/internal/audit/repository"
	auditservice "github.com/smallbiznis/vervex/internal/audit/service"
	"github.com/smallbiznis/vervex/internal/authorization"
	"github.com/smallbiznis/vervex/internal/clock"
	"github.com/smallbiznis/vervex/internal/codegen"
	coderequestdomain "github.com/smallbiznis/vervex/internal/coderequest/domain"
	coderequestrepo "github.com/smallbiznis/vervex/internal/coderequest/repository"
	coderequestservice "github.com/smallbiznis/vervex/internal/coderequest/service"
	"github.com/smallbiznis/vervex/internal/commission"
	"github.com/smallbiznis/vervex/internal/config"
	identitydomain "github.com/smallbiznis/vervex/internal/identity/domain"
	identityservice "github.com/smallbiznis/vervex/internal/identity/service"
	ledgerdomain "github.com/smallbiznis/vervex/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/vervex/internal/ledger/service"
	memberdomain "github.com/smallbiznis/vervex/internal/member/domain"
	memberrepo "github.com/smallbiznis/vervex/internal/member/repository"
	memberservice "github.com/smallbiznis/vervex/internal/member/service"
	"github.com/smallbiznis/vervex/internal/notification"
	"github.com/smallbiznis/vervex/internal/pricing"
	"github.com/smallbiznis/vervex/internal/providers/email"
	"github.com/smallbiznis/vervex/internal/registration/domain"
	"github.com/smallbiznis/vervex/internal/role"
	"github.com/smallbiznis/vervex/pkg/db"
	"github.com/smallbiznis/vervex/pkg/db/pagination"
	"github.com/smallbiznis/vervex/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fixture struct {
	svc          domain.Service
	db           *gorm.DB
	node         *snowflake.Node
	enroller     *Enroller
	codeRequests coderequestdomain.Service
	members      memberdomain.Service
	memberRepo   memberdomain.Repository
	ledger       ledgerdomain.Service
	identity     identitydomain.Provider
	mail         *email.NoOpProvider
	admin        authorization.Actor
	superadmin   authorization.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&memberdomain.Member{},
		&coderequestdomain.CodeRequest{},
		&ledgerdomain.Transaction{},
		&identitydomain.Identity{},
		&identitydomain.VerificationToken{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	enforcer, err := authorization.NewMemoryEnforcer()
	require.NoError(t, err)

	log := zaptest.NewLogger(t)
	clk := clock.NewFakeClock(time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC))
	authz := authorization.NewService(log, enforcer)
	prices := pricing.StaticSource{Table: pricing.DefaultTable()}
	codes := codegen.New(rand.Reader)

	identity, err := identityservice.NewLocal(identityservice.Params{
		DB:    conn,
		Log:   log,
		Cfg:   config.Config{AppName: "vervex", AuthJWTSecret: "test-secret", PublicBaseURL: "https://app.vervex.test"},
		GenID: node,
		Clock: clk,
	})
	require.NoError(t, err)

	audit := auditservice.NewService(auditservice.Params{DB: conn, Log: log, GenID: node, Clock: clk, Repo: auditrepo.Provide()})
	repo := memberrepo.Provide()
	members := memberservice.New(memberservice.Params{DB: conn, Log: log, Clock: clk, Repo: repo, Authz: authz, Audit: audit})
	ledger := ledgerservice.NewService(ledgerservice.Params{DB: conn, Log: log, GenID: node, Clock: clk})
	codeRequests := coderequestservice.New(coderequestservice.Params{
		DB: conn, Log: log, GenID: node, Clock: clk,
		Repo:    coderequestrepo.Provide(),
		Pricing: prices,
		Codes:   codes,
		Authz:   authz,
		Audit:   audit,
	})
	mail := &email.NoOpProvider{}
	notifier := notification.New(notification.Params{
		DB: conn, Log: log, Clock: clk, Members: repo, Identity: identity, Email: mail, Authz: authz,
	})
	enroller := NewEnroller(EnrollerParams{
		DB: conn, Log: log, GenID: node, Clock: clk, Members: repo, Identity: identity, Codes: codes,
	})

	svc := New(Params{
		DB:           conn,
		Log:          log,
		Enroller:     enroller,
		CodeRequests: codeRequests,
		Commission: commission.New(commission.Params{
			Log: log, Clock: clk, Pricing: prices, Members: repo, Ledger: ledger,
		}),
		Members:  members,
		Identity: identity,
		Notifier: notifier,
		Authz:    authz,
		Audit:    audit,
	})

	return &fixture{
		svc:          svc,
		db:           conn,
		node:         node,
		enroller:     enroller,
		codeRequests: codeRequests,
		members:      members,
		memberRepo:   repo,
		ledger:       ledger,
		identity:     identity,
		mail:         mail,
		admin:        authorization.Actor{ID: node.Generate(), Role: role.Admin},
		superadmin:   authorization.Actor{ID: node.Generate(), Role: role.Superadmin},
	}
}

// seedMember inserts an active member with a real identity.
func (f *fixture) seedMember(t *testing.T, emailAddr string, r role.Role) memberdomain.Member {
	t.Helper()
	ctx := context.Background()
	identityID, err := f.identity.CreateIdentity(ctx, emailAddr, "correct-horse")
	require.NoError(t, err)

	var m memberdomain.Member
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		m, err = f.enroller.Insert(ctx, tx, NewMember{IdentityID: identityID, Email: emailAddr, Role: r})
		return err
	}))
	return m
}

func actorOf(m memberdomain.Member) authorization.Actor {
	return authorization.Actor{ID: m.ID, Role: m.Role}
}

// issueCode walks a code request from creation to code_generated.
func (f *fixture) issueCode(t *testing.T, inviter memberdomain.Member, r role.Role, code, inviteEmail string) coderequestdomain.CodeRequest {
	t.Helper()
	ctx := context.Background()
	actor := actorOf(inviter)

	req, err := f.codeRequests.Create(ctx, actor, coderequestdomain.CreateRequest{
		Role: r.String(),
		Invite: coderequestdomain.InviteData{
			Name:    "Budi Santoso",
			Email:   inviteEmail,
			Phone:   "+62 811 1111",
			Address: "Jl. Sudirman 5",
		},
	})
	require.NoError(t, err)
	_, err = f.codeRequests.AttachReceipt(ctx, actor, coderequestdomain.AttachReceiptRequest{
		ID:         req.ID.String(),
		ReceiptURL: "https://files.vervex.test/receipts/" + req.ID.String() + ".jpg",
	})
	require.NoError(t, err)
	issued, err := f.codeRequests.GenerateCode(ctx, f.admin, coderequestdomain.GenerateCodeRequest{ID: req.ID.String(), Code: code})
	require.NoError(t, err)
	require.Equal(t, coderequestdomain.StatusCodeGenerated, issued.Status)
	return issued
}

func (f *fixture) reload(t *testing.T, id snowflake.ID) memberdomain.Member {
	t.Helper()
	m, err := f.members.Get(context.Background(), id)
	require.NoError(t, err)
	return m
}

func TestRegisterFromCodeEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inviter := f.seedMember(t, "maya@example.com", role.VIP)
	request := f.issueCode(t, inviter, role.VIP, "ABC123", "budi@example.com")
	assert.Equal(t, pricing.Money(1000), request.Price)

	result, err := f.svc.RegisterFromCode(ctx, actorOf(inviter), domain.RedeemRequest{
		Code:    "abc123",
		Profile: domain.Profile{Password: "budi-password"},
	})
	require.NoError(t, err)
	assert.True(t, result.EmailSent)
	assert.Equal(t, "budi@example.com", result.Member.Email)
	assert.Equal(t, "Budi Santoso", result.Member.DisplayName)
	assert.Equal(t, role.VIP, result.Member.Role)
	require.NotNil(t, result.Member.ReferrerID)
	assert.Equal(t, inviter.ID, *result.Member.ReferrerID)
	assert.NotEmpty(t, result.Member.ReferralCode)

	require.NotNil(t, result.Commission)
	assert.Equal(t, ledgerdomain.TypeDirectInviteEarning, result.Commission.Type)
	assert.Equal(t, pricing.Money(1000), result.Commission.Amount)
	assert.Equal(t, inviter.ID, result.Commission.UserID)
	assert.Equal(t, result.Member.ID, result.Commission.InvitedUserID)

	after := f.reload(t, inviter.ID)
	assert.Equal(t, pricing.Money(1000), after.Balance)
	assert.Equal(t, pricing.Money(1000), after.DirectInviteEarnings)
	assert.Equal(t, int64(1), after.DirectInviteCount)

	stored, err := f.codeRequests.Get(ctx, actorOf(inviter), request.ID.String())
	require.NoError(t, err)
	assert.Equal(t, coderequestdomain.StatusMemberRegistered, stored.Status)
	require.NotNil(t, stored.RegisteredMemberID)
	assert.Equal(t, result.Member.ID, *stored.RegisteredMemberID)

	txs, err := f.ledger.ListByUser(ctx, inviter.ID, pagination.Pagination{})
	require.NoError(t, err)
	assert.Len(t, txs.Transactions, 1)

	sent := f.mail.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"budi@example.com"}, sent[0].To)
	assert.Equal(t, email.TemplateVerifyEmail, sent[0].Template)

	// The new member can sign in with the password chosen at redemption.
	_, err = f.identity.Authenticate(ctx, "budi@example.com", "budi-password")
	require.NoError(t, err)
}

func TestRegisterFromCodeTwiceFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inviter := f.seedMember(t, "maya@example.com", role.VIP)
	f.issueCode(t, inviter, role.VIP, "ABC123", "budi@example.com")

	_, err := f.svc.RegisterFromCode(ctx, actorOf(inviter), domain.RedeemRequest{
		Code:    "ABC123",
		Profile: domain.Profile{Password: "budi-password"},
	})
	require.NoError(t, err)

	_, err = f.svc.RegisterFromCode(ctx, actorOf(inviter), domain.RedeemRequest{
		Code:    "ABC123",
		Profile: domain.Profile{Email: "someone-else@example.com", Password: "other-password"},
	})
	require.ErrorIs(t, err, coderequestdomain.ErrNotRedeemable)
	assert.Equal(t, errs.KindFailedPrecondition, errs.KindOf(err))

	after := f.reload(t, inviter.ID)
	assert.Equal(t, pricing.Money(1000), after.Balance)
	assert.Equal(t, int64(1), after.DirectInviteCount)

	var count int64
	require.NoError(t, f.db.Model(&memberdomain.Member{}).Where("email = ?", "someone-else@example.com").Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, f.db.Model(&ledgerdomain.Transaction{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRegisterFromCodeRejectsUnissuedAndUnknownCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inviter := f.seedMember(t, "maya@example.com", role.VIP)

	_, err := f.svc.RegisterFromCode(ctx, actorOf(inviter), domain.RedeemRequest{
		Code:    "VX-VIP-ZZZZ-ZZZZ",
		Profile: domain.Profile{Email: "x@example.com", Password: "password-1"},
	})
	require.ErrorIs(t, err, coderequestdomain.ErrCodeNotFound)

	_, err = f.svc.RegisterFromCode(ctx, actorOf(inviter), domain.RedeemRequest{
		Code:    "!!",
		Profile: domain.Profile{Email: "x@example.com", Password: "password-1"},
	})
	assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
}

func TestRegisterFromCodeValidatesBeforeWriting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inviter := f.seedMember(t, "maya@example.com", role.VIP)
	request := f.issueCode(t, inviter, role.VIP, "ABC123", "budi@example.com")

	_, err := f.svc.RegisterFromCode(ctx, actorOf(inviter), domain.RedeemRequest{
		Code:    "ABC123",
		Profile: domain.Profile{Password: "short"},
	})
	require.ErrorIs(t, err, domain.ErrInvalidPassword)

	stored, err := f.codeRequests.Get(ctx, actorOf(inviter), request.ID.String())
	require.NoError(t, err)
	assert.Equal(t, coderequestdomain.StatusCodeGenerated, stored.Status)

	id, err := f.identity.LookupByEmail(ctx, "budi@example.com")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestRegisterFromCodeEmailAlreadyMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inviter := f.seedMember(t, "maya@example.com", role.VIP)
	f.seedMember(t, "budi@example.com", role.User)
	request := f.issueCode(t, inviter, role.VIP, "ABC123", "budi@example.com")

	_, err := f.svc.RegisterFromCode(ctx, actorOf(inviter), domain.RedeemRequest{
		Code:    "ABC123",
		Profile: domain.Profile{Password: "budi-password"},
	})
	require.ErrorIs(t, err, memberdomain.ErrEmailTaken)
	assert.Equal(t, errs.KindAlreadyExists, errs.KindOf(err))

	stored, err := f.codeRequests.Get(ctx, actorOf(inviter), request.ID.String())
	require.NoError(t, err)
	assert.Equal(t, coderequestdomain.StatusCodeGenerated, stored.Status)
	assert.Zero(t, f.reload(t, inviter.ID).Balance)
}

func TestRegisterFromCodeInactiveInviterRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inviter := f.seedMember(t, "maya@example.com", role.VIP)
	request := f.issueCode(t, inviter, role.Ambassador, "", "budi@example.com")

	_, err := f.memberRepo.UpdateStatus(ctx, f.db, inviter.ID, memberdomain.StatusInactive, time.Now())
	require.NoError(t, err)

	_, err = f.svc.RegisterFromCode(ctx, f.admin, domain.RedeemRequest{
		Code:    request.Code(),
		Profile: domain.Profile{Password: "budi-password"},
	})
	require.ErrorIs(t, err, memberdomain.ErrInactive)

	stored, err := f.codeRequests.Get(ctx, f.admin, request.ID.String())
	require.NoError(t, err)
	assert.Equal(t, coderequestdomain.StatusCodeGenerated, stored.Status)

	var count int64
	require.NoError(t, f.db.Model(&memberdomain.Member{}).Where("email = ?", "budi@example.com").Count(&count).Error)
	assert.Zero(t, count)

	// The identity created before the failed transaction is reused on retry.
	orphan, err := f.identity.LookupByEmail(ctx, "budi@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, orphan)

	_, err = f.memberRepo.UpdateStatus(ctx, f.db, inviter.ID, memberdomain.StatusActive, time.Now())
	require.NoError(t, err)
	result, err := f.svc.RegisterFromCode(ctx, f.admin, domain.RedeemRequest{
		Code:    request.Code(),
		Profile: domain.Profile{Password: "second-attempt"},
	})
	require.NoError(t, err)
	assert.Equal(t, orphan, result.Member.IdentityID)
	assert.Equal(t, pricing.Money(4000), f.reload(t, inviter.ID).Balance)
}

func TestEarningsMatchSumOfCommissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inviter := f.seedMember(t, "maya@example.com", role.Supreme)

	roles := []role.Role{role.VIP, role.Ambassador, role.Supreme, role.VIP}
	var want pricing.Money
	for i, r := range roles {
		request := f.issueCode(t, inviter, r, "", fmt.Sprintf("invitee-%d@example.com", i))
		_, err := f.svc.RegisterFromCode(ctx, actorOf(inviter), domain.RedeemRequest{
			Code:    request.Code(),
			Profile: domain.Profile{Password: "invitee-password"},
		})
		require.NoError(t, err)
		want += pricing.DefaultTable().CommissionFor(r)
	}

	after := f.reload(t, inviter.ID)
	assert.Equal(t, want, after.DirectInviteEarnings)
	assert.Equal(t, want, after.Balance)
	assert.Equal(t, int64(len(roles)), after.DirectInviteCount)

	sum, err := f.ledger.SumByUser(ctx, inviter.ID, ledgerdomain.TypeDirectInviteEarning)
	require.NoError(t, err)
	assert.Equal(t, after.DirectInviteEarnings, sum)

	downline, err := f.members.ListDownline(ctx, inviter.ID, pagination.Pagination{})
	require.NoError(t, err)
	assert.Len(t, downline.Members, len(roles))
}

func TestCreateUserRequiresSuperadmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateUser(ctx, f.admin, domain.CreateUserRequest{
		Email: "cashier@example.com", Password: "cashier-pass", Role: "cashier",
	})
	require.ErrorIs(t, err, authorization.ErrForbidden)

	referrer := f.seedMember(t, "maya@example.com", role.VIP)
	result, err := f.svc.CreateUser(ctx, f.superadmin, domain.CreateUserRequest{
		Email:      "Cashier@Example.com",
		Password:   "cashier-pass",
		Role:       "cashier",
		ReferrerID: referrer.ID.String(),
	})
	require.NoError(t, err)
	assert.True(t, result.EmailSent)
	assert.Equal(t, "cashier@example.com", result.Member.Email)
	assert.Equal(t, role.Cashier, result.Member.Role)
	require.NotNil(t, result.Member.ReferrerID)
	assert.Zero(t, f.reload(t, referrer.ID).Balance)

	_, err = f.svc.CreateUser(ctx, f.superadmin, domain.CreateUserRequest{
		Email: "cashier@example.com", Password: "cashier-pass",
	})
	require.ErrorIs(t, err, memberdomain.ErrEmailTaken)

	_, err = f.svc.CreateUser(ctx, f.superadmin, domain.CreateUserRequest{
		Email: "x@example.com", Password: "cashier-pass", Role: "emperor",
	})
	require.ErrorIs(t, err, role.ErrInvalidRole)

	_, err = f.svc.CreateUser(ctx, f.superadmin, domain.CreateUserRequest{
		Email: "y@example.com", Password: "cashier-pass", ReferrerID: f.node.Generate().String(),
	})
	require.ErrorIs(t, err, domain.ErrReferrerMissing)
}

func TestDeleteUserRemovesMemberAndIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.seedMember(t, "leaving@example.com", role.User)

	_, err := f.svc.DeleteUser(ctx, f.admin, target.ID.String())
	require.ErrorIs(t, err, authorization.ErrForbidden)

	removed, err := f.svc.DeleteUser(ctx, f.superadmin, target.ID.String())
	require.NoError(t, err)
	assert.Equal(t, target.ID, removed.ID)

	_, err = f.members.Get(ctx, target.ID)
	require.ErrorIs(t, err, memberdomain.ErrNotFound)
	id, err := f.identity.LookupByEmail(ctx, "leaving@example.com")
	require.NoError(t, err)
	assert.Empty(t, id)

	_, err = f.svc.DeleteUser(ctx, f.superadmin, target.ID.String())
	require.ErrorIs(t, err, memberdomain.ErrNotFound)
}
