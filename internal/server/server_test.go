package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
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
	invitationrepo "github.com/smallbiznis/vervex/internal/invitation/repository"
	invitationservice "github.com/smallbiznis/vervex/internal/invitation/service"
	ledgerservice "github.com/smallbiznis/vervex/internal/ledger/service"
	memberdomain "github.com/smallbiznis/vervex/internal/member/domain"
	memberrepo "github.com/smallbiznis/vervex/internal/member/repository"
	memberservice "github.com/smallbiznis/vervex/internal/member/service"
	"github.com/smallbiznis/vervex/internal/migration"
	"github.com/smallbiznis/vervex/internal/notification"
	"github.com/smallbiznis/vervex/internal/observability"
	"github.com/smallbiznis/vervex/internal/pricing"
	"github.com/smallbiznis/vervex/internal/providers/email"
	"github.com/smallbiznis/vervex/internal/providers/pdf"
	registrationservice "github.com/smallbiznis/vervex/internal/registration/service"
	"github.com/smallbiznis/vervex/internal/role"
	"github.com/smallbiznis/vervex/pkg/db"
	"github.com/smallbiznis/vervex/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

const testPassword = "correct-horse"

type testServer struct {
	engine   *gin.Engine
	db       *gorm.DB
	identity identitydomain.Provider
	enroller *registrationservice.Enroller
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(migration.Models()...))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	enforcer, err := authorization.NewMemoryEnforcer()
	require.NoError(t, err)

	log := zaptest.NewLogger(t)
	clk := clock.NewFakeClock(time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC))
	cfg := config.Config{
		AppName:       "vervex",
		AuthJWTSecret: "test-secret",
		AuthTokenTTL:  time.Hour,
		PublicBaseURL: "https://app.vervex.test",
	}
	authz := authorization.NewService(log, enforcer)
	prices := pricing.StaticSource{Table: pricing.DefaultTable()}
	codes := codegen.New(rand.Reader)

	identity, err := identityservice.NewLocal(identityservice.Params{DB: conn, Log: log, Cfg: cfg, GenID: node, Clock: clk})
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
	notifier := notification.New(notification.Params{
		DB: conn, Log: log, Clock: clk, Members: repo, Identity: identity, Email: &email.NoOpProvider{}, Authz: authz,
	})
	settler := commission.New(commission.Params{Log: log, Clock: clk, Pricing: prices, Members: repo, Ledger: ledger})
	enroller := registrationservice.NewEnroller(registrationservice.EnrollerParams{
		DB: conn, Log: log, GenID: node, Clock: clk, Members: repo, Identity: identity, Codes: codes,
	})
	registrations := registrationservice.New(registrationservice.Params{
		DB: conn, Log: log, Enroller: enroller, CodeRequests: codeRequests, Commission: settler,
		Members: members, Identity: identity, Notifier: notifier, Authz: authz, Audit: audit,
	})
	invitations := invitationservice.New(invitationservice.Params{
		DB: conn, Log: log, Cfg: cfg, GenID: node, Clock: clk,
		Repo:       invitationrepo.Provide(),
		Members:    repo,
		Enroller:   enroller,
		Commission: settler,
		Notifier:   notifier,
		Authz:      authz,
		Audit:      audit,
	})

	engine := NewEngine(observability.Config{Environment: "test"}, nil)
	NewServer(ServerParams{
		Gin:             engine,
		Cfg:             cfg,
		Log:             log,
		Pricing:         prices,
		Identity:        identity,
		AuthzSvc:        authz,
		AuditSvc:        audit,
		MemberSvc:       members,
		CodeRequestSvc:  codeRequests,
		LedgerSvc:       ledger,
		RegistrationSvc: registrations,
		InvitationSvc:   invitations,
		Notifier:        notifier,
		PDF:             pdf.New(),
	})

	return &testServer{engine: engine, db: conn, identity: identity, enroller: enroller}
}

func (s *testServer) seedMember(t *testing.T, emailAddr string, r role.Role) memberdomain.Member {
	t.Helper()
	ctx := context.Background()
	identityID, err := s.identity.CreateIdentity(ctx, emailAddr, testPassword)
	require.NoError(t, err)

	var m memberdomain.Member
	require.NoError(t, s.db.Transaction(func(tx *gorm.DB) error {
		m, err = s.enroller.Insert(ctx, tx, registrationservice.NewMember{IdentityID: identityID, Email: emailAddr, Role: r})
		return err
	}))
	return m
}

func (s *testServer) login(t *testing.T, emailAddr string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": emailAddr, "password": testPassword})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Data struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Data.AccessToken)
	return body.Data.AccessToken
}

func (s *testServer) do(t *testing.T, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

type redeemResponse struct {
	Member     memberdomain.Member `json:"member"`
	Commission *struct {
		Amount pricing.Money `json:"amount"`
	} `json:"commission"`
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var body struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "unauthenticated", body.Error)
	assert.Equal(t, "unauthorized", body.Code)

	rec = s.do(t, http.MethodGet, "/api/me", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_token", decodeError(t, rec).Code)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	s := newTestServer(t)
	s.seedMember(t, "maya@example.com", role.VIP)

	rec := s.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "maya@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_credentials", decodeError(t, rec).Code)
}

func TestCodeRequestToRegistrationOverHTTP(t *testing.T) {
	s := newTestServer(t)
	inviter := s.seedMember(t, "maya@example.com", role.VIP)
	s.seedMember(t, "ops@example.com", role.Admin)

	inviterToken := s.login(t, "maya@example.com")
	adminToken := s.login(t, "ops@example.com")

	rec := s.do(t, http.MethodPost, "/api/code-requests", inviterToken, gin.H{
		"role": "vip",
		"invite_data": gin.H{
			"name":  "Budi Santoso",
			"email": "budi@example.com",
			"phone": "+62 811 1111",
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeData[coderequestdomain.CodeRequest](t, rec)
	assert.Equal(t, coderequestdomain.StatusPendingReceipt, created.Status)
	assert.Equal(t, pricing.Money(1000), created.Price)
	id := created.ID.String()

	rec = s.do(t, http.MethodPost, "/api/code-requests/"+id+"/receipt", inviterToken, gin.H{
		"receipt_url": "https://files.vervex.test/receipts/" + id + ".jpg",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Members cannot work the admin queue.
	rec = s.do(t, http.MethodPost, "/api/admin/code-requests/"+id+"/generate", inviterToken, gin.H{"code": "ABC123"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/admin/code-requests/"+id+"/generate", adminToken, gin.H{"code": "ABC123"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ABC123", decodeData[coderequestdomain.CodeRequest](t, rec).Code())

	rec = s.do(t, http.MethodGet, "/api/code-requests/"+id+"/voucher", inviterToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "voucher-budi-santoso-"+id+".pdf")

	rec = s.do(t, http.MethodPost, "/api/register-from-code", inviterToken, gin.H{
		"code":    "abc123",
		"profile": gin.H{"email": "budi@example.com", "password": "s3cret-pass"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	result := decodeData[redeemResponse](t, rec)
	assert.Equal(t, role.VIP, result.Member.Role)
	require.NotNil(t, result.Member.ReferrerID)
	assert.Equal(t, inviter.ID, *result.Member.ReferrerID)
	require.NotNil(t, result.Commission)
	assert.Equal(t, pricing.Money(1000), result.Commission.Amount)

	rec = s.do(t, http.MethodGet, "/api/me", inviterToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeData[memberdomain.Member](t, rec)
	assert.Equal(t, pricing.Money(1000), me.Balance)
	assert.Equal(t, pricing.Money(1000), me.DirectInviteEarnings)
	assert.Equal(t, int64(1), me.DirectInviteCount)

	rec = s.do(t, http.MethodGet, "/api/me/transactions", inviterToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[struct {
		Transactions []json.RawMessage `json:"transactions"`
	}](t, rec).Transactions, 1)

	rec = s.do(t, http.MethodGet, "/api/me/downline", inviterToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[memberdomain.ListResponse](t, rec).Members, 1)

	// A second redemption is refused and pays nothing.
	rec = s.do(t, http.MethodPost, "/api/register-from-code", inviterToken, gin.H{
		"code":    "ABC123",
		"profile": gin.H{"email": "someone@example.com", "password": "s3cret-pass"},
	})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "code_not_redeemable", decodeError(t, rec).Code)

	rec = s.do(t, http.MethodGet, "/api/me", inviterToken, nil)
	assert.Equal(t, pricing.Money(1000), decodeData[memberdomain.Member](t, rec).Balance)

	// The voucher is no longer printable once redeemed.
	rec = s.do(t, http.MethodGet, "/api/code-requests/"+id+"/voucher", inviterToken, nil)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
}

func TestRegisterFromUnknownCode(t *testing.T) {
	s := newTestServer(t)
	s.seedMember(t, "maya@example.com", role.VIP)
	token := s.login(t, "maya@example.com")

	rec := s.do(t, http.MethodPost, "/api/register-from-code", token, gin.H{
		"code":    "NOPE99",
		"profile": gin.H{"email": "budi@example.com", "password": "s3cret-pass"},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, "not-found", raw["error"])
	assert.Equal(t, "code not found", raw["message"])
	assert.Equal(t, "code_not_found", raw["code"])

	rec = s.do(t, http.MethodPost, "/api/register-from-code", token, "not an object")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "invalid-argument", body.Error)
	assert.Equal(t, "invalid_request", body.Code)
}

func TestInactiveMemberIsForbidden(t *testing.T) {
	s := newTestServer(t)
	m := s.seedMember(t, "maya@example.com", role.VIP)
	token := s.login(t, "maya@example.com")

	require.NoError(t, s.db.Model(&memberdomain.Member{}).Where("id = ?", m.ID).
		Update("status", memberdomain.StatusInactive).Error)

	rec := s.do(t, http.MethodGet, "/api/me", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "maya@example.com", "password": testPassword})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
}

func TestAdminUserManagement(t *testing.T) {
	s := newTestServer(t)
	s.seedMember(t, "root@example.com", role.Superadmin)
	s.seedMember(t, "maya@example.com", role.VIP)
	rootToken := s.login(t, "root@example.com")
	memberToken := s.login(t, "maya@example.com")

	rec := s.do(t, http.MethodPost, "/api/admin/users", memberToken, gin.H{"email": "x@example.com", "password": "s3cret-pass"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/admin/users", rootToken, gin.H{
		"email":    "cashier@example.com",
		"password": "s3cret-pass",
		"role":     "cashier",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeData[struct {
		Member memberdomain.Member `json:"member"`
	}](t, rec).Member
	assert.Equal(t, role.Cashier, created.Role)

	rec = s.do(t, http.MethodPatch, "/api/admin/users/"+created.ID.String()+"/role", rootToken, gin.H{"role": "admin"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, role.Admin, decodeData[memberdomain.Member](t, rec).Role)

	rec = s.do(t, http.MethodGet, "/api/admin/users?role=admin", rootToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[memberdomain.ListResponse](t, rec).Members, 1)

	rec = s.do(t, http.MethodGet, "/api/admin/audit-logs", rootToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeData[struct {
		AuditLogs []json.RawMessage `json:"audit_logs"`
	}](t, rec).AuditLogs)

	rec = s.do(t, http.MethodGet, "/api/admin/audit-logs", memberToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/admin/users/"+created.ID.String(), rootToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "cashier@example.com", "password": "s3cret-pass"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestResendVerification(t *testing.T) {
	s := newTestServer(t)
	m := s.seedMember(t, "maya@example.com", role.VIP)
	token := s.login(t, "maya@example.com")

	rec := s.do(t, http.MethodPost, "/api/members/"+m.ID.String()+"/resend-verification", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeData[notification.ResendResult](t, rec).EmailSent)

	rec = s.do(t, http.MethodPost, "/api/members/not-an-id/resend-verification", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvitationEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.seedMember(t, "maya@example.com", role.VIP)
	token := s.login(t, "maya@example.com")

	rec := s.do(t, http.MethodPost, "/api/invitations", token, gin.H{"email": "rina@example.com", "name": "Rina"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/invitations", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[struct {
		Invitations []json.RawMessage `json:"invitations"`
	}](t, rec).Invitations, 1)

	rec = s.do(t, http.MethodPost, "/api/invitations/decline", "", gin.H{"token": "unknown"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPricing(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/pricing", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	entries := decodeData[[]pricingEntry](t, rec)
	require.Len(t, entries, 3)
	assert.Equal(t, pricingEntry{Role: "vip", Price: 1000, Commission: 1000}, entries[0])
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/nothing-here", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{errs.New(errs.KindInvalidArgument, "invalid_email"), http.StatusBadRequest, "invalid-argument"},
		{ErrUnauthorized, http.StatusUnauthorized, "unauthenticated"},
		{authorization.ErrForbidden, http.StatusForbidden, "permission-denied"},
		{coderequestdomain.ErrNotRedeemable, http.StatusPreconditionFailed, "failed-precondition"},
		{memberdomain.ErrEmailTaken, http.StatusConflict, "already-exists"},
		{errs.New(errs.KindResourceExhausted, "rate_limited"), http.StatusTooManyRequests, "too-many-requests"},
		{gorm.ErrRecordNotFound, http.StatusNotFound, "not-found"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		status, resp := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.kind, resp.Error, tc.err.Error())
		assert.NotEmpty(t, resp.Message, tc.err.Error())
	}

	_, resp := mapError(errors.New("dial tcp 10.0.0.1: refused"))
	assert.Equal(t, "internal server error", resp.Message)
	assert.Empty(t, resp.Code)

	_, resp = mapError(memberdomain.ErrEmailTaken)
	assert.Equal(t, errs.Code(memberdomain.ErrEmailTaken), resp.Code)

	kind, code := classifyErrorForLog(coderequestdomain.ErrNotRedeemable)
	assert.Equal(t, "failed-precondition", kind)
	assert.Equal(t, "code_not_redeemable", code)
}
