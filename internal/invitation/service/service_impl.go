package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/vervex/internal/audit/domain"
	"github.com/smallbiznis/vervex/internal/audit/masking"
	"github.com/smallbiznis/vervex/internal/authorization"
	"github.com/smallbiznis/vervex/internal/clock"
	"github.com/smallbiznis/vervex/internal/commission"
	"github.com/smallbiznis/vervex/internal/config"
	"github.com/smallbiznis/vervex/internal/invitation/domain"
	memberdomain "github.com/smallbiznis/vervex/internal/member/domain"
	"github.com/smallbiznis/vervex/internal/notification"
	obsmetrics "github.com/smallbiznis/vervex/internal/observability/metrics"
	registration "github.com/smallbiznis/vervex/internal/registration/service"
	"github.com/smallbiznis/vervex/internal/role"
	"github.com/smallbiznis/vervex/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	tokenBytes        = 32
	defaultTTL        = 7 * 24 * time.Hour
	sourceInvitation  = "invitation"
	acceptPath        = "/invitations/accept"
	maxInvitedNameLen = 120
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Cfg        config.Config
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Members    memberdomain.Repository
	Enroller   *registration.Enroller
	Commission *commission.Service
	Notifier   *notification.Service
	Authz      authorization.Service
	Audit      auditdomain.Service
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	members    memberdomain.Repository
	enroller   *registration.Enroller
	commission *commission.Service
	notifier   *notification.Service
	authz      authorization.Service
	audit      auditdomain.Service
	metrics    *obsmetrics.Metrics
	baseURL    string
	ttl        time.Duration
}

func New(p Params) domain.Service {
	ttl := p.Cfg.InvitationTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("invitation.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		members:    p.Members,
		enroller:   p.Enroller,
		commission: p.Commission,
		notifier:   p.Notifier,
		authz:      p.Authz,
		audit:      p.Audit,
		metrics:    p.Metrics,
		baseURL:    strings.TrimRight(p.Cfg.PublicBaseURL, "/"),
		ttl:        ttl,
	}
}

func (s *Service) Invite(ctx context.Context, actor authorization.Actor, req domain.InviteRequest) (domain.InviteResult, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectInvitation, authorization.ActionInvitationCreate); err != nil {
		return domain.InviteResult{}, err
	}

	email := memberdomain.NormalizeEmail(req.Email)
	if email == "" {
		return domain.InviteResult{}, memberdomain.ErrInvalidEmail
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > maxInvitedNameLen {
		return domain.InviteResult{}, domain.ErrInvalidName
	}

	referrer, err := s.members.FindByID(ctx, s.db, actor.ID)
	if err != nil {
		return domain.InviteResult{}, err
	}
	if referrer == nil {
		return domain.InviteResult{}, memberdomain.ErrNotFound
	}
	if !referrer.Active() {
		return domain.InviteResult{}, memberdomain.ErrInactive
	}
	if err := s.enroller.EnsureNotMember(ctx, email); err != nil {
		return domain.InviteResult{}, err
	}

	token, err := newToken()
	if err != nil {
		return domain.InviteResult{}, err
	}

	now := s.clock.Now()
	inv := domain.Invitation{
		ID:           s.genID.Generate(),
		ReferrerID:   referrer.ID,
		InvitedEmail: email,
		InvitedName:  name,
		TokenHash:    hashToken(token),
		Status:       domain.StatusPending,
		ExpiresAt:    now.Add(s.ttl),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &inv); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, auditdomain.Entry{
			ActorRole:  actor.Role.String(),
			ActorID:    actor.ID.String(),
			Action:     authorization.ActionInvitationCreate,
			TargetType: authorization.ObjectInvitation,
			TargetID:   inv.ID.String(),
			Metadata:   map[string]any{"email": masking.MaskEmail(email)},
		})
	})
	if err != nil {
		return domain.InviteResult{}, err
	}

	sent := s.notifier.SendInvitation(ctx, notification.Invite{
		Email:       email,
		Name:        name,
		InviterName: referrer.DisplayName,
		Link:        s.baseURL + acceptPath + "?token=" + url.QueryEscape(token),
		ExpiresAt:   inv.ExpiresAt,
	})
	s.log.Info("invitation sent",
		zap.String("invitation_id", inv.ID.String()),
		zap.String("referrer_id", referrer.ID.String()),
		zap.Bool("email_sent", sent),
	)
	return domain.InviteResult{Invitation: inv, EmailSent: sent}, nil
}

// Accept turns a pending invitation into a plain user member referred by the
// inviting member. Following the emailed link proves ownership of the
// address, so the member starts out verified.
func (s *Service) Accept(ctx context.Context, req domain.AcceptRequest) (memberdomain.Member, error) {
	inv, err := s.pending(ctx, req.Token)
	if err != nil {
		return memberdomain.Member{}, err
	}
	email, err := s.enroller.CheckProfile(inv.InvitedEmail, req.Password)
	if err != nil {
		return memberdomain.Member{}, err
	}
	if err := s.enroller.EnsureNotMember(ctx, email); err != nil {
		return memberdomain.Member{}, err
	}
	identityID, err := s.enroller.EnsureIdentity(ctx, email, req.Password)
	if err != nil {
		return memberdomain.Member{}, err
	}

	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		name = inv.InvitedName
	}
	referrerID := inv.ReferrerID

	var created memberdomain.Member
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := s.enroller.Insert(ctx, tx, registration.NewMember{
			IdentityID:  identityID,
			Email:       email,
			DisplayName: name,
			Role:        role.User,
			ReferrerID:  &referrerID,
		})
		if err != nil {
			return err
		}
		now := s.clock.Now()
		affected, err := s.repo.Respond(ctx, tx, inv.ID, domain.StatusAccepted, &m.ID, now)
		if err != nil {
			return err
		}
		if affected == 0 {
			return domain.ErrAlreadyResponded
		}
		if _, err := s.members.MarkEmailVerified(ctx, tx, m.ID, now); err != nil {
			return err
		}
		m.EmailVerifiedAt = &now

		if _, err := s.commission.Settle(ctx, tx, commission.SettleRequest{
			InviterID:   referrerID,
			NewMemberID: m.ID,
			Role:        m.Role,
		}); err != nil {
			return err
		}
		created = m
		return nil
	})
	if err != nil {
		return memberdomain.Member{}, err
	}

	s.metrics.RecordRegistration(ctx, sourceInvitation, created.Role.String())
	s.log.Info("invitation accepted",
		zap.String("invitation_id", inv.ID.String()),
		zap.String("member_id", created.ID.String()),
	)
	return created, nil
}

func (s *Service) Decline(ctx context.Context, token string) (domain.Invitation, error) {
	inv, err := s.pending(ctx, token)
	if err != nil {
		return domain.Invitation{}, err
	}
	now := s.clock.Now()
	affected, err := s.repo.Respond(ctx, s.db, inv.ID, domain.StatusDeclined, nil, now)
	if err != nil {
		return domain.Invitation{}, err
	}
	if affected == 0 {
		return domain.Invitation{}, domain.ErrAlreadyResponded
	}
	inv.Status = domain.StatusDeclined
	inv.RespondedAt = &now
	inv.UpdatedAt = now
	return inv, nil
}

func (s *Service) ListMine(ctx context.Context, actor authorization.Actor, page pagination.Pagination) (domain.ListResponse, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectInvitation, authorization.ActionInvitationCreate); err != nil {
		return domain.ListResponse{}, err
	}

	var cursor *pagination.Cursor
	if token := strings.TrimSpace(page.PageToken); token != "" {
		decoded, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListResponse{}, err
		}
		cursor = decoded
	}

	limit := page.Size()
	items, err := s.repo.ListByReferrer(ctx, s.db, actor.ID, cursor, limit)
	if err != nil {
		return domain.ListResponse{}, err
	}
	items, pageInfo := pagination.Trim(items, limit, func(i *domain.Invitation) pagination.Cursor {
		return pagination.Cursor{ID: i.ID.String(), CreatedAt: i.CreatedAt.Format(time.RFC3339Nano)}
	})

	out := make([]domain.Invitation, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return domain.ListResponse{PageInfo: pageInfo, Invitations: out}, nil
}

func (s *Service) pending(ctx context.Context, token string) (domain.Invitation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Invitation{}, domain.ErrInvalidToken
	}
	inv, err := s.repo.FindByTokenHash(ctx, s.db, hashToken(token))
	if err != nil {
		return domain.Invitation{}, err
	}
	if inv == nil {
		return domain.Invitation{}, domain.ErrInvalidToken
	}
	if inv.Status != domain.StatusPending {
		return domain.Invitation{}, domain.ErrAlreadyResponded
	}
	if inv.Expired(s.clock.Now()) {
		return domain.Invitation{}, domain.ErrExpired
	}
	return *inv, nil
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
