package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/vervex/internal/audit/domain"
	"github.com/smallbiznis/vervex/internal/audit/masking"
	"github.com/smallbiznis/vervex/internal/authorization"
	"github.com/smallbiznis/vervex/internal/codegen"
	coderequestdomain "github.com/smallbiznis/vervex/internal/coderequest/domain"
	"github.com/smallbiznis/vervex/internal/commission"
	identitydomain "github.com/smallbiznis/vervex/internal/identity/domain"
	ledgerdomain "github.com/smallbiznis/vervex/internal/ledger/domain"
	memberdomain "github.com/smallbiznis/vervex/internal/member/domain"
	"github.com/smallbiznis/vervex/internal/notification"
	obsmetrics "github.com/smallbiznis/vervex/internal/observability/metrics"
	"github.com/smallbiznis/vervex/internal/ratelimit"
	"github.com/smallbiznis/vervex/internal/registration/domain"
	"github.com/smallbiznis/vervex/internal/role"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sourceCode  = "code"
	sourceAdmin = "admin"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Enroller     *Enroller
	CodeRequests coderequestdomain.Service
	Commission   *commission.Service
	Members      memberdomain.Service
	Identity     identitydomain.Provider
	Notifier     *notification.Service
	Authz        authorization.Service
	Audit        auditdomain.Service
	Limiter      *ratelimit.RedeemLimiter `optional:"true"`
	Metrics      *obsmetrics.Metrics      `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	enroller     *Enroller
	codeRequests coderequestdomain.Service
	commission   *commission.Service
	members      memberdomain.Service
	identity     identitydomain.Provider
	notifier     *notification.Service
	authz        authorization.Service
	audit        auditdomain.Service
	limiter      *ratelimit.RedeemLimiter
	metrics      *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("registration.service"),
		enroller:     p.Enroller,
		codeRequests: p.CodeRequests,
		commission:   p.Commission,
		members:      p.Members,
		identity:     p.Identity,
		notifier:     p.Notifier,
		authz:        p.Authz,
		audit:        p.Audit,
		limiter:      p.Limiter,
		metrics:      p.Metrics,
	}
}

func (s *Service) RegisterFromCode(ctx context.Context, actor authorization.Actor, req domain.RedeemRequest) (domain.RedeemResult, error) {
	ctx, span := otel.Tracer("vervex/registration").Start(ctx, "registration.RegisterFromCode")
	defer span.End()

	if err := s.authz.Authorize(ctx, actor, authorization.ObjectRegistration, authorization.ActionRegistrationRedeem); err != nil {
		return domain.RedeemResult{}, err
	}
	if err := s.limiter.Allow(ctx, actor.ID.String()); err != nil {
		return domain.RedeemResult{}, err
	}

	code, err := codegen.Normalize(req.Code)
	if err != nil {
		return domain.RedeemResult{}, err
	}
	release, err := s.limiter.LockCode(ctx, code)
	if err != nil {
		return domain.RedeemResult{}, err
	}
	defer release()

	request, err := s.codeRequests.FindByCode(ctx, s.db, code)
	if err != nil {
		return domain.RedeemResult{}, err
	}
	span.SetAttributes(
		attribute.String("code_request_id", request.ID.String()),
		attribute.String("role", request.Role.String()),
	)
	if request.Status != coderequestdomain.StatusCodeGenerated {
		return domain.RedeemResult{}, coderequestdomain.ErrNotRedeemable
	}

	profile := withInviteDefaults(req.Profile, request.Invite)
	email, err := s.enroller.CheckProfile(profile.Email, profile.Password)
	if err != nil {
		return domain.RedeemResult{}, err
	}
	if err := s.enroller.EnsureNotMember(ctx, email); err != nil {
		return domain.RedeemResult{}, err
	}

	identityID, err := s.enroller.EnsureIdentity(ctx, email, profile.Password)
	if err != nil {
		return domain.RedeemResult{}, err
	}

	inviterID := request.InviterID
	requestID := request.ID
	var (
		created    memberdomain.Member
		settlement *ledgerdomain.Transaction
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := s.enroller.Insert(ctx, tx, NewMember{
			ID:          s.enroller.NextID(),
			IdentityID:  identityID,
			Email:       email,
			DisplayName: profile.DisplayName,
			Phone:       profile.Phone,
			Address:     profile.Address,
			Role:        request.Role,
			ReferrerID:  &inviterID,
		})
		if err != nil {
			return err
		}
		if err := s.codeRequests.MarkRegistered(ctx, tx, request.ID, m.ID); err != nil {
			return err
		}
		record, err := s.commission.Settle(ctx, tx, commission.SettleRequest{
			InviterID:     inviterID,
			NewMemberID:   m.ID,
			Role:          request.Role,
			CodeRequestID: &requestID,
		})
		if err != nil {
			return err
		}
		created, settlement = m, record

		return s.audit.Record(ctx, tx, auditdomain.Entry{
			ActorRole:  actor.Role.String(),
			ActorID:    actor.ID.String(),
			Action:     authorization.ActionRegistrationRedeem,
			TargetType: authorization.ObjectMember,
			TargetID:   m.ID.String(),
			Metadata: map[string]any{
				"code":            masking.MaskCode(code),
				"code_request_id": request.ID.String(),
				"inviter_id":      inviterID.String(),
				"role":            request.Role.String(),
			},
		})
	})
	if err != nil {
		s.log.Warn("code redemption failed",
			zap.String("code", masking.MaskCode(code)),
			zap.String("code_request_id", request.ID.String()),
			zap.Error(err),
		)
		return domain.RedeemResult{}, err
	}

	s.metrics.RecordRegistration(ctx, sourceCode, created.Role.String())
	s.log.Info("member registered from code",
		zap.String("member_id", created.ID.String()),
		zap.String("inviter_id", inviterID.String()),
		zap.String("code_request_id", request.ID.String()),
	)

	return domain.RedeemResult{
		Member:        created,
		CodeRequestID: request.ID.String(),
		Commission:    settlement,
		EmailSent:     s.notifier.SendVerification(ctx, created),
	}, nil
}

func (s *Service) CreateUser(ctx context.Context, actor authorization.Actor, req domain.CreateUserRequest) (domain.CreateUserResult, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectMember, authorization.ActionMemberCreate); err != nil {
		return domain.CreateUserResult{}, err
	}

	email, err := s.enroller.CheckProfile(req.Email, req.Password)
	if err != nil {
		return domain.CreateUserResult{}, err
	}
	r := role.User
	if value := strings.TrimSpace(req.Role); value != "" {
		if r, err = role.Parse(value); err != nil {
			return domain.CreateUserResult{}, err
		}
	}

	var referrerID *snowflake.ID
	if value := strings.TrimSpace(req.ReferrerID); value != "" {
		id, err := memberdomain.ParseID(value)
		if err != nil {
			return domain.CreateUserResult{}, domain.ErrInvalidReferrer
		}
		if _, err := s.members.Get(ctx, id); err != nil {
			if errors.Is(err, memberdomain.ErrNotFound) {
				return domain.CreateUserResult{}, domain.ErrReferrerMissing
			}
			return domain.CreateUserResult{}, err
		}
		referrerID = &id
	}

	if err := s.enroller.EnsureNotMember(ctx, email); err != nil {
		return domain.CreateUserResult{}, err
	}
	identityID, err := s.enroller.EnsureIdentity(ctx, email, req.Password)
	if err != nil {
		return domain.CreateUserResult{}, err
	}

	var created memberdomain.Member
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := s.enroller.Insert(ctx, tx, NewMember{
			IdentityID:  identityID,
			Email:       email,
			DisplayName: req.DisplayName,
			Phone:       req.Phone,
			Address:     req.Address,
			Role:        r,
			ReferrerID:  referrerID,
		})
		if err != nil {
			return err
		}
		created = m
		return s.audit.Record(ctx, tx, auditdomain.Entry{
			ActorRole:  actor.Role.String(),
			ActorID:    actor.ID.String(),
			Action:     authorization.ActionMemberCreate,
			TargetType: authorization.ObjectMember,
			TargetID:   m.ID.String(),
			Metadata: map[string]any{
				"email": masking.MaskEmail(email),
				"role":  r.String(),
			},
		})
	})
	if err != nil {
		return domain.CreateUserResult{}, err
	}

	s.metrics.RecordRegistration(ctx, sourceAdmin, created.Role.String())
	s.log.Info("member created by administrator",
		zap.String("member_id", created.ID.String()),
		zap.String("actor_id", actor.ID.String()),
		zap.String("role", created.Role.String()),
	)
	return domain.CreateUserResult{
		Member:    created,
		EmailSent: s.notifier.SendVerification(ctx, created),
	}, nil
}

// DeleteUser removes the member row first and then its identity. A failed
// identity delete leaves an orphan identity that registration can reuse.
func (s *Service) DeleteUser(ctx context.Context, actor authorization.Actor, id string) (memberdomain.Member, error) {
	removed, err := s.members.Delete(ctx, actor, id)
	if err != nil {
		return memberdomain.Member{}, err
	}
	if err := s.identity.DeleteIdentity(ctx, removed.IdentityID); err != nil {
		s.log.Warn("identity delete failed",
			zap.String("member_id", removed.ID.String()),
			zap.String("identity_id", removed.IdentityID),
			zap.Error(err),
		)
	}
	return removed, nil
}

func withInviteDefaults(p domain.Profile, invite coderequestdomain.InviteData) domain.Profile {
	if strings.TrimSpace(p.Email) == "" {
		p.Email = invite.Email
	}
	if strings.TrimSpace(p.DisplayName) == "" {
		p.DisplayName = invite.Name
	}
	if strings.TrimSpace(p.Phone) == "" {
		p.Phone = invite.Phone
	}
	if strings.TrimSpace(p.Address) == "" {
		p.Address = invite.Address
	}
	return p
}
