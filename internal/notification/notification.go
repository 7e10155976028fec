// Package notification sends verification and invitation mail. Delivery
// failures are reported as a flag and never fail the calling workflow.
package notification

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vervex/internal/authorization"
	"github.com/smallbiznis/vervex/internal/clock"
	identitydomain "github.com/smallbiznis/vervex/internal/identity/domain"
	memberdomain "github.com/smallbiznis/vervex/internal/member/domain"
	obsmetrics "github.com/smallbiznis/vervex/internal/observability/metrics"
	"github.com/smallbiznis/vervex/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("notification.service",
	fx.Provide(New),
)

type ResendResult struct {
	EmailSent       bool `json:"email_sent"`
	AlreadyVerified bool `json:"already_verified"`
}

type Invite struct {
	Email       string
	Name        string
	InviterName string
	Link        string
	ExpiresAt   time.Time
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Members  memberdomain.Repository
	Identity identitydomain.Provider
	Email    email.Provider
	Authz    authorization.Service
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	members  memberdomain.Repository
	identity identitydomain.Provider
	email    email.Provider
	authz    authorization.Service
	metrics  *obsmetrics.Metrics
}

func New(p Params) *Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("notification.service"),
		clock:    p.Clock,
		members:  p.Members,
		identity: p.Identity,
		email:    p.Email,
		authz:    p.Authz,
		metrics:  p.Metrics,
	}
}

// SendVerification mails a fresh verification link to m and reports
// whether it was handed to the mail provider.
func (s *Service) SendVerification(ctx context.Context, m memberdomain.Member) bool {
	link, err := s.identity.IssueVerificationLink(ctx, m.IdentityID)
	if err != nil {
		s.log.Warn("failed to issue verification link",
			zap.String("member_id", m.ID.String()),
			zap.Error(err),
		)
		s.metrics.RecordEmailFailure(ctx, email.TemplateVerifyEmail)
		return false
	}

	err = s.email.SendTemplate(ctx, []string{m.Email}, email.TemplateVerifyEmail, map[string]any{
		"name": m.DisplayName,
		"link": link,
	})
	if err != nil {
		s.log.Warn("failed to send verification email",
			zap.String("member_id", m.ID.String()),
			zap.Error(err),
		)
		s.metrics.RecordEmailFailure(ctx, email.TemplateVerifyEmail)
		return false
	}
	return true
}

// ResendVerification is safe to call repeatedly. Members already verified
// get nothing.
func (s *Service) ResendVerification(ctx context.Context, actor authorization.Actor, memberID snowflake.ID) (ResendResult, error) {
	if actor.ID != memberID {
		if err := s.authz.Authorize(ctx, actor, authorization.ObjectMember, authorization.ActionMemberResend); err != nil {
			return ResendResult{}, err
		}
	}

	m, err := s.members.FindByID(ctx, s.db, memberID)
	if err != nil {
		return ResendResult{}, err
	}
	if m == nil {
		return ResendResult{}, memberdomain.ErrNotFound
	}
	if m.EmailVerified() {
		return ResendResult{AlreadyVerified: true}, nil
	}
	return ResendResult{EmailSent: s.SendVerification(ctx, *m)}, nil
}

// ConfirmVerification consumes a verification token and marks the owning
// member as verified.
func (s *Service) ConfirmVerification(ctx context.Context, token string) (memberdomain.Member, error) {
	identityID, err := s.identity.ConfirmVerification(ctx, token)
	if err != nil {
		return memberdomain.Member{}, err
	}

	m, err := s.members.FindByIdentityID(ctx, s.db, identityID)
	if err != nil {
		return memberdomain.Member{}, err
	}
	if m == nil {
		return memberdomain.Member{}, memberdomain.ErrNotFound
	}
	if _, err := s.members.MarkEmailVerified(ctx, s.db, m.ID, s.clock.Now()); err != nil {
		return memberdomain.Member{}, err
	}

	updated, err := s.members.FindByID(ctx, s.db, m.ID)
	if err != nil {
		return memberdomain.Member{}, err
	}
	if updated == nil {
		return memberdomain.Member{}, errors.New("notification: member vanished during verification")
	}
	return *updated, nil
}

// SendInvitation mails an invitation link and reports whether it went out.
func (s *Service) SendInvitation(ctx context.Context, invite Invite) bool {
	err := s.email.SendTemplate(ctx, []string{invite.Email}, email.TemplateInviteMember, map[string]any{
		"name":         invite.Name,
		"inviter_name": invite.InviterName,
		"link":         invite.Link,
		"expires_at":   invite.ExpiresAt.UTC().Format("02 Jan 2006"),
	})
	if err != nil {
		s.log.Warn("failed to send invitation email", zap.Error(err))
		s.metrics.RecordEmailFailure(ctx, email.TemplateInviteMember)
		return false
	}
	return true
}
