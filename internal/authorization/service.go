package authorization

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/vervex/internal/role"
	"github.com/smallbiznis/vervex/pkg/errs"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

var Module = fx.Module("authorization",
	fx.Provide(NewEnforcer),
	fx.Provide(NewService),
)

const (
	ObjectCodeRequest  = "code_request"
	ObjectMember       = "member"
	ObjectInvitation   = "invitation"
	ObjectRegistration = "registration"
	ObjectAuditLog     = "audit_log"
)

const (
	ActionCodeRequestCreate   = "code_request.create"
	ActionCodeRequestView     = "code_request.view"
	ActionCodeRequestViewAll  = "code_request.view_all"
	ActionCodeRequestGenerate = "code_request.generate"
	ActionCodeRequestReject   = "code_request.reject"

	ActionMemberViewAll    = "member.view_all"
	ActionMemberChangeRole = "member.change_role"
	ActionMemberSetStatus  = "member.set_status"
	ActionMemberCreate     = "member.create"
	ActionMemberDelete     = "member.delete"
	ActionMemberResend     = "member.resend_verification"

	ActionInvitationCreate = "invitation.create"

	ActionRegistrationRedeem = "registration.redeem"

	ActionAuditLogView = "audit_log.view"
)

var (
	ErrForbidden    = errs.New(errs.KindPermissionDenied, "forbidden")
	ErrInvalidActor = errs.New(errs.KindUnauthenticated, "invalid_actor")
)

// Actor is the authenticated member performing an operation.
type Actor struct {
	ID   snowflake.ID
	Role role.Role
}

type Service interface {
	Authorize(ctx context.Context, actor Actor, object string, action string) error
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer builds a casbin enforcer persisted through gorm.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	return enforcer, nil
}

// NewMemoryEnforcer builds an enforcer without persistence.
func NewMemoryEnforcer() (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(log *zap.Logger, enforcer *casbin.SyncedEnforcer) Service {
	return &ServiceImpl{
		log:      log.Named("authorization.service"),
		enforcer: enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor Actor, object string, action string) error {
	if actor.ID == 0 || !actor.Role.Valid() {
		return ErrInvalidActor
	}

	allowed, err := s.enforcer.Enforce(subject(actor.Role), object, action)
	if err != nil {
		return fmt.Errorf("enforce %s: %w", action, err)
	}
	if !allowed {
		s.log.Info("authorization denied",
			zap.String("actor_id", actor.ID.String()),
			zap.String("role", string(actor.Role)),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func subject(r role.Role) string {
	return "role:" + string(r)
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	groupings := [][]string{
		// Purchasable tiers and plain users are all members.
		{subject(role.User), "role:member"},
		{subject(role.VIP), "role:member"},
		{subject(role.Ambassador), "role:member"},
		{subject(role.Supreme), "role:member"},

		// Staff hierarchy.
		{subject(role.Cashier), "role:member"},
		{subject(role.Admin), subject(role.Cashier)},
		{subject(role.Superadmin), subject(role.Admin)},
	}
	for _, g := range groupings {
		if _, err := enforcer.AddGroupingPolicy(g[0], g[1]); err != nil {
			return err
		}
	}

	policies := [][]string{
		{"role:member", ObjectCodeRequest, ActionCodeRequestCreate},
		{"role:member", ObjectCodeRequest, ActionCodeRequestView},
		{"role:member", ObjectInvitation, ActionInvitationCreate},
		{"role:member", ObjectRegistration, ActionRegistrationRedeem},

		{subject(role.Cashier), ObjectCodeRequest, ActionCodeRequestViewAll},
		{subject(role.Cashier), ObjectMember, ActionMemberViewAll},
		{subject(role.Cashier), ObjectMember, ActionMemberResend},

		{subject(role.Admin), ObjectCodeRequest, ActionCodeRequestGenerate},
		{subject(role.Admin), ObjectCodeRequest, ActionCodeRequestReject},
		{subject(role.Admin), ObjectMember, ActionMemberChangeRole},
		{subject(role.Admin), ObjectMember, ActionMemberSetStatus},
		{subject(role.Admin), ObjectAuditLog, ActionAuditLogView},

		{subject(role.Superadmin), ObjectMember, ActionMemberCreate},
		{subject(role.Superadmin), ObjectMember, ActionMemberDelete},
	}
	for _, p := range policies {
		if _, err := enforcer.AddPolicy(p[0], p[1], p[2]); err != nil {
			return err
		}
	}
	return nil
}
