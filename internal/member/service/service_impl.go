package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/vervex/internal/audit/domain"
	"github.com/smallbiznis/vervex/internal/audit/masking"
	"github.com/smallbiznis/vervex/internal/authorization"
	"github.com/smallbiznis/vervex/internal/clock"
	"github.com/smallbiznis/vervex/internal/member/domain"
	"github.com/smallbiznis/vervex/internal/role"
	"github.com/smallbiznis/vervex/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
	Authz authorization.Service
	Audit auditdomain.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
	authz authorization.Service
	audit auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("member.service"),
		clock: p.Clock,
		repo:  p.Repo,
		authz: p.Authz,
		audit: p.Audit,
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Member, error) {
	if id <= 0 {
		return domain.Member{}, domain.ErrInvalidID
	}
	return s.load(ctx, s.db, id)
}

func (s *Service) GetByEmail(ctx context.Context, email string) (domain.Member, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return domain.Member{}, domain.ErrInvalidEmail
	}
	item, err := s.repo.FindByEmail(ctx, s.db, email)
	if err != nil {
		return domain.Member{}, err
	}
	if item == nil {
		return domain.Member{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) GetByIdentity(ctx context.Context, identityID string) (domain.Member, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return domain.Member{}, domain.ErrNotFound
	}
	item, err := s.repo.FindByIdentityID(ctx, s.db, identityID)
	if err != nil {
		return domain.Member{}, err
	}
	if item == nil {
		return domain.Member{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) List(ctx context.Context, actor authorization.Actor, req domain.ListRequest) (domain.ListResponse, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectMember, authorization.ActionMemberViewAll); err != nil {
		return domain.ListResponse{}, err
	}

	filter := domain.ListFilter{}
	if value := strings.TrimSpace(req.Role); value != "" {
		r, err := role.Parse(value)
		if err != nil {
			return domain.ListResponse{}, err
		}
		filter.Role = r
	}
	if value := strings.TrimSpace(req.Status); value != "" {
		status, err := domain.ParseStatus(value)
		if err != nil {
			return domain.ListResponse{}, err
		}
		filter.Status = status
	}
	if value := strings.TrimSpace(req.ReferrerID); value != "" {
		referrerID, err := domain.ParseID(value)
		if err != nil {
			return domain.ListResponse{}, err
		}
		filter.ReferrerID = &referrerID
	}

	return s.list(ctx, filter, req.Pagination)
}

func (s *Service) ListDownline(ctx context.Context, referrerID snowflake.ID, page pagination.Pagination) (domain.ListResponse, error) {
	if referrerID <= 0 {
		return domain.ListResponse{}, domain.ErrInvalidID
	}
	return s.list(ctx, domain.ListFilter{ReferrerID: &referrerID}, page)
}

func (s *Service) list(ctx context.Context, filter domain.ListFilter, page pagination.Pagination) (domain.ListResponse, error) {
	var cursor *pagination.Cursor
	if token := strings.TrimSpace(page.PageToken); token != "" {
		decoded, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListResponse{}, err
		}
		cursor = decoded
	}

	limit := page.Size()
	items, err := s.repo.List(ctx, s.db, filter, cursor, limit)
	if err != nil {
		return domain.ListResponse{}, err
	}

	items, pageInfo := pagination.Trim(items, limit, func(m *domain.Member) pagination.Cursor {
		return pagination.Cursor{ID: m.ID.String(), CreatedAt: m.CreatedAt.Format(time.RFC3339Nano)}
	})

	members := make([]domain.Member, 0, len(items))
	for _, item := range items {
		members = append(members, *item)
	}
	return domain.ListResponse{PageInfo: pageInfo, Members: members}, nil
}

func (s *Service) ChangeRole(ctx context.Context, actor authorization.Actor, req domain.ChangeRoleRequest) (domain.Member, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectMember, authorization.ActionMemberChangeRole); err != nil {
		return domain.Member{}, err
	}

	id, err := domain.ParseID(strings.TrimSpace(req.ID))
	if err != nil {
		return domain.Member{}, err
	}
	newRole, err := role.Parse(req.Role)
	if err != nil {
		return domain.Member{}, err
	}
	if id == actor.ID {
		return domain.Member{}, domain.ErrSelfAction
	}

	var updated domain.Member
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if grantsOrRevokesAdmin(current.Role, newRole) && actor.Role != role.Superadmin {
			return domain.ErrStaffRoleGrant
		}
		if current.Role == newRole {
			updated = current
			return nil
		}

		if _, err := s.repo.UpdateRole(ctx, tx, id, newRole, s.clock.Now()); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, tx, auditdomain.Entry{
			ActorRole:  actor.Role.String(),
			ActorID:    actor.ID.String(),
			Action:     authorization.ActionMemberChangeRole,
			TargetType: authorization.ObjectMember,
			TargetID:   id.String(),
			Metadata: map[string]any{
				"from": current.Role.String(),
				"to":   newRole.String(),
			},
		}); err != nil {
			return err
		}

		updated, err = s.load(ctx, tx, id)
		return err
	})
	if err != nil {
		return domain.Member{}, err
	}
	return updated, nil
}

func (s *Service) SetStatus(ctx context.Context, actor authorization.Actor, req domain.SetStatusRequest) (domain.Member, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectMember, authorization.ActionMemberSetStatus); err != nil {
		return domain.Member{}, err
	}

	id, err := domain.ParseID(strings.TrimSpace(req.ID))
	if err != nil {
		return domain.Member{}, err
	}
	status, err := domain.ParseStatus(req.Status)
	if err != nil {
		return domain.Member{}, err
	}
	if id == actor.ID {
		return domain.Member{}, domain.ErrSelfAction
	}

	var updated domain.Member
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.Status == status {
			updated = current
			return nil
		}
		if _, err := s.repo.UpdateStatus(ctx, tx, id, status, s.clock.Now()); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, tx, auditdomain.Entry{
			ActorRole:  actor.Role.String(),
			ActorID:    actor.ID.String(),
			Action:     authorization.ActionMemberSetStatus,
			TargetType: authorization.ObjectMember,
			TargetID:   id.String(),
			Metadata:   map[string]any{"status": string(status)},
		}); err != nil {
			return err
		}
		updated, err = s.load(ctx, tx, id)
		return err
	})
	if err != nil {
		return domain.Member{}, err
	}
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, actor authorization.Actor, rawID string) (domain.Member, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectMember, authorization.ActionMemberDelete); err != nil {
		return domain.Member{}, err
	}

	id, err := domain.ParseID(strings.TrimSpace(rawID))
	if err != nil {
		return domain.Member{}, err
	}
	if id == actor.ID {
		return domain.Member{}, domain.ErrSelfAction
	}

	var removed domain.Member
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		affected, err := s.repo.Delete(ctx, tx, id)
		if err != nil {
			return err
		}
		if affected == 0 {
			return domain.ErrNotFound
		}
		removed = current
		return s.audit.Record(ctx, tx, auditdomain.Entry{
			ActorRole:  actor.Role.String(),
			ActorID:    actor.ID.String(),
			Action:     authorization.ActionMemberDelete,
			TargetType: authorization.ObjectMember,
			TargetID:   id.String(),
			Metadata: map[string]any{
				"email": masking.MaskEmail(current.Email),
				"role":  current.Role.String(),
			},
		})
	})
	if err != nil {
		return domain.Member{}, err
	}

	s.log.Info("member deleted",
		zap.String("member_id", id.String()),
		zap.String("actor_id", actor.ID.String()),
	)
	return removed, nil
}

func (s *Service) load(ctx context.Context, db *gorm.DB, id snowflake.ID) (domain.Member, error) {
	item, err := s.repo.FindByID(ctx, db, id)
	if err != nil {
		return domain.Member{}, err
	}
	if item == nil {
		return domain.Member{}, domain.ErrNotFound
	}
	return *item, nil
}

func grantsOrRevokesAdmin(from, to role.Role) bool {
	return from == role.Admin || from == role.Superadmin || to == role.Admin || to == role.Superadmin
}
