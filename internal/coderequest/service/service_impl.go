package service

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/vervex/internal/audit/domain"
	"github.com/smallbiznis/vervex/internal/audit/masking"
	"github.com/smallbiznis/vervex/internal/authorization"
	"github.com/smallbiznis/vervex/internal/clock"
	"github.com/smallbiznis/vervex/internal/codegen"
	"github.com/smallbiznis/vervex/internal/coderequest/domain"
	memberdomain "github.com/smallbiznis/vervex/internal/member/domain"
	obsmetrics "github.com/smallbiznis/vervex/internal/observability/metrics"
	"github.com/smallbiznis/vervex/internal/pricing"
	"github.com/smallbiznis/vervex/internal/role"
	dbutil "github.com/smallbiznis/vervex/pkg/db"
	"github.com/smallbiznis/vervex/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Pricing pricing.Source
	Codes   *codegen.Generator
	Authz   authorization.Service
	Audit   auditdomain.Service
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	pricing pricing.Source
	codes   *codegen.Generator
	authz   authorization.Service
	audit   auditdomain.Service
	metrics *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("coderequest.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		pricing: p.Pricing,
		codes:   p.Codes,
		authz:   p.Authz,
		audit:   p.Audit,
		metrics: p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, actor authorization.Actor, req domain.CreateRequest) (domain.CodeRequest, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectCodeRequest, authorization.ActionCodeRequestCreate); err != nil {
		return domain.CodeRequest{}, err
	}

	r, err := role.Parse(req.Role)
	if err != nil {
		return domain.CodeRequest{}, err
	}
	price, ok := s.pricing.Current().PriceFor(r)
	if !ok {
		return domain.CodeRequest{}, domain.ErrRoleNotPurchasable
	}
	invite, err := normalizeInvite(req.Invite)
	if err != nil {
		return domain.CodeRequest{}, err
	}

	now := s.clock.Now()
	item := domain.CodeRequest{
		ID:        s.genID.Generate(),
		InviterID: actor.ID,
		Role:      r,
		Price:     price,
		Invite:    invite,
		Status:    domain.StatusPendingReceipt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, &item); err != nil {
		return domain.CodeRequest{}, err
	}

	s.metrics.RecordCodeRequest(ctx, r.String())
	s.log.Info("code request created",
		zap.String("code_request_id", item.ID.String()),
		zap.String("inviter_id", actor.ID.String()),
		zap.String("role", r.String()),
		zap.Int64("price", int64(price)),
	)
	return item, nil
}

func (s *Service) AttachReceipt(ctx context.Context, actor authorization.Actor, req domain.AttachReceiptRequest) (domain.CodeRequest, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return domain.CodeRequest{}, err
	}
	receipt, err := normalizeReceiptURL(req.ReceiptURL)
	if err != nil {
		return domain.CodeRequest{}, err
	}

	current, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return domain.CodeRequest{}, err
	}
	from := []domain.Status{domain.StatusPendingReceipt, domain.StatusWaitingForCodeGeneration}
	if !slices.Contains(from, current.Status) {
		return domain.CodeRequest{}, domain.ErrInvalidTransition
	}

	now := s.clock.Now()
	affected, err := s.repo.Transition(ctx, s.db, domain.Guard{ID: id, InviterID: &actor.ID, From: from}, map[string]any{
		"receipt_url":         receipt,
		"receipt_attached_at": now,
		"status":              domain.StatusWaitingForCodeGeneration,
		"updated_at":          now,
	})
	if err != nil {
		return domain.CodeRequest{}, err
	}
	if affected == 0 {
		return domain.CodeRequest{}, domain.ErrInvalidTransition
	}
	return s.load(ctx, s.db, id)
}

func (s *Service) SuggestCode(ctx context.Context, actor authorization.Actor, rawID string) (string, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectCodeRequest, authorization.ActionCodeRequestGenerate); err != nil {
		return "", err
	}
	id, err := parseID(rawID)
	if err != nil {
		return "", err
	}
	current, err := s.load(ctx, s.db, id)
	if err != nil {
		return "", err
	}
	return s.codes.Unique(ctx, current.Role, func(ctx context.Context, code string) (bool, error) {
		return s.repo.CodeExists(ctx, s.db, code)
	})
}

func (s *Service) GenerateCode(ctx context.Context, actor authorization.Actor, req domain.GenerateCodeRequest) (domain.CodeRequest, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectCodeRequest, authorization.ActionCodeRequestGenerate); err != nil {
		return domain.CodeRequest{}, err
	}
	id, err := parseID(req.ID)
	if err != nil {
		return domain.CodeRequest{}, err
	}

	var supplied string
	if strings.TrimSpace(req.Code) != "" {
		supplied, err = codegen.Normalize(req.Code)
		if err != nil {
			return domain.CodeRequest{}, err
		}
	}

	var issued domain.CodeRequest
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.GeneratedCode != nil {
			return domain.ErrCodeAlreadyGenerated
		}
		if current.Status != domain.StatusWaitingForCodeGeneration {
			return domain.ErrInvalidTransition
		}

		code := supplied
		if code == "" {
			code, err = s.codes.Unique(ctx, current.Role, func(ctx context.Context, candidate string) (bool, error) {
				return s.repo.CodeExists(ctx, tx, candidate)
			})
			if err != nil {
				return err
			}
		} else {
			taken, err := s.repo.CodeExists(ctx, tx, code)
			if err != nil {
				return err
			}
			if taken {
				return domain.ErrCodeTaken
			}
		}

		now := s.clock.Now()
		affected, err := s.repo.Transition(ctx, tx, domain.Guard{
			ID:       id,
			From:     []domain.Status{domain.StatusWaitingForCodeGeneration},
			Unissued: true,
		}, map[string]any{
			"generated_code":    code,
			"generated_by":      actor.ID,
			"code_generated_at": now,
			"status":            domain.StatusCodeGenerated,
			"updated_at":        now,
		})
		if err != nil {
			if dbutil.IsDuplicateKeyErr(err) {
				return domain.ErrCodeTaken
			}
			return err
		}
		if affected == 0 {
			return domain.ErrCodeAlreadyGenerated
		}

		if err := s.audit.Record(ctx, tx, auditdomain.Entry{
			ActorRole:  actor.Role.String(),
			ActorID:    actor.ID.String(),
			Action:     authorization.ActionCodeRequestGenerate,
			TargetType: authorization.ObjectCodeRequest,
			TargetID:   id.String(),
			Metadata: map[string]any{
				"code":     masking.MaskCode(code),
				"role":     current.Role.String(),
				"supplied": supplied != "",
			},
		}); err != nil {
			return err
		}

		issued, err = s.load(ctx, tx, id)
		return err
	})
	if err != nil {
		return domain.CodeRequest{}, err
	}

	s.metrics.RecordCodeIssued(ctx, issued.Role.String())
	s.log.Info("activation code issued",
		zap.String("code_request_id", id.String()),
		zap.String("admin_id", actor.ID.String()),
		zap.String("code", masking.MaskCode(issued.Code())),
	)
	return issued, nil
}

func (s *Service) Reject(ctx context.Context, actor authorization.Actor, req domain.RejectRequest) (domain.CodeRequest, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectCodeRequest, authorization.ActionCodeRequestReject); err != nil {
		return domain.CodeRequest{}, err
	}
	id, err := parseID(req.ID)
	if err != nil {
		return domain.CodeRequest{}, err
	}
	reason := strings.TrimSpace(req.Reason)

	var rejected domain.CodeRequest
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if !current.Status.Abandonable() {
			return domain.ErrInvalidTransition
		}

		now := s.clock.Now()
		updates := map[string]any{
			"status":     domain.StatusRejected,
			"closed_at":  now,
			"updated_at": now,
		}
		if reason != "" {
			updates["rejection_reason"] = reason
		}
		affected, err := s.repo.Transition(ctx, tx, domain.Guard{
			ID:       id,
			From:     []domain.Status{domain.StatusPendingReceipt, domain.StatusWaitingForCodeGeneration},
			Unissued: true,
		}, updates)
		if err != nil {
			return err
		}
		if affected == 0 {
			return domain.ErrInvalidTransition
		}

		if err := s.audit.Record(ctx, tx, auditdomain.Entry{
			ActorRole:  actor.Role.String(),
			ActorID:    actor.ID.String(),
			Action:     authorization.ActionCodeRequestReject,
			TargetType: authorization.ObjectCodeRequest,
			TargetID:   id.String(),
			Metadata:   map[string]any{"reason": reason, "from": string(current.Status)},
		}); err != nil {
			return err
		}
		rejected, err = s.load(ctx, tx, id)
		return err
	})
	if err != nil {
		return domain.CodeRequest{}, err
	}
	return rejected, nil
}

func (s *Service) Cancel(ctx context.Context, actor authorization.Actor, rawID string) (domain.CodeRequest, error) {
	id, err := parseID(rawID)
	if err != nil {
		return domain.CodeRequest{}, err
	}
	current, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return domain.CodeRequest{}, err
	}
	if !current.Status.Abandonable() {
		return domain.CodeRequest{}, domain.ErrInvalidTransition
	}

	now := s.clock.Now()
	affected, err := s.repo.Transition(ctx, s.db, domain.Guard{
		ID:        id,
		InviterID: &actor.ID,
		From:      []domain.Status{domain.StatusPendingReceipt, domain.StatusWaitingForCodeGeneration},
		Unissued:  true,
	}, map[string]any{
		"status":     domain.StatusCancelled,
		"closed_at":  now,
		"updated_at": now,
	})
	if err != nil {
		return domain.CodeRequest{}, err
	}
	if affected == 0 {
		return domain.CodeRequest{}, domain.ErrInvalidTransition
	}
	return s.load(ctx, s.db, id)
}

func (s *Service) Get(ctx context.Context, actor authorization.Actor, rawID string) (domain.CodeRequest, error) {
	id, err := parseID(rawID)
	if err != nil {
		return domain.CodeRequest{}, err
	}
	item, err := s.load(ctx, s.db, id)
	if err != nil {
		return domain.CodeRequest{}, err
	}
	if item.InviterID == actor.ID {
		return item, nil
	}
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectCodeRequest, authorization.ActionCodeRequestViewAll); err != nil {
		if errors.Is(err, authorization.ErrForbidden) {
			return domain.CodeRequest{}, domain.ErrNotFound
		}
		return domain.CodeRequest{}, err
	}
	return item, nil
}

func (s *Service) ListMine(ctx context.Context, actor authorization.Actor, req domain.ListRequest) (domain.ListResponse, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectCodeRequest, authorization.ActionCodeRequestView); err != nil {
		return domain.ListResponse{}, err
	}
	filter := domain.ListFilter{InviterID: &actor.ID}
	if strings.TrimSpace(req.Status) != "" {
		status, err := domain.ParseStatus(req.Status)
		if err != nil {
			return domain.ListResponse{}, err
		}
		filter.Status = status
	}
	return s.list(ctx, filter, req.Pagination)
}

func (s *Service) ListByStatus(ctx context.Context, actor authorization.Actor, req domain.ListRequest) (domain.ListResponse, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectCodeRequest, authorization.ActionCodeRequestViewAll); err != nil {
		return domain.ListResponse{}, err
	}
	status := domain.StatusWaitingForCodeGeneration
	if strings.TrimSpace(req.Status) != "" {
		parsed, err := domain.ParseStatus(req.Status)
		if err != nil {
			return domain.ListResponse{}, err
		}
		status = parsed
	}
	return s.list(ctx, domain.ListFilter{Status: status}, req.Pagination)
}

func (s *Service) FindByCode(ctx context.Context, db *gorm.DB, code string) (domain.CodeRequest, error) {
	normalized, err := codegen.Normalize(code)
	if err != nil {
		return domain.CodeRequest{}, err
	}
	if db == nil {
		db = s.db
	}
	item, err := s.repo.FindByCode(ctx, db, normalized)
	if err != nil {
		return domain.CodeRequest{}, err
	}
	if item == nil {
		return domain.CodeRequest{}, domain.ErrCodeNotFound
	}
	return *item, nil
}

func (s *Service) MarkRegistered(ctx context.Context, tx *gorm.DB, id, memberID snowflake.ID) error {
	now := s.clock.Now()
	affected, err := s.repo.Transition(ctx, tx, domain.Guard{
		ID:   id,
		From: []domain.Status{domain.StatusCodeGenerated},
	}, map[string]any{
		"status":               domain.StatusMemberRegistered,
		"registered_member_id": memberID,
		"registered_at":        now,
		"updated_at":           now,
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotRedeemable
	}
	return nil
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
	items, pageInfo := pagination.Trim(items, limit, func(c *domain.CodeRequest) pagination.Cursor {
		return pagination.Cursor{ID: c.ID.String(), CreatedAt: c.CreatedAt.Format(time.RFC3339Nano)}
	})

	out := make([]domain.CodeRequest, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return domain.ListResponse{PageInfo: pageInfo, CodeRequests: out}, nil
}

func (s *Service) load(ctx context.Context, db *gorm.DB, id snowflake.ID) (domain.CodeRequest, error) {
	item, err := s.repo.FindByID(ctx, db, id)
	if err != nil {
		return domain.CodeRequest{}, err
	}
	if item == nil {
		return domain.CodeRequest{}, domain.ErrNotFound
	}
	return *item, nil
}

// loadOwned hides requests owned by someone else behind NotFound.
func (s *Service) loadOwned(ctx context.Context, actor authorization.Actor, id snowflake.ID) (domain.CodeRequest, error) {
	item, err := s.load(ctx, s.db, id)
	if err != nil {
		return domain.CodeRequest{}, err
	}
	if item.InviterID != actor.ID {
		return domain.CodeRequest{}, domain.ErrNotFound
	}
	return item, nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func normalizeInvite(in domain.InviteData) (domain.InviteData, error) {
	out := domain.InviteData{
		Name:    strings.TrimSpace(in.Name),
		Email:   memberdomain.NormalizeEmail(in.Email),
		Phone:   strings.TrimSpace(in.Phone),
		Address: strings.TrimSpace(in.Address),
	}
	if out.Name == "" || out.Email == "" || out.Phone == "" {
		return domain.InviteData{}, domain.ErrInvalidProfile
	}
	return out, nil
}

func normalizeReceiptURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "https" && parsed.Scheme != "http") {
		return "", domain.ErrInvalidReceipt
	}
	return parsed.String(), nil
}
