package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/vervex/internal/audit/domain"
	"github.com/smallbiznis/vervex/internal/clock"
	obscontext "github.com/smallbiznis/vervex/internal/observability/context"
	"github.com/smallbiznis/vervex/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, db *gorm.DB, entry auditdomain.Entry) error {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}
	if db == nil {
		db = s.db
	}

	targetType := strings.TrimSpace(entry.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}
	actorRole := strings.TrimSpace(entry.ActorRole)
	if actorRole == "" {
		actorRole = "system"
	}

	payload := datatypes.JSONMap{}
	for key, value := range entry.Metadata {
		if key == "" {
			continue
		}
		payload[key] = value
	}

	log := &auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorRole:  actorRole,
		ActorID:    optional(entry.ActorID),
		Action:     action,
		TargetType: targetType,
		TargetID:   optional(entry.TargetID),
		Metadata:   payload,
		RequestID:  obscontext.RequestIDFromContext(ctx),
		CreatedAt:  s.clock.Now(),
	}

	if err := s.repo.Insert(ctx, db, log); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListRequest) (auditdomain.ListResponse, error) {
	var cursor *pagination.Cursor
	if token := strings.TrimSpace(req.PageToken); token != "" {
		decoded, err := pagination.DecodeCursor(token)
		if err != nil {
			return auditdomain.ListResponse{}, err
		}
		cursor = decoded
	}

	limit := req.Size()
	items, err := s.repo.List(ctx, s.db, strings.TrimSpace(req.Action), strings.TrimSpace(req.TargetID), cursor, limit)
	if err != nil {
		return auditdomain.ListResponse{}, err
	}

	items, pageInfo := pagination.Trim(items, limit, func(l *auditdomain.AuditLog) pagination.Cursor {
		return pagination.Cursor{ID: l.ID.String(), CreatedAt: l.CreatedAt.Format(time.RFC3339Nano)}
	})

	logs := make([]auditdomain.AuditLog, 0, len(items))
	for _, item := range items {
		logs = append(logs, *item)
	}
	return auditdomain.ListResponse{PageInfo: pageInfo, AuditLogs: logs}, nil
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
