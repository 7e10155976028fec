package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vervex/internal/clock"
	ledgerdomain "github.com/smallbiznis/vervex/internal/ledger/domain"
	"github.com/smallbiznis/vervex/internal/pricing"
	dbutil "github.com/smallbiznis/vervex/pkg/db"
	"github.com/smallbiznis/vervex/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Append(ctx context.Context, tx *gorm.DB, t *ledgerdomain.Transaction) error {
	if t == nil || !t.Type.Valid() {
		return ledgerdomain.ErrInvalidType
	}
	if t.Amount <= 0 {
		return ledgerdomain.ErrInvalidAmount
	}
	if t.UserID == 0 {
		return ledgerdomain.ErrInvalidUser
	}
	if tx == nil {
		tx = s.db
	}

	if t.ID == 0 {
		t.ID = s.genID.Generate()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.clock.Now()
	}

	if err := tx.WithContext(ctx).Create(t).Error; err != nil {
		if dbutil.IsDuplicateKeyErr(err) {
			return ledgerdomain.ErrAlreadySettled
		}
		return err
	}

	s.log.Debug("transaction appended",
		zap.String("transaction_id", t.ID.String()),
		zap.String("type", string(t.Type)),
		zap.Int64("amount", int64(t.Amount)),
		zap.String("user_id", t.UserID.String()),
	)
	return nil
}

func (s *Service) ListByUser(ctx context.Context, userID snowflake.ID, page pagination.Pagination) (ledgerdomain.ListResponse, error) {
	if userID == 0 {
		return ledgerdomain.ListResponse{}, ledgerdomain.ErrInvalidUser
	}

	stmt := s.db.WithContext(ctx).Model(&ledgerdomain.Transaction{}).Where("user_id = ?", userID)
	if token := strings.TrimSpace(page.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return ledgerdomain.ListResponse{}, err
		}
		createdAt, _ := cursor.CreatedAtTime()
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)", createdAt, createdAt, cursor.ID)
	}

	limit := page.Size()
	var items []*ledgerdomain.Transaction
	if err := stmt.Order("created_at desc, id desc").Limit(limit + 1).Find(&items).Error; err != nil {
		return ledgerdomain.ListResponse{}, err
	}

	items, pageInfo := pagination.Trim(items, limit, func(t *ledgerdomain.Transaction) pagination.Cursor {
		return pagination.Cursor{ID: t.ID.String(), CreatedAt: t.CreatedAt.Format(time.RFC3339Nano)}
	})

	out := make([]ledgerdomain.Transaction, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return ledgerdomain.ListResponse{PageInfo: pageInfo, Transactions: out}, nil
}

func (s *Service) SumByUser(ctx context.Context, userID snowflake.ID, t ledgerdomain.TransactionType) (pricing.Money, error) {
	if !t.Valid() {
		return 0, ledgerdomain.ErrInvalidType
	}
	var total int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE user_id = ? AND type = ?`,
		userID, t,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return pricing.Money(total), nil
}
