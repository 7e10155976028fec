// Package commission credits an inviter when someone they referred
// registers.
package commission

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vervex/internal/clock"
	ledgerdomain "github.com/smallbiznis/vervex/internal/ledger/domain"
	memberdomain "github.com/smallbiznis/vervex/internal/member/domain"
	obsmetrics "github.com/smallbiznis/vervex/internal/observability/metrics"
	"github.com/smallbiznis/vervex/internal/pricing"
	"github.com/smallbiznis/vervex/internal/role"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("commission.service",
	fx.Provide(New),
)

type SettleRequest struct {
	InviterID   snowflake.ID
	NewMemberID snowflake.ID
	// Role is the role that was purchased; it selects the commission.
	Role          role.Role
	CodeRequestID *snowflake.ID
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Clock   clock.Clock
	Pricing pricing.Source
	Members memberdomain.Repository
	Ledger  ledgerdomain.Service
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	clock   clock.Clock
	pricing pricing.Source
	members memberdomain.Repository
	ledger  ledgerdomain.Service
	metrics *obsmetrics.Metrics
}

func New(p Params) *Service {
	return &Service{
		log:     p.Log.Named("commission.service"),
		clock:   p.Clock,
		pricing: p.Pricing,
		members: p.Members,
		ledger:  p.Ledger,
		metrics: p.Metrics,
	}
}

// Settle credits the inviter inside tx. The balance increment and the
// ledger entry commit or roll back together with the caller's transaction.
// A zero commission leaves everything untouched and returns (nil, nil).
func (s *Service) Settle(ctx context.Context, tx *gorm.DB, req SettleRequest) (*ledgerdomain.Transaction, error) {
	ctx, span := otel.Tracer("vervex/commission").Start(ctx, "commission.Settle")
	defer span.End()
	span.SetAttributes(attribute.String("role", req.Role.String()))

	if tx == nil {
		return nil, fmt.Errorf("commission: settle requires a transaction")
	}

	amount := s.pricing.Current().CommissionFor(req.Role)
	if amount == 0 {
		s.log.Info("no commission due",
			zap.String("inviter_id", req.InviterID.String()),
			zap.String("role", req.Role.String()),
		)
		s.metrics.RecordCommission(ctx, req.Role.String(), 0)
		return nil, nil
	}

	inviter, err := s.members.FindByID(ctx, tx, req.InviterID)
	if err != nil {
		return nil, err
	}
	if inviter == nil {
		return nil, memberdomain.ErrNotFound
	}
	if !inviter.Active() {
		return nil, memberdomain.ErrInactive
	}

	affected, err := s.members.CreditDirectInvite(ctx, tx, req.InviterID, amount, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("commission: credit inviter: %w", err)
	}
	if affected == 0 {
		// The inviter was deactivated or removed after the check above.
		return nil, memberdomain.ErrInactive
	}

	record := &ledgerdomain.Transaction{
		Type:          ledgerdomain.TypeDirectInviteEarning,
		Amount:        amount,
		UserID:        req.InviterID,
		InvitedUserID: req.NewMemberID,
		Role:          inviter.Role,
		CodeRequestID: req.CodeRequestID,
	}
	if err := s.ledger.Append(ctx, tx, record); err != nil {
		return nil, err
	}

	s.metrics.RecordCommission(ctx, req.Role.String(), int64(amount))
	s.log.Info("commission settled",
		zap.String("inviter_id", req.InviterID.String()),
		zap.String("new_member_id", req.NewMemberID.String()),
		zap.String("role", req.Role.String()),
		zap.Int64("amount", int64(amount)),
	)
	return record, nil
}
