package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vervex/internal/pricing"
	"github.com/smallbiznis/vervex/internal/role"
	"github.com/smallbiznis/vervex/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListFilter struct {
	Role       role.Role
	Status     Status
	ReferrerID *snowflake.ID
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, member *Member) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Member, error)
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*Member, error)
	FindByIdentityID(ctx context.Context, db *gorm.DB, identityID string) (*Member, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter, cursor *pagination.Cursor, limit int) ([]*Member, error)
	UpdateRole(ctx context.Context, db *gorm.DB, id snowflake.ID, r role.Role, now time.Time) (int64, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, now time.Time) (int64, error)
	MarkEmailVerified(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (int64, error)
	// CreditDirectInvite applies a commission as a single atomic increment
	// and only touches active members.
	CreditDirectInvite(ctx context.Context, db *gorm.DB, id snowflake.ID, amount pricing.Money, now time.Time) (int64, error)
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error)
}
