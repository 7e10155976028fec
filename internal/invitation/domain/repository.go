package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vervex/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, inv *Invitation) error
	FindByTokenHash(ctx context.Context, db *gorm.DB, hash string) (*Invitation, error)
	ListByReferrer(ctx context.Context, db *gorm.DB, referrerID snowflake.ID, cursor *pagination.Cursor, limit int) ([]*Invitation, error)
	// Respond moves a pending invitation to status and reports rows affected.
	Respond(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, memberID *snowflake.ID, now time.Time) (int64, error)
}
