package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vervex/internal/invitation/domain"
	"github.com/smallbiznis/vervex/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, inv *domain.Invitation) error {
	return db.WithContext(ctx).Create(inv).Error
}

func (r *repo) FindByTokenHash(ctx context.Context, db *gorm.DB, hash string) (*domain.Invitation, error) {
	var item domain.Invitation
	if err := db.WithContext(ctx).Where("token_hash = ?", hash).Limit(1).Find(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListByReferrer(ctx context.Context, db *gorm.DB, referrerID snowflake.ID, cursor *pagination.Cursor, limit int) ([]*domain.Invitation, error) {
	stmt := db.WithContext(ctx).Model(&domain.Invitation{}).Where("referrer_id = ?", referrerID)
	if cursor != nil {
		createdAt, err := cursor.CreatedAtTime()
		if err != nil {
			return nil, pagination.ErrInvalidPageToken
		}
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)", createdAt, createdAt, cursor.ID)
	}

	var items []*domain.Invitation
	err := stmt.Order("created_at desc, id desc").Limit(limit + 1).Find(&items).Error
	return items, err
}

func (r *repo) Respond(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.Status, memberID *snowflake.ID, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE invitations SET status = ?, member_id = ?, responded_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		status, memberID, now, now, id, domain.StatusPending,
	)
	return res.RowsAffected, res.Error
}
