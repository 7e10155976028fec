package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vervex/internal/member/domain"
	"github.com/smallbiznis/vervex/internal/pricing"
	"github.com/smallbiznis/vervex/internal/role"
	"github.com/smallbiznis/vervex/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, member *domain.Member) error {
	return db.WithContext(ctx).Create(member).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Member, error) {
	return r.findOne(ctx, db, "id = ?", id)
}

func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.Member, error) {
	return r.findOne(ctx, db, "email = ?", email)
}

func (r *repo) FindByIdentityID(ctx context.Context, db *gorm.DB, identityID string) (*domain.Member, error) {
	return r.findOne(ctx, db, "identity_id = ?", identityID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, arg any) (*domain.Member, error) {
	var member domain.Member
	err := db.WithContext(ctx).Where(query, arg).Limit(1).Find(&member).Error
	if err != nil {
		return nil, err
	}
	if member.ID == 0 {
		return nil, nil
	}
	return &member, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter, cursor *pagination.Cursor, limit int) ([]*domain.Member, error) {
	stmt := db.WithContext(ctx).Model(&domain.Member{})
	if filter.Role != "" {
		stmt = stmt.Where("role = ?", filter.Role)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.ReferrerID != nil {
		stmt = stmt.Where("referrer_id = ?", *filter.ReferrerID)
	}
	if cursor != nil {
		createdAt, err := cursor.CreatedAtTime()
		if err != nil {
			return nil, pagination.ErrInvalidPageToken
		}
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)", createdAt, createdAt, cursor.ID)
	}

	var members []*domain.Member
	err := stmt.Order("created_at desc, id desc").Limit(limit + 1).Find(&members).Error
	return members, err
}

func (r *repo) UpdateRole(ctx context.Context, db *gorm.DB, id snowflake.ID, newRole role.Role, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE members SET role = ?, updated_at = ? WHERE id = ?`,
		newRole, now, id,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.Status, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE members SET status = ?, updated_at = ? WHERE id = ?`,
		status, now, id,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) MarkEmailVerified(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE members SET email_verified_at = ?, updated_at = ? WHERE id = ? AND email_verified_at IS NULL`,
		at, at, id,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) CreditDirectInvite(ctx context.Context, db *gorm.DB, id snowflake.ID, amount pricing.Money, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE members
		 SET balance = balance + ?,
		     direct_invite_earnings = direct_invite_earnings + ?,
		     direct_invite_count = direct_invite_count + 1,
		     updated_at = ?
		 WHERE id = ? AND status = ?`,
		amount, amount, now, id, domain.StatusActive,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error) {
	res := db.WithContext(ctx).Exec(`DELETE FROM members WHERE id = ?`, id)
	return res.RowsAffected, res.Error
}
