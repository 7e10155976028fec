package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vervex/internal/coderequest/domain"
	"github.com/smallbiznis/vervex/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, req *domain.CodeRequest) error {
	return db.WithContext(ctx).Create(req).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.CodeRequest, error) {
	return r.findOne(ctx, db, "id = ?", id)
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.CodeRequest, error) {
	return r.findOne(ctx, db, "generated_code = ?", code)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, arg any) (*domain.CodeRequest, error) {
	var item domain.CodeRequest
	if err := db.WithContext(ctx).Where(query, arg).Limit(1).Find(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) CodeExists(ctx context.Context, db *gorm.DB, code string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.CodeRequest{}).
		Where("generated_code = ?", code).
		Count(&count).Error
	return count > 0, err
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter, cursor *pagination.Cursor, limit int) ([]*domain.CodeRequest, error) {
	stmt := db.WithContext(ctx).Model(&domain.CodeRequest{})
	if filter.InviterID != nil {
		stmt = stmt.Where("inviter_id = ?", *filter.InviterID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status IN ?", filter.Status.StoredLabels())
	}
	if cursor != nil {
		createdAt, err := cursor.CreatedAtTime()
		if err != nil {
			return nil, pagination.ErrInvalidPageToken
		}
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)", createdAt, createdAt, cursor.ID)
	}

	var items []*domain.CodeRequest
	err := stmt.Order("created_at desc, id desc").Limit(limit + 1).Find(&items).Error
	return items, err
}

func (r *repo) Transition(ctx context.Context, db *gorm.DB, guard domain.Guard, updates map[string]any) (int64, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.CodeRequest{}).
		Where("id = ?", guard.ID).
		Where("status IN ?", storedLabels(guard.From))
	if guard.InviterID != nil {
		stmt = stmt.Where("inviter_id = ?", *guard.InviterID)
	}
	if guard.Unissued {
		stmt = stmt.Where("generated_code IS NULL")
	}
	res := stmt.Updates(updates)
	return res.RowsAffected, res.Error
}

func storedLabels(statuses []domain.Status) []string {
	labels := make([]string, 0, len(statuses))
	for _, st := range statuses {
		labels = append(labels, st.StoredLabels()...)
	}
	return labels
}
