package repository

import (
	"context"

	"github.com/smallbiznis/vervex/internal/audit/domain"
	"github.com/smallbiznis/vervex/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, action, targetID string, cursor *pagination.Cursor, limit int) ([]*domain.AuditLog, error) {
	stmt := db.WithContext(ctx).Model(&domain.AuditLog{})
	if action != "" {
		stmt = stmt.Where("action = ?", action)
	}
	if targetID != "" {
		stmt = stmt.Where("target_id = ?", targetID)
	}
	if cursor != nil {
		createdAt, err := cursor.CreatedAtTime()
		if err != nil {
			return nil, pagination.ErrInvalidPageToken
		}
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)", createdAt, createdAt, cursor.ID)
	}

	var logs []*domain.AuditLog
	err := stmt.Order("created_at desc, id desc").Limit(limit + 1).Find(&logs).Error
	return logs, err
}
