package domain

import (
	"context"

	"github.com/smallbiznis/vervex/pkg/db/pagination"
	"github.com/smallbiznis/vervex/pkg/errs"
	"gorm.io/gorm"
)

type Entry struct {
	ActorRole  string
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

type ListRequest struct {
	pagination.Pagination
	Action   string
	TargetID string
}

type ListResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Service interface {
	// Record writes an entry through db so it commits with the caller's
	// transaction. A nil db uses the service's own handle.
	Record(ctx context.Context, db *gorm.DB, entry Entry) error
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, action, targetID string, cursor *pagination.Cursor, limit int) ([]*AuditLog, error)
}

var ErrInvalidAction = errs.New(errs.KindInvalidArgument, "invalid_audit_action")
