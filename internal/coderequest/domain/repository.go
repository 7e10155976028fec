package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vervex/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListFilter struct {
	InviterID *snowflake.ID
	Status    Status
}

// Guard selects the row a transition may touch.
type Guard struct {
	ID        snowflake.ID
	InviterID *snowflake.ID
	From      []Status
	// Unissued additionally requires generated_code to be unset.
	Unissued bool
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, req *CodeRequest) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*CodeRequest, error)
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*CodeRequest, error)
	CodeExists(ctx context.Context, db *gorm.DB, code string) (bool, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter, cursor *pagination.Cursor, limit int) ([]*CodeRequest, error)
	// Transition applies updates only when the guard matches and returns the
	// number of rows changed.
	Transition(ctx context.Context, db *gorm.DB, guard Guard, updates map[string]any) (int64, error)
}
