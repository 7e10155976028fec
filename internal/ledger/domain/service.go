package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vervex/internal/pricing"
	"github.com/smallbiznis/vervex/pkg/db/pagination"
	"github.com/smallbiznis/vervex/pkg/errs"
	"gorm.io/gorm"
)

type ListResponse struct {
	pagination.PageInfo
	Transactions []Transaction `json:"transactions"`
}

// Service appends and reads ledger entries. There is no update or delete.
type Service interface {
	// Append writes t through tx so it commits with the balance change it
	// records.
	Append(ctx context.Context, tx *gorm.DB, t *Transaction) error
	ListByUser(ctx context.Context, userID snowflake.ID, page pagination.Pagination) (ListResponse, error)
	SumByUser(ctx context.Context, userID snowflake.ID, t TransactionType) (pricing.Money, error)
}

var (
	ErrInvalidType    = errs.New(errs.KindInvalidArgument, "invalid_transaction_type")
	ErrInvalidAmount  = errs.New(errs.KindInvalidArgument, "invalid_transaction_amount")
	ErrInvalidUser    = errs.New(errs.KindInvalidArgument, "invalid_transaction_user")
	ErrAlreadySettled = errs.New(errs.KindAlreadyExists, "transaction_already_recorded")
)
