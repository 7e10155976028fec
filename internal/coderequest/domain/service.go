package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vervex/internal/authorization"
	"github.com/smallbiznis/vervex/pkg/db/pagination"
	"github.com/smallbiznis/vervex/pkg/errs"
	"gorm.io/gorm"
)

type CreateRequest struct {
	Role   string
	Invite InviteData
}

type AttachReceiptRequest struct {
	ID         string
	ReceiptURL string
}

type GenerateCodeRequest struct {
	ID string
	// Code is an administrator supplied code. Empty means generate one.
	Code string
}

type RejectRequest struct {
	ID     string
	Reason string
}

type ListRequest struct {
	pagination.Pagination
	Status string
}

type ListResponse struct {
	pagination.PageInfo
	CodeRequests []CodeRequest `json:"code_requests"`
}

type Service interface {
	Create(ctx context.Context, actor authorization.Actor, req CreateRequest) (CodeRequest, error)
	AttachReceipt(ctx context.Context, actor authorization.Actor, req AttachReceiptRequest) (CodeRequest, error)
	SuggestCode(ctx context.Context, actor authorization.Actor, id string) (string, error)
	GenerateCode(ctx context.Context, actor authorization.Actor, req GenerateCodeRequest) (CodeRequest, error)
	Reject(ctx context.Context, actor authorization.Actor, req RejectRequest) (CodeRequest, error)
	Cancel(ctx context.Context, actor authorization.Actor, id string) (CodeRequest, error)
	Get(ctx context.Context, actor authorization.Actor, id string) (CodeRequest, error)
	ListMine(ctx context.Context, actor authorization.Actor, req ListRequest) (ListResponse, error)
	ListByStatus(ctx context.Context, actor authorization.Actor, req ListRequest) (ListResponse, error)

	// FindByCode and MarkRegistered serve code redemption and run on the
	// caller's db handle.
	FindByCode(ctx context.Context, db *gorm.DB, code string) (CodeRequest, error)
	MarkRegistered(ctx context.Context, tx *gorm.DB, id, memberID snowflake.ID) error
}

var (
	ErrInvalidID            = errs.New(errs.KindInvalidArgument, "invalid_code_request_id")
	ErrInvalidStatus        = errs.New(errs.KindInvalidArgument, "invalid_code_request_status")
	ErrInvalidProfile       = errs.New(errs.KindInvalidArgument, "invalid_invite_profile")
	ErrRoleNotPurchasable   = errs.New(errs.KindInvalidArgument, "role_not_purchasable")
	ErrInvalidReceipt       = errs.New(errs.KindInvalidArgument, "invalid_receipt_url")
	ErrNotFound             = errs.New(errs.KindNotFound, "code_request_not_found")
	ErrCodeNotFound         = errs.New(errs.KindNotFound, "code_not_found")
	ErrInvalidTransition    = errs.New(errs.KindFailedPrecondition, "invalid_code_request_transition")
	ErrNotRedeemable        = errs.New(errs.KindFailedPrecondition, "code_not_redeemable")
	ErrCodeAlreadyGenerated = errs.New(errs.KindAlreadyExists, "code_already_generated")
	ErrCodeTaken            = errs.New(errs.KindAlreadyExists, "code_already_issued")
)
