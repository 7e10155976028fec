package domain

import (
	"context"

	"github.com/smallbiznis/vervex/internal/authorization"
	ledgerdomain "github.com/smallbiznis/vervex/internal/ledger/domain"
	memberdomain "github.com/smallbiznis/vervex/internal/member/domain"
	"github.com/smallbiznis/vervex/pkg/errs"
)

// Profile is the new member's account data. Empty display name, phone and
// address fall back to what the inviter captured on the code request.
type Profile struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
}

type RedeemRequest struct {
	Code    string  `json:"code"`
	Profile Profile `json:"profile"`
}

type RedeemResult struct {
	Member        memberdomain.Member       `json:"member"`
	CodeRequestID string                    `json:"code_request_id"`
	Commission    *ledgerdomain.Transaction `json:"commission,omitempty"`
	EmailSent     bool                      `json:"email_sent"`
}

type CreateUserRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
	Role        string `json:"role"`
	ReferrerID  string `json:"referrer_id"`
}

type CreateUserResult struct {
	Member    memberdomain.Member `json:"member"`
	EmailSent bool                `json:"email_sent"`
}

type Service interface {
	// RegisterFromCode redeems an issued activation code into a new member
	// and settles the inviter's commission.
	RegisterFromCode(ctx context.Context, actor authorization.Actor, req RedeemRequest) (RedeemResult, error)
	CreateUser(ctx context.Context, actor authorization.Actor, req CreateUserRequest) (CreateUserResult, error)
	DeleteUser(ctx context.Context, actor authorization.Actor, id string) (memberdomain.Member, error)
}

var (
	ErrInvalidProfile  = errs.New(errs.KindInvalidArgument, "invalid_profile")
	ErrInvalidPassword = errs.New(errs.KindInvalidArgument, "password_too_short")
	ErrInvalidReferrer = errs.New(errs.KindInvalidArgument, "invalid_referrer")
	ErrReferrerMissing = errs.New(errs.KindNotFound, "referrer_not_found")
)
