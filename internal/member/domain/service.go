package domain

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vervex/internal/authorization"
	"github.com/smallbiznis/vervex/pkg/db/pagination"
	"github.com/smallbiznis/vervex/pkg/errs"
)

type ListRequest struct {
	pagination.Pagination
	Role       string
	Status     string
	ReferrerID string
}

type ListResponse struct {
	pagination.PageInfo
	Members []Member `json:"members"`
}

type ChangeRoleRequest struct {
	ID   string
	Role string
}

type SetStatusRequest struct {
	ID     string
	Status string
}

type Service interface {
	Get(ctx context.Context, id snowflake.ID) (Member, error)
	GetByEmail(ctx context.Context, email string) (Member, error)
	GetByIdentity(ctx context.Context, identityID string) (Member, error)
	List(ctx context.Context, actor authorization.Actor, req ListRequest) (ListResponse, error)
	ListDownline(ctx context.Context, referrerID snowflake.ID, page pagination.Pagination) (ListResponse, error)
	ChangeRole(ctx context.Context, actor authorization.Actor, req ChangeRoleRequest) (Member, error)
	SetStatus(ctx context.Context, actor authorization.Actor, req SetStatusRequest) (Member, error)
	// Delete removes the member row permanently and returns what was removed.
	Delete(ctx context.Context, actor authorization.Actor, id string) (Member, error)
}

var (
	ErrInvalidID      = errs.New(errs.KindInvalidArgument, "invalid_member_id")
	ErrInvalidEmail   = errs.New(errs.KindInvalidArgument, "invalid_email")
	ErrInvalidStatus  = errs.New(errs.KindInvalidArgument, "invalid_member_status")
	ErrNotFound       = errs.New(errs.KindNotFound, "member_not_found")
	ErrEmailTaken     = errs.New(errs.KindAlreadyExists, "email_already_registered")
	ErrInactive       = errs.New(errs.KindFailedPrecondition, "member_inactive")
	ErrSelfAction     = errs.New(errs.KindFailedPrecondition, "cannot_modify_self")
	ErrStaffRoleGrant = errs.New(errs.KindPermissionDenied, "staff_role_requires_superadmin")
)

// ParseID parses a member id from its decimal form.
func ParseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(value)
	if err != nil || id <= 0 {
		return 0, ErrInvalidID
	}
	return id, nil
}

// NormalizeEmail lower-cases and trims an address, returning "" when it is
// not plausibly an email.
func NormalizeEmail(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	at := strings.LastIndex(value, "@")
	if at <= 0 || at == len(value)-1 || strings.ContainsAny(value, " \t") {
		return ""
	}
	return value
}
