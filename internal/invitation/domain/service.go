package domain

import (
	"context"

	"github.com/smallbiznis/vervex/internal/authorization"
	memberdomain "github.com/smallbiznis/vervex/internal/member/domain"
	"github.com/smallbiznis/vervex/pkg/db/pagination"
	"github.com/smallbiznis/vervex/pkg/errs"
)

type InviteRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type InviteResult struct {
	Invitation Invitation `json:"invitation"`
	EmailSent  bool       `json:"email_sent"`
}

type AcceptRequest struct {
	Token       string `json:"token"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type ListResponse struct {
	pagination.PageInfo
	Invitations []Invitation `json:"invitations"`
}

type Service interface {
	Invite(ctx context.Context, actor authorization.Actor, req InviteRequest) (InviteResult, error)
	Accept(ctx context.Context, req AcceptRequest) (memberdomain.Member, error)
	Decline(ctx context.Context, token string) (Invitation, error)
	ListMine(ctx context.Context, actor authorization.Actor, page pagination.Pagination) (ListResponse, error)
}

var (
	ErrInvalidName      = errs.New(errs.KindInvalidArgument, "invalid_invited_name")
	ErrInvalidStatus    = errs.New(errs.KindInvalidArgument, "invalid_invitation_status")
	ErrInvalidToken     = errs.New(errs.KindNotFound, "invitation_not_found")
	ErrAlreadyResponded = errs.New(errs.KindFailedPrecondition, "invitation_already_responded")
	ErrExpired          = errs.New(errs.KindFailedPrecondition, "invitation_expired")
)
