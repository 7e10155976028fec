package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/vervex/pkg/errs"
)

// Token is a signed bearer credential.
type Token struct {
	Value     string    `json:"access_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Provider creates, verifies and deletes identities keyed by email and
// password.
type Provider interface {
	CreateIdentity(ctx context.Context, email, password string) (string, error)
	// LookupByEmail returns the identity id for email, or "" when none exists.
	LookupByEmail(ctx context.Context, email string) (string, error)
	SetPassword(ctx context.Context, id, password string) error
	VerifyIdentityToken(ctx context.Context, token string) (string, error)
	IssueToken(ctx context.Context, id string) (Token, error)
	Authenticate(ctx context.Context, email, password string) (Token, error)
	DeleteIdentity(ctx context.Context, id string) error
	IssueVerificationLink(ctx context.Context, id string) (string, error)
	// ConfirmVerification consumes a verification token and returns the
	// identity it belonged to.
	ConfirmVerification(ctx context.Context, token string) (string, error)
}

var (
	ErrEmailExists        = errs.New(errs.KindAlreadyExists, "identity_email_exists")
	ErrInvalidEmail       = errs.New(errs.KindInvalidArgument, "invalid_email")
	ErrWeakPassword       = errs.New(errs.KindInvalidArgument, "password_too_short")
	ErrInvalidCredentials = errs.New(errs.KindUnauthenticated, "invalid_credentials")
	ErrInvalidToken       = errs.New(errs.KindUnauthenticated, "invalid_token")
	ErrNotFound           = errs.New(errs.KindNotFound, "identity_not_found")
	ErrInvalidVerifyToken = errs.New(errs.KindInvalidArgument, "invalid_verification_token")
)
