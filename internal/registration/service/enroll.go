package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vervex/internal/clock"
	"github.com/smallbiznis/vervex/internal/codegen"
	identitydomain "github.com/smallbiznis/vervex/internal/identity/domain"
	"github.com/smallbiznis/vervex/internal/identity/password"
	memberdomain "github.com/smallbiznis/vervex/internal/member/domain"
	"github.com/smallbiznis/vervex/internal/registration/domain"
	"github.com/smallbiznis/vervex/internal/role"
	dbutil "github.com/smallbiznis/vervex/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const referralCodeAttempts = 5

// NewMember describes a member about to be inserted. ID is assigned by the
// caller so that it can be recorded elsewhere in the same transaction.
type NewMember struct {
	ID          snowflake.ID
	IdentityID  string
	Email       string
	DisplayName string
	Phone       string
	Address     string
	Role        role.Role
	ReferrerID  *snowflake.ID
}

type EnrollerParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Members  memberdomain.Repository
	Identity identitydomain.Provider
	Codes    *codegen.Generator
}

// Enroller creates identities and member rows. Every path that turns a
// person into a member goes through it.
type Enroller struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	members  memberdomain.Repository
	identity identitydomain.Provider
	codes    *codegen.Generator
}

func NewEnroller(p EnrollerParams) *Enroller {
	return &Enroller{
		db:       p.DB,
		log:      p.Log.Named("registration.enroller"),
		genID:    p.GenID,
		clock:    p.Clock,
		members:  p.Members,
		identity: p.Identity,
		codes:    p.Codes,
	}
}

// NextID reserves a member id.
func (e *Enroller) NextID() snowflake.ID {
	return e.genID.Generate()
}

// CheckProfile validates credentials before anything is written and returns
// the normalized email.
func (e *Enroller) CheckProfile(email, plain string) (string, error) {
	email = memberdomain.NormalizeEmail(email)
	if email == "" {
		return "", memberdomain.ErrInvalidEmail
	}
	if len(plain) < password.MinLength {
		return "", domain.ErrInvalidPassword
	}
	return email, nil
}

// EnsureNotMember fails with ErrEmailTaken when email already belongs to a
// member.
func (e *Enroller) EnsureNotMember(ctx context.Context, email string) error {
	existing, err := e.members.FindByEmail(ctx, e.db, email)
	if err != nil {
		return err
	}
	if existing != nil {
		return memberdomain.ErrEmailTaken
	}
	return nil
}

// EnsureIdentity returns an identity for email. An identity left behind by
// an earlier attempt that never produced a member is reused with the new
// password, so failed registrations stay retryable.
func (e *Enroller) EnsureIdentity(ctx context.Context, email, plain string) (string, error) {
	existing, err := e.identity.LookupByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if existing == "" {
		return e.identity.CreateIdentity(ctx, email, plain)
	}

	owner, err := e.members.FindByIdentityID(ctx, e.db, existing)
	if err != nil {
		return "", err
	}
	if owner != nil {
		return "", memberdomain.ErrEmailTaken
	}
	if err := e.identity.SetPassword(ctx, existing, plain); err != nil {
		return "", err
	}
	e.log.Info("reusing orphan identity", zap.String("identity_id", existing))
	return existing, nil
}

// Insert writes the member inside tx with a fresh referral code.
func (e *Enroller) Insert(ctx context.Context, tx *gorm.DB, in NewMember) (memberdomain.Member, error) {
	if !in.Role.Valid() {
		return memberdomain.Member{}, role.ErrInvalidRole
	}
	name := strings.TrimSpace(in.DisplayName)
	if name == "" {
		name = in.Email[:strings.LastIndex(in.Email, "@")]
	}

	now := e.clock.Now()
	m := memberdomain.Member{
		ID:          in.ID,
		IdentityID:  in.IdentityID,
		Email:       in.Email,
		DisplayName: name,
		Phone:       strings.TrimSpace(in.Phone),
		Address:     strings.TrimSpace(in.Address),
		Role:        in.Role,
		ReferrerID:  in.ReferrerID,
		Status:      memberdomain.StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if m.ID == 0 {
		m.ID = e.genID.Generate()
	}

	for attempt := 0; attempt < referralCodeAttempts; attempt++ {
		code, err := e.codes.ReferralCode()
		if err != nil {
			return memberdomain.Member{}, err
		}
		m.ReferralCode = code

		err = e.insertOnce(ctx, tx, &m)
		if err == nil {
			return m, nil
		}
		if !dbutil.IsDuplicateKeyErr(err) {
			return memberdomain.Member{}, fmt.Errorf("registration: insert member: %w", err)
		}

		taken, lookupErr := e.members.FindByEmail(ctx, tx, m.Email)
		if lookupErr != nil {
			return memberdomain.Member{}, lookupErr
		}
		if taken != nil {
			return memberdomain.Member{}, memberdomain.ErrEmailTaken
		}
	}
	return memberdomain.Member{}, codegen.ErrExhausted
}

// insertOnce runs the insert in a savepoint so a unique violation does not
// abort the surrounding postgres transaction.
func (e *Enroller) insertOnce(ctx context.Context, tx *gorm.DB, m *memberdomain.Member) error {
	return tx.Transaction(func(sp *gorm.DB) error {
		return e.members.Insert(ctx, sp, m)
	})
}
