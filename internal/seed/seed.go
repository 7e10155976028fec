package seed

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/vervex/internal/clock"
	"github.com/smallbiznis/vervex/internal/config"
	memberdomain "github.com/smallbiznis/vervex/internal/member/domain"
	registration "github.com/smallbiznis/vervex/internal/registration/service"
	"github.com/smallbiznis/vervex/internal/role"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultSuperadminName = "Vervex Superadmin"

var Module = fx.Module("seed",
	fx.Provide(New),
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Cfg      config.Config
	Clock    clock.Clock
	Members  memberdomain.Repository
	Enroller *registration.Enroller
}

// Seeder bootstraps the root superadmin so the back office is reachable on
// a fresh database.
type Seeder struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      config.BootstrapConfig
	clock    clock.Clock
	members  memberdomain.Repository
	enroller *registration.Enroller
}

func New(p Params) *Seeder {
	return &Seeder{
		db:       p.DB,
		log:      p.Log.Named("seed"),
		cfg:      p.Cfg.Bootstrap,
		clock:    p.Clock,
		members:  p.Members,
		enroller: p.Enroller,
	}
}

// EnsureSuperadmin creates the bootstrap superadmin once. It is a no-op when
// no bootstrap email is configured or the account already exists.
func (s *Seeder) EnsureSuperadmin(ctx context.Context) error {
	if s.db == nil {
		return errors.New("seed database handle is required")
	}
	if strings.TrimSpace(s.cfg.SuperadminEmail) == "" {
		s.log.Info("bootstrap superadmin not configured")
		return nil
	}

	email, err := s.enroller.CheckProfile(s.cfg.SuperadminEmail, s.cfg.SuperadminPassword)
	if err != nil {
		return err
	}

	existing, err := s.members.FindByEmail(ctx, s.db, email)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.Role != role.Superadmin {
			s.log.Warn("bootstrap email belongs to a non-superadmin member",
				zap.String("member_id", existing.ID.String()),
				zap.String("role", existing.Role.String()),
			)
		}
		return nil
	}

	identityID, err := s.enroller.EnsureIdentity(ctx, email, s.cfg.SuperadminPassword)
	if err != nil {
		return err
	}

	var created memberdomain.Member
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := s.enroller.Insert(ctx, tx, registration.NewMember{
			IdentityID:  identityID,
			Email:       email,
			DisplayName: defaultSuperadminName,
			Role:        role.Superadmin,
		})
		if err != nil {
			return err
		}
		if _, err := s.members.MarkEmailVerified(ctx, tx, m.ID, s.clock.Now()); err != nil {
			return err
		}
		created = m
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info("bootstrap superadmin created", zap.String("member_id", created.ID.String()))
	return nil
}
