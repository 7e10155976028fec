package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/vervex/internal/audit/domain"
	coderequestdomain "github.com/smallbiznis/vervex/internal/coderequest/domain"
	identitydomain "github.com/smallbiznis/vervex/internal/identity/domain"
	invitationdomain "github.com/smallbiznis/vervex/internal/invitation/domain"
	ledgerdomain "github.com/smallbiznis/vervex/internal/ledger/domain"
	memberdomain "github.com/smallbiznis/vervex/internal/member/domain"
	"gorm.io/gorm"
)

const migrationsDir = "sql"

//go:embed sql/*.sql
var embeddedMigrations embed.FS

// Models lists every table owned by the service, in dependency order.
func Models() []any {
	return []any{
		&identitydomain.Identity{},
		&identitydomain.VerificationToken{},
		&memberdomain.Member{},
		&coderequestdomain.CodeRequest{},
		&ledgerdomain.Transaction{},
		&invitationdomain.Invitation{},
		&auditdomain.AuditLog{},
	}
}

// Apply brings the schema up to date. Postgres uses the versioned SQL
// migrations; sqlite and mysql are migrated from the gorm models.
func Apply(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if conn.Dialector.Name() != "postgres" {
		if err := conn.AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return normalizeCodeRequestStatuses(conn)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

// normalizeCodeRequestStatuses rewrites legacy status labels to their
// canonical form. The postgres equivalent is migration 000002.
func normalizeCodeRequestStatuses(conn *gorm.DB) error {
	for legacy, canonical := range coderequestdomain.LegacyAliases() {
		err := conn.Model(&coderequestdomain.CodeRequest{}).
			Where("status = ?", legacy).
			Update("status", string(canonical)).Error
		if err != nil {
			return fmt.Errorf("normalize code request status %q: %w", legacy, err)
		}
	}
	return nil
}

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// migrator.Close would close the shared *sql.DB.

	return nil
}
