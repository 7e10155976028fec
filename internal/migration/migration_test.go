package migration

import (
	"io/fs"
	"testing"
	"time"

	"github.com/smallbiznis/vervex/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyCreatesTablesOnSQLite(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)

	require.NoError(t, Apply(conn))
	require.NoError(t, Apply(conn))

	for _, table := range []string{"identities", "verification_tokens", "members", "code_requests", "transactions", "invitations", "audit_logs"} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
	assert.True(t, conn.Migrator().HasIndex("transactions", "ux_transactions_type_source"))
}

func TestApplyNormalizesLegacyCodeRequestStatus(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, Apply(conn))

	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	for i, label := range []string{"waiting for payment", "pending receipt", "code_generated"} {
		require.NoError(t, conn.Exec(
			`INSERT INTO code_requests (id, inviter_id, role, price, invite_name, invite_email, invite_phone, status, created_at, updated_at)
			VALUES (?, 1, 'vip', 1000, 'Nadia', 'nadia@example.com', '+62', ?, ?, ?)`,
			i+1, label, now, now,
		).Error)
	}

	require.NoError(t, Apply(conn))

	var statuses []string
	require.NoError(t, conn.Raw("SELECT status FROM code_requests ORDER BY id").Scan(&statuses).Error)
	assert.Equal(t, []string{"pending_receipt", "pending_receipt", "code_generated"}, statuses)
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(embeddedMigrations, migrationsDir+"/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(embeddedMigrations, migrationsDir+"/*.down.sql")
	require.NoError(t, err)
	assert.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}
