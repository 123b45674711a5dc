package postgres

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_ArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected file %s", name)
		}
	}
	assert.Equal(t, ups, downs)
}

func TestMigrations_GuardOnePendingPerOrder(t *testing.T) {
	body, err := fs.ReadFile(migrationFiles, "migrations/000002_create_payment_records.up.sql")
	require.NoError(t, err)

	sql := string(body)
	assert.Contains(t, sql, "payment_records_one_pending_per_order")
	assert.Contains(t, sql, "WHERE status = 'pending'")
	assert.Contains(t, sql, "UNIQUE (method, external_transaction_id)")
}
