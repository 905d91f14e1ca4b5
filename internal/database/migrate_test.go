package database

import (
	"io"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	source, err := iofs.New(migrationFiles, "migrations")
	require.NoError(t, err)
	defer source.Close()

	first, err := source.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)

	up, _, err := source.ReadUp(first)
	require.NoError(t, err)
	upSQL, err := io.ReadAll(up)
	require.NoError(t, err)
	up.Close()

	for _, table := range []string{"accounts", "transactions", "budgets", "float_movements", "commissions", "loans"} {
		assert.Contains(t, string(upSQL), "CREATE TABLE IF NOT EXISTS "+table+" (")
	}

	down, _, err := source.ReadDown(first)
	require.NoError(t, err)
	downSQL, err := io.ReadAll(down)
	require.NoError(t, err)
	down.Close()
	assert.Contains(t, string(downSQL), "DROP TABLE")
}
