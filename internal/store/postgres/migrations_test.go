package postgres

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func TestLoadMigrations_Embedded(t *testing.T) {
	migrations, err := loadMigrations(migrationsFS)
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	require.Equal(t, 1, migrations[0].version)
	require.Contains(t, migrations[0].sql, "CREATE TABLE IF NOT EXISTS nodes")
}

func TestLoadMigrations_Order(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/10_later.sql": {Data: []byte("SELECT 10;")},
		"migrations/2_second.sql": {Data: []byte("SELECT 2;")},
		"migrations/1_first.sql":  {Data: []byte("SELECT 1;")},
	}

	migrations, err := loadMigrations(fsys)
	require.NoError(t, err)

	versions := make([]int, 0, len(migrations))
	for _, m := range migrations {
		versions = append(versions, m.version)
	}
	require.Equal(t, []int{1, 2, 10}, versions)
	require.Equal(t, "2_second.sql", migrations[1].name)
}

func TestLoadMigrations_Invalid(t *testing.T) {
	tests := map[string]fstest.MapFS{
		"no separator": {"migrations/nodes.sql": {Data: []byte("SELECT 1;")}},
		"bad version":  {"migrations/v1_nodes.sql": {Data: []byte("SELECT 1;")}},
		"duplicate": {
			"migrations/1_a.sql": {Data: []byte("SELECT 1;")},
			"migrations/1_b.sql": {Data: []byte("SELECT 1;")},
		},
	}

	for name, fsys := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := loadMigrations(fsys)
			require.Error(t, err)
		})
	}
}
