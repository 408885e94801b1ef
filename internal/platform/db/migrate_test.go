package db

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrateURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@localhost:5432/stock?sslmode=disable", migrateURL("postgres://u:p@localhost:5432/stock?sslmode=disable"))
	require.Equal(t, "pgx5://db/stock", migrateURL("postgresql://db/stock"))
	require.Equal(t, "pgx5://db/stock", migrateURL("pgx5://db/stock"))
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	var ups, downs int
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			downs++
		}
	}
	require.Equal(t, ups, downs)
}
