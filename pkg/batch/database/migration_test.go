package database_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/batchjob/pkg/batch/database"
)

func TestMigrationURL(t *testing.T) {
	tests := []struct {
		name     string
		dbType   string
		conn     string
		table    string
		expected string
	}{
		{"postgres with query", "postgres", "postgres://u:p@h:5432/db?sslmode=disable", database.FrameworkMigrationsTable,
			"postgres://u:p@h:5432/db?sslmode=disable&x-migrations-table=batch_schema_migrations"},
		{"redshift uses postgres url", "redshift", "postgres://u:p@h:5439/db", database.FrameworkMigrationsTable,
			"postgres://u:p@h:5439/db?x-migrations-table=batch_schema_migrations"},
		{"mysql gets scheme", "mysql", "u:p@tcp(h:3306)/db?parseTime=true", "",
			"mysql://u:p@tcp(h:3306)/db?parseTime=true&multiStatements=true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := database.MigrationURL(tt.dbType, tt.conn, tt.table)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestMigrationURL_Unsupported(t *testing.T) {
	_, err := database.MigrationURL("snowflake", "u:p@acct/db", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, database.ErrMigrationUnsupported))
}
