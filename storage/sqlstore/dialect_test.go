package sqlstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectFor(t *testing.T) {
	tests := []struct {
		driver string
		want   Dialect
	}{
		{"pgx", Postgres},
		{"postgres", Postgres},
		{"sqlite", SQLite},
		{"sqlite3", SQLite},
	}
	for _, tt := range tests {
		got, err := DialectFor(tt.driver)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := DialectFor("mysql")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	q := "INSERT INTO t (a, b) VALUES ($1, $2) -- $x stays"
	assert.Equal(t, q, Postgres.rebind(q))
	assert.Equal(t, "INSERT INTO t (a, b) VALUES (?1, ?2) -- $x stays", SQLite.rebind(q))
	assert.Equal(t, "?10", SQLite.rebind("$10"))
}

func TestSchema(t *testing.T) {
	pg := strings.Join(Postgres.schema(), "\n")
	assert.Contains(t, pg, "BIGSERIAL")
	assert.Contains(t, pg, "TIMESTAMPTZ")
	assert.Contains(t, pg, "NUMERIC(10,3)")

	lite := strings.Join(SQLite.schema(), "\n")
	assert.Contains(t, lite, "AUTOINCREMENT")
	assert.NotContains(t, lite, "TIMESTAMPTZ")
}
