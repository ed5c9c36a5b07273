package sqlstore

import (
	"fmt"
	"strings"
)

// Dialect selects the SQL flavour of the connected database.
type Dialect string

// Supported dialects
const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Driver names registered with database/sql.
const (
	DriverPgx    = "pgx"
	DriverSQLite = "sqlite"
)

// DialectFor maps a database/sql driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case DriverPgx, "postgres", "postgresql":
		return Postgres, nil
	case DriverSQLite, "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// driverName returns the registered database/sql driver for d.
func (d Dialect) driverName() string {
	if d == Postgres {
		return DriverPgx
	}
	return DriverSQLite
}

// rebind rewrites $N placeholders for dialects that do not accept them.
// SQLite reads a bare $1 as a named parameter, ?1 is its numbered form.
func (d Dialect) rebind(query string) string {
	if d != SQLite {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			b.WriteByte('?')
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// schema returns the DDL statements creating the telemetry tables.
func (d Dialect) schema() []string {
	id, ts, tag := "BIGSERIAL PRIMARY KEY", "TIMESTAMPTZ", "VARCHAR(100)"
	if d == SQLite {
		id, ts, tag = "INTEGER PRIMARY KEY AUTOINCREMENT", "TIMESTAMP", "TEXT"
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS sensor_data (
			id ` + id + `,
			tag ` + tag + ` NOT NULL,
			value NUMERIC(10,3) NOT NULL,
			timestamp ` + ts + ` NOT NULL,
			received_at ` + ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS sensor_data_tag_timestamp_idx ON sensor_data (tag, timestamp DESC)`,
		`CREATE TABLE IF NOT EXISTS thresholds (
			id ` + id + `,
			tag ` + tag + ` NOT NULL UNIQUE,
			min_value NUMERIC(10,3),
			max_value NUMERIC(10,3),
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS incidents (
			id ` + id + `,
			tag ` + tag + ` NOT NULL,
			value NUMERIC(10,3) NOT NULL,
			threshold_min NUMERIC(10,3),
			threshold_max NUMERIC(10,3),
			violation_kind VARCHAR(20) NOT NULL,
			timestamp ` + ts + ` NOT NULL,
			created_at ` + ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS incidents_tag_timestamp_idx ON incidents (tag, timestamp DESC)`,
	}
}
