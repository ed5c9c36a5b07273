// Package storage defines the persistence contracts used by the ingest
// pipeline and the live connections.
//
// Three record families are stored:
//
//   - readings: append-only, one row per accepted bus message
//   - thresholds: one operating range per tag, written only through
//     UpsertThreshold, which enforces min < max
//   - incidents: append-only, one row per violating reading
//
// The sqlstore subpackage implements Store on database/sql with PostgreSQL
// (pgx) and SQLite (modernc) drivers. Tests use the in-memory stores from
// testutil.
package storage
