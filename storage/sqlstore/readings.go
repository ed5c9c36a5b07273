package sqlstore

import (
	"context"
	"database/sql"

	"github.com/Kent0008/breakers-nurik/errors"
	"github.com/Kent0008/breakers-nurik/types"
)

const (
	insertReadingSQL = `INSERT INTO sensor_data (tag, value, timestamp, received_at) VALUES ($1, $2, $3, $4) RETURNING id`
	latestReadingSQL = `SELECT id, tag, value, timestamp, received_at FROM sensor_data WHERE tag = $1 ORDER BY timestamp DESC, id DESC LIMIT 1`
)

// InsertReading appends r and sets its ID.
func (s *Store) InsertReading(ctx context.Context, r *types.Reading) error {
	var id int64
	err := s.db.QueryRowContext(ctx, s.q(insertReadingSQL),
		r.Tag, r.Value, r.Timestamp.UTC(), r.ReceivedAt.UTC(),
	).Scan(&id)
	if err != nil {
		return errors.WrapTransient(err, component, "InsertReading", "insert reading")
	}
	r.ID = id
	return nil
}

// LatestReading returns the reading with the newest producer timestamp, or
// nil if the tag has none.
func (s *Store) LatestReading(ctx context.Context, tag string) (*types.Reading, error) {
	var r types.Reading
	err := s.db.QueryRowContext(ctx, s.q(latestReadingSQL), tag).
		Scan(&r.ID, &r.Tag, &r.Value, &r.Timestamp, &r.ReceivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapTransient(err, component, "LatestReading", "query latest reading")
	}
	return &r, nil
}
