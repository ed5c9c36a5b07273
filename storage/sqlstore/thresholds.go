package sqlstore

import (
	"context"
	"database/sql"

	"github.com/Kent0008/breakers-nurik/errors"
	"github.com/Kent0008/breakers-nurik/types"
)

const (
	getThresholdSQL    = `SELECT tag, min_value, max_value, updated_at FROM thresholds WHERE tag = $1`
	listThresholdsSQL  = `SELECT tag, min_value, max_value, updated_at FROM thresholds ORDER BY tag`
	upsertThresholdSQL = `INSERT INTO thresholds (tag, min_value, max_value, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (tag) DO UPDATE SET min_value = excluded.min_value, max_value = excluded.max_value, updated_at = excluded.updated_at`
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLimit(row rowScanner) (types.ThresholdLimit, error) {
	var l types.ThresholdLimit
	err := row.Scan(&l.Tag, &l.Min, &l.Max, &l.UpdatedAt)
	return l, err
}

// GetThreshold returns the limit for tag, or nil when none is configured.
func (s *Store) GetThreshold(ctx context.Context, tag string) (*types.ThresholdLimit, error) {
	l, err := scanLimit(s.db.QueryRowContext(ctx, s.q(getThresholdSQL), tag))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapTransient(err, component, "GetThreshold", "query threshold")
	}
	return &l, nil
}

// ListThresholds returns every configured limit ordered by tag.
func (s *Store) ListThresholds(ctx context.Context) ([]types.ThresholdLimit, error) {
	rows, err := s.db.QueryContext(ctx, s.q(listThresholdsSQL))
	if err != nil {
		return nil, errors.WrapTransient(err, component, "ListThresholds", "query thresholds")
	}
	defer rows.Close()

	limits := make([]types.ThresholdLimit, 0)
	for rows.Next() {
		l, err := scanLimit(rows)
		if err != nil {
			return nil, errors.WrapTransient(err, component, "ListThresholds", "scan threshold")
		}
		limits = append(limits, l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, component, "ListThresholds", "iterate thresholds")
	}
	return limits, nil
}

// UpsertThreshold creates or replaces the limit for l.Tag. Limits violating
// min < max are rejected before reaching the database.
func (s *Store) UpsertThreshold(ctx context.Context, l types.ThresholdLimit) error {
	if err := l.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.q(upsertThresholdSQL), l.Tag, l.Min, l.Max, s.now())
	if err != nil {
		return errors.WrapTransient(err, component, "UpsertThreshold", "upsert threshold")
	}
	return nil
}
