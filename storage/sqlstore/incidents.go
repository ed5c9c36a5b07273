package sqlstore

import (
	"context"

	"github.com/Kent0008/breakers-nurik/errors"
	"github.com/Kent0008/breakers-nurik/types"
)

const insertIncidentSQL = `INSERT INTO incidents (tag, value, threshold_min, threshold_max, violation_kind, timestamp, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`

// InsertIncident appends inc and sets its ID.
func (s *Store) InsertIncident(ctx context.Context, inc *types.Incident) error {
	if !inc.Kind.Valid() {
		return errors.WrapInvalid(errors.ErrInvalidPayload, component, "InsertIncident", "unknown violation kind "+string(inc.Kind))
	}
	createdAt := inc.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	var id int64
	err := s.db.QueryRowContext(ctx, s.q(insertIncidentSQL),
		inc.Tag, inc.Value, inc.ThresholdMin, inc.ThresholdMax, string(inc.Kind), inc.Timestamp.UTC(), createdAt.UTC(),
	).Scan(&id)
	if err != nil {
		return errors.WrapTransient(err, component, "InsertIncident", "insert incident")
	}
	inc.ID = id
	inc.CreatedAt = createdAt
	return nil
}
