package catalog

import (
	"context"

	"github.com/mfrederiksen/tutorbase/libs/db"
)

// DBProvider reads slot templates straight from the shared Postgres instance.
// Catalog mutations stay with catalog-service; this side only queries.
type DBProvider struct {
	pool *db.Pool
}

func NewDBProvider(pool *db.Pool) *DBProvider {
	return &DBProvider{pool: pool}
}

func (p *DBProvider) ListSlots(ctx context.Context, tutorID, fromDate, toDate string) ([]SlotTemplate, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id::text, tutor_id::text, to_char(slot_date, 'YYYY-MM-DD'), start_minute, end_minute
		FROM slot_templates
		WHERE tutor_id = $1
			AND slot_date >= $2::date
			AND slot_date <= $3::date
		ORDER BY slot_date, start_minute
	`, tutorID, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []SlotTemplate
	for rows.Next() {
		var s SlotTemplate
		if err := rows.Scan(&s.ID, &s.TutorID, &s.Date, &s.StartMinute, &s.EndMinute); err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return slots, nil
}

func (p *DBProvider) TutorExists(ctx context.Context, tutorID string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM slot_templates WHERE tutor_id = $1)
	`, tutorID).Scan(&exists)
	return exists, err
}
