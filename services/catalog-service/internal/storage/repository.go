// Package storage persists tutor profiles and their published slot
// templates. Template overlap is enforced by an exclusion constraint on
// (tutor_id, slot_date, minute range), so two templates for the same tutor can
// never cover the same wall-clock span regardless of request interleaving.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mfrederiksen/tutorbase/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

type Tutor struct {
	ID         string
	Name       string
	Email      string
	Subjects   []string
	HourlyRate string
	Bio        string
	CreatedAt  time.Time
}

func (r *Repository) UpsertTutor(ctx context.Context, t Tutor) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tutors (id, name, email, subjects, hourly_rate, bio)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
			email = EXCLUDED.email,
			subjects = EXCLUDED.subjects,
			hourly_rate = EXCLUDED.hourly_rate,
			bio = EXCLUDED.bio,
			updated_at = now()
	`, t.ID, t.Name, t.Email, t.Subjects, t.HourlyRate, t.Bio)
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

func (r *Repository) GetTutor(ctx context.Context, id string) (Tutor, error) {
	var t Tutor
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, name, email, subjects, hourly_rate::text, COALESCE(bio, ''), created_at
		FROM tutors
		WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.Email, &t.Subjects, &t.HourlyRate, &t.Bio, &t.CreatedAt)
	return t, err
}

func (r *Repository) TutorExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tutors WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *Repository) ListTutors(ctx context.Context, subject string, limit int) ([]Tutor, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, name, email, subjects, hourly_rate::text, COALESCE(bio, ''), created_at
		FROM tutors
		WHERE $1 = '' OR $1 = ANY(subjects)
		ORDER BY created_at DESC
		LIMIT $2
	`, subject, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Tutor
	for rows.Next() {
		var t Tutor
		if err := rows.Scan(&t.ID, &t.Name, &t.Email, &t.Subjects, &t.HourlyRate, &t.Bio, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

type SlotTemplate struct {
	ID          string
	TutorID     string
	Date        string
	StartMinute int
	EndMinute   int
	CreatedAt   time.Time
}

// PublishSlot inserts a slot template for the tutor. The minute range is
// stored as an int4range guarded by an exclusion constraint; an overlapping
// template surfaces as IsConflict.
func (r *Repository) PublishSlot(ctx context.Context, s SlotTemplate) (string, error) {
	exists, err := r.TutorExists(ctx, s.TutorID)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", pgx.ErrNoRows
	}

	id := uuid.NewString()
	_, err = r.pool.Exec(ctx, `
		INSERT INTO slot_templates (id, tutor_id, slot_date, start_minute, end_minute)
		VALUES ($1, $2, $3, $4, $5)
	`, id, s.TutorID, s.Date, s.StartMinute, s.EndMinute)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) ListSlots(ctx context.Context, tutorID, fromDate, toDate string) ([]SlotTemplate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, tutor_id::text, to_char(slot_date, 'YYYY-MM-DD'), start_minute, end_minute, created_at
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

	var out []SlotTemplate
	for rows.Next() {
		var s SlotTemplate
		if err := rows.Scan(&s.ID, &s.TutorID, &s.Date, &s.StartMinute, &s.EndMinute, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// DeleteSlot removes a template. Existing bookings are untouched: the ledger
// owns reservations, and retracting a template only stops new matches.
func (r *Repository) DeleteSlot(ctx context.Context, tutorID, slotID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM slot_templates
		WHERE id = $1 AND tutor_id = $2
	`, slotID, tutorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "23P01" || pgErr.Code == "23505")
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
