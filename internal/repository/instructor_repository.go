package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/avtomat-kz/avtomat-api/internal/models"
)

const instructorColumns = `id, user_id, name, city_id, auto_type, phone, rating, payment_link_kaspi, payment_link_halyk, schedule, active, created_at, updated_at`

// InstructorRepository reads driving instructors.
type InstructorRepository struct {
	db *sqlx.DB
}

// NewInstructorRepository constructs an InstructorRepository.
func NewInstructorRepository(db *sqlx.DB) *InstructorRepository {
	return &InstructorRepository{db: db}
}

// ListActive returns active instructors filtered by city and, when set, auto type.
func (r *InstructorRepository) ListActive(ctx context.Context, filter models.InstructorFilter) ([]models.Instructor, error) {
	query := `SELECT ` + instructorColumns + ` FROM instructors WHERE active = TRUE AND city_id = $1`
	args := []interface{}{filter.CityID}
	if filter.AutoType != "" {
		query += ` AND auto_type = $2`
		args = append(args, filter.AutoType)
	}
	query += ` ORDER BY rating DESC, id`

	var instructors []models.Instructor
	if err := r.db.SelectContext(ctx, &instructors, query, args...); err != nil {
		return nil, fmt.Errorf("list instructors: %w", err)
	}
	return instructors, nil
}

// FindActiveByID returns an active instructor.
func (r *InstructorRepository) FindActiveByID(ctx context.Context, id int64) (*models.Instructor, error) {
	query := `SELECT ` + instructorColumns + ` FROM instructors WHERE id = $1 AND active = TRUE LIMIT 1`
	var instructor models.Instructor
	if err := r.db.GetContext(ctx, &instructor, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find instructor: %w", err)
	}
	return &instructor, nil
}
