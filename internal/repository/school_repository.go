package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/avtomat-kz/avtomat-api/internal/models"
)

const schoolColumns = `s.id, s.user_id, s.name, s.city_id, s.address, s.rating, s.trust_index, s.whatsapp, s.telegram_contact,
	s.payment_link_kaspi, s.payment_link_halyk, u.phone AS owner_phone, s.active, s.created_at, s.updated_at`

// SchoolRepository reads driving schools.
type SchoolRepository struct {
	db *sqlx.DB
}

// NewSchoolRepository constructs a SchoolRepository.
func NewSchoolRepository(db *sqlx.DB) *SchoolRepository {
	return &SchoolRepository{db: db}
}

// ListActive returns active schools of a city, best rated first.
func (r *SchoolRepository) ListActive(ctx context.Context, filter models.SchoolFilter) ([]models.School, error) {
	query := `SELECT ` + schoolColumns + ` FROM schools s JOIN users u ON u.id = s.user_id
		WHERE s.active = TRUE AND s.city_id = $1 ORDER BY s.rating DESC, s.trust_index DESC, s.id`
	var schools []models.School
	if err := r.db.SelectContext(ctx, &schools, query, filter.CityID); err != nil {
		return nil, fmt.Errorf("list schools: %w", err)
	}
	return schools, nil
}

// FindActiveByID returns an active school.
func (r *SchoolRepository) FindActiveByID(ctx context.Context, id int64) (*models.School, error) {
	query := `SELECT ` + schoolColumns + ` FROM schools s JOIN users u ON u.id = s.user_id WHERE s.id = $1 AND s.active = TRUE LIMIT 1`
	var school models.School
	if err := r.db.GetContext(ctx, &school, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find school: %w", err)
	}
	return &school, nil
}

// FindByOwner returns the school managed by a staff user.
func (r *SchoolRepository) FindByOwner(ctx context.Context, userID int64) (*models.School, error) {
	query := `SELECT ` + schoolColumns + ` FROM schools s JOIN users u ON u.id = s.user_id WHERE s.user_id = $1 ORDER BY s.id LIMIT 1`
	var school models.School
	if err := r.db.GetContext(ctx, &school, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find school by owner: %w", err)
	}
	return &school, nil
}

// ListActiveIDs returns identifiers of every active school.
func (r *SchoolRepository) ListActiveIDs(ctx context.Context) ([]int64, error) {
	const query = `SELECT id FROM schools WHERE active = TRUE ORDER BY id`
	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("list school ids: %w", err)
	}
	return ids, nil
}
