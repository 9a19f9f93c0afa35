package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/avtomat-kz/avtomat-api/internal/models"
)

// CityRepository reads and seeds reference cities.
type CityRepository struct {
	db *sqlx.DB
}

// NewCityRepository constructs a CityRepository.
func NewCityRepository(db *sqlx.DB) *CityRepository {
	return &CityRepository{db: db}
}

// ListActive returns active cities ordered by name.
func (r *CityRepository) ListActive(ctx context.Context) ([]models.City, error) {
	const query = `SELECT id, name, name_ru, active FROM cities WHERE active = TRUE ORDER BY name`
	var cities []models.City
	if err := r.db.SelectContext(ctx, &cities, query); err != nil {
		return nil, fmt.Errorf("list cities: %w", err)
	}
	return cities, nil
}

// FindActiveByName resolves a city by its natural key.
func (r *CityRepository) FindActiveByName(ctx context.Context, name string) (*models.City, error) {
	const query = `SELECT id, name, name_ru, active FROM cities WHERE name = $1 AND active = TRUE LIMIT 1`
	var city models.City
	if err := r.db.GetContext(ctx, &city, query, name); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find city by name: %w", err)
	}
	return &city, nil
}

// GetOrCreate returns the city named name, inserting it when absent.
func (r *CityRepository) GetOrCreate(ctx context.Context, name, nameRU string) (*models.City, bool, error) {
	const query = `INSERT INTO cities (name, name_ru, active) VALUES ($1, $2, TRUE)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, name_ru, active, (xmax = 0) AS inserted`
	var row struct {
		models.City
		Inserted bool `db:"inserted"`
	}
	if err := r.db.GetContext(ctx, &row, query, name, nameRU); err != nil {
		return nil, false, fmt.Errorf("get or create city: %w", err)
	}
	city := row.City
	return &city, row.Inserted, nil
}
