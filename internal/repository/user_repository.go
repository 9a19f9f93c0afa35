package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/avtomat-kz/avtomat-api/internal/models"
)

const userColumns = `id, telegram_id, username, password_hash, full_name, phone, role, active, created_at, updated_at`

// UserRepository provides database access for students and staff accounts.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByUsername returns a staff user by login name.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1 AND password_hash <> '' LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, username); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by username: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// GetOrCreateByTelegramID upserts a student keyed by telegram id.
// A non-empty username replaces the stored one.
func (r *UserRepository) GetOrCreateByTelegramID(ctx context.Context, telegramID int64, username string) (*models.User, error) {
	if username == "" {
		username = fmt.Sprintf("user_%d", telegramID)
	}
	now := time.Now().UTC()
	query := `INSERT INTO users (telegram_id, username, password_hash, full_name, phone, role, active, created_at, updated_at)
		VALUES ($1, $2, '', '', '', $3, TRUE, $4, $4)
		ON CONFLICT (telegram_id) DO UPDATE SET username = EXCLUDED.username, updated_at = EXCLUDED.updated_at
		RETURNING ` + userColumns
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, telegramID, username, models.RoleStudent, now); err != nil {
		return nil, fmt.Errorf("get or create user by telegram id: %w", err)
	}
	return &user, nil
}
