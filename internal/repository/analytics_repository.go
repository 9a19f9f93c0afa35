package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/avtomat-kz/avtomat-api/internal/models"
)

// AnalyticsRepository stores bot events and derived scoring indices.
type AnalyticsRepository struct {
	db *sqlx.DB
}

// NewAnalyticsRepository constructs an analytics repository.
func NewAnalyticsRepository(db *sqlx.DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

// InsertEvent appends an event. time_since_last is derived from the user's latest
// stored event in the same statement and stays NULL for the first one.
func (r *AnalyticsRepository) InsertEvent(ctx context.Context, event *models.AnalyticsEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if len(event.Payload) == 0 {
		event.Payload = []byte("{}")
	}
	const query = `INSERT INTO analytics_events (user_id, event_type, step_name, event_data, created_at, time_since_last)
		VALUES ($1, $2, $3, $4, $5,
			(SELECT EXTRACT(EPOCH FROM ($5 - MAX(created_at)))::DOUBLE PRECISION FROM analytics_events WHERE user_id = $1))
		RETURNING id, time_since_last`
	var row struct {
		ID            int64    `db:"id"`
		SincePrevious *float64 `db:"time_since_last"`
	}
	if err := r.db.GetContext(ctx, &row, query, event.UserID, event.Kind, event.StepName, []byte(event.Payload), event.CreatedAt); err != nil {
		return fmt.Errorf("insert analytics event: %w", err)
	}
	event.ID = row.ID
	event.SincePrevious = row.SincePrevious
	return nil
}

// EventsByUser returns a user's events in chronological order.
func (r *AnalyticsRepository) EventsByUser(ctx context.Context, userID int64) ([]models.AnalyticsEvent, error) {
	const query = `SELECT id, user_id, event_type, step_name, event_data, created_at, time_since_last
		FROM analytics_events WHERE user_id = $1 ORDER BY created_at, id`
	var events []models.AnalyticsEvent
	if err := r.db.SelectContext(ctx, &events, query, userID); err != nil {
		return nil, fmt.Errorf("list analytics events: %w", err)
	}
	return events, nil
}

// UsersWithEvents lists every user that has at least one event.
func (r *AnalyticsRepository) UsersWithEvents(ctx context.Context) ([]int64, error) {
	const query = `SELECT DISTINCT user_id FROM analytics_events ORDER BY user_id`
	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("list users with events: %w", err)
	}
	return ids, nil
}

// SaveTrustIndex overwrites the school's trust index and mirrors the value onto the school row.
func (r *AnalyticsRepository) SaveTrustIndex(ctx context.Context, idx *models.TrustIndex) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin trust index transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if idx.UpdatedAt.IsZero() {
		idx.UpdatedAt = time.Now().UTC()
	}
	const upsert = `INSERT INTO trust_indices (school_id, avg_response_time, confirmation_rate, payment_rate, completion_rate, avg_processing_delay, index_value, updated_at)
		VALUES (:school_id, :avg_response_time, :confirmation_rate, :payment_rate, :completion_rate, :avg_processing_delay, :index_value, :updated_at)
		ON CONFLICT (school_id) DO UPDATE SET
			avg_response_time = EXCLUDED.avg_response_time,
			confirmation_rate = EXCLUDED.confirmation_rate,
			payment_rate = EXCLUDED.payment_rate,
			completion_rate = EXCLUDED.completion_rate,
			avg_processing_delay = EXCLUDED.avg_processing_delay,
			index_value = EXCLUDED.index_value,
			updated_at = EXCLUDED.updated_at`
	if _, err = tx.NamedExecContext(ctx, upsert, idx); err != nil {
		return fmt.Errorf("upsert trust index: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `UPDATE schools SET trust_index = $1, updated_at = $2 WHERE id = $3`, idx.Value, idx.UpdatedAt, idx.SchoolID); err != nil {
		return fmt.Errorf("mirror trust index: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit trust index: %w", err)
	}
	return nil
}

// SaveDisciplineIndex overwrites the student's discipline index.
func (r *AnalyticsRepository) SaveDisciplineIndex(ctx context.Context, idx *models.DisciplineIndex) error {
	if idx.UpdatedAt.IsZero() {
		idx.UpdatedAt = time.Now().UTC()
	}
	const upsert = `INSERT INTO discipline_indices (user_id, avg_step_time, return_count, reaction_delay, total_clicks, index_value, updated_at)
		VALUES (:user_id, :avg_step_time, :return_count, :reaction_delay, :total_clicks, :index_value, :updated_at)
		ON CONFLICT (user_id) DO UPDATE SET
			avg_step_time = EXCLUDED.avg_step_time,
			return_count = EXCLUDED.return_count,
			reaction_delay = EXCLUDED.reaction_delay,
			total_clicks = EXCLUDED.total_clicks,
			index_value = EXCLUDED.index_value,
			updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, upsert, idx); err != nil {
		return fmt.Errorf("upsert discipline index: %w", err)
	}
	return nil
}

// FindTrustIndex returns the stored trust index of a school.
func (r *AnalyticsRepository) FindTrustIndex(ctx context.Context, schoolID int64) (*models.TrustIndex, error) {
	const query = `SELECT school_id, avg_response_time, confirmation_rate, payment_rate, completion_rate, avg_processing_delay, index_value, updated_at
		FROM trust_indices WHERE school_id = $1`
	var idx models.TrustIndex
	if err := r.db.GetContext(ctx, &idx, query, schoolID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find trust index: %w", err)
	}
	return &idx, nil
}

// FindDisciplineIndex returns the stored discipline index of a student.
func (r *AnalyticsRepository) FindDisciplineIndex(ctx context.Context, userID int64) (*models.DisciplineIndex, error) {
	const query = `SELECT user_id, avg_step_time, return_count, reaction_delay, total_clicks, index_value, updated_at
		FROM discipline_indices WHERE user_id = $1`
	var idx models.DisciplineIndex
	if err := r.db.GetContext(ctx, &idx, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find discipline index: %w", err)
	}
	return &idx, nil
}

// TrustLeaderboard returns the highest scored active schools.
func (r *AnalyticsRepository) TrustLeaderboard(ctx context.Context, limit int) ([]models.TrustLeader, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	const query = `SELECT t.school_id, s.name AS school_name, c.name AS city_name, t.index_value
		FROM trust_indices t JOIN schools s ON s.id = t.school_id JOIN cities c ON c.id = s.city_id
		WHERE s.active = TRUE ORDER BY t.index_value DESC, s.rating DESC, s.id LIMIT $1`
	var leaders []models.TrustLeader
	if err := r.db.SelectContext(ctx, &leaders, query, limit); err != nil {
		return nil, fmt.Errorf("trust leaderboard: %w", err)
	}
	return leaders, nil
}
