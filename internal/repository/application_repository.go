package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/avtomat-kz/avtomat-api/internal/models"
)

const applicationColumns = `a.id, a.student_id, a.school_id, a.instructor_id, a.city_id, a.category, a.format, a.time_slot, a.status,
	a.student_name, a.student_phone, a.created_at, a.updated_at, a.status_changed_at`

const applicationDetailFrom = ` FROM applications a
	JOIN cities c ON c.id = a.city_id
	JOIN users u ON u.id = a.student_id
	LEFT JOIN schools s ON s.id = a.school_id
	LEFT JOIN instructors i ON i.id = a.instructor_id`

const applicationDetailColumns = applicationColumns + `, c.name AS city_name, s.name AS school_name, i.name AS instructor_name,
	COALESCE(s.user_id, i.user_id) AS owner_id, u.telegram_id AS student_telegram_id`

// ApplicationRepository persists applications.
type ApplicationRepository struct {
	db *sqlx.DB
}

// NewApplicationRepository constructs an ApplicationRepository.
func NewApplicationRepository(db *sqlx.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

// Create inserts app after locking its city and target so neither can be
// deactivated mid-insert. Returns sql.ErrNoRows when either reference is gone.
func (r *ApplicationRepository) Create(ctx context.Context, app *models.Application) (err error) {
	target, err := app.Target()
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin application transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var lockedID int64
	if err = tx.GetContext(ctx, &lockedID, `SELECT id FROM cities WHERE id = $1 AND active = TRUE FOR SHARE`, app.CityID); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("lock city: %w", err)
	}

	switch t := target.(type) {
	case models.SchoolTarget:
		err = tx.GetContext(ctx, &lockedID, `SELECT id FROM schools WHERE id = $1 AND active = TRUE FOR SHARE`, t.SchoolID)
	case models.InstructorTarget:
		err = tx.GetContext(ctx, &lockedID, `SELECT id FROM instructors WHERE id = $1 AND active = TRUE FOR SHARE`, t.InstructorID)
	}
	if err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("lock %s: %w", target.Kind(), err)
	}

	now := time.Now().UTC()
	if app.Status == "" {
		app.Status = models.StatusNew
	}
	app.CreatedAt, app.UpdatedAt = now, now

	const insert = `INSERT INTO applications (student_id, school_id, instructor_id, city_id, category, format, time_slot, status,
		student_name, student_phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11) RETURNING id`
	if err = tx.GetContext(ctx, &app.ID, insert, app.StudentID, app.SchoolID, app.InstructorID, app.CityID, app.Category, app.Format,
		app.TimeSlot, app.Status, app.StudentName, app.StudentPhone, now); err != nil {
		return fmt.Errorf("insert application: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit application: %w", err)
	}
	return nil
}

// FindDetail returns an application with joined display fields.
func (r *ApplicationRepository) FindDetail(ctx context.Context, id int64) (*models.ApplicationDetail, error) {
	query := `SELECT ` + applicationDetailColumns + applicationDetailFrom + ` WHERE a.id = $1 LIMIT 1`
	var detail models.ApplicationDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find application: %w", err)
	}
	return &detail, nil
}

func applicationConditions(filter models.ApplicationFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	if !filter.AllOwners {
		conditions = append(conditions, fmt.Sprintf("COALESCE(s.user_id, i.user_id) = $%d", len(args)+1))
		args = append(args, filter.OwnerID)
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("a.status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

// List returns a page of applications visible to the filter's owner, newest first.
func (r *ApplicationRepository) List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, int, error) {
	where, args := applicationConditions(filter)

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s%s%s ORDER BY a.created_at DESC, a.id DESC LIMIT %d OFFSET %d",
		applicationDetailColumns, applicationDetailFrom, where, pageSize, offset)
	var items []models.ApplicationDetail
	if err := r.db.SelectContext(ctx, &items, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list applications: %w", err)
	}

	countQuery := "SELECT COUNT(*)" + applicationDetailFrom + where
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count applications: %w", err)
	}
	return items, total, nil
}

// ListAll returns every application matching filter without paging.
func (r *ApplicationRepository) ListAll(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, error) {
	where, args := applicationConditions(filter)
	query := "SELECT " + applicationDetailColumns + applicationDetailFrom + where + " ORDER BY a.created_at DESC, a.id DESC"
	var items []models.ApplicationDetail
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("export applications: %w", err)
	}
	return items, nil
}

// ListBySchool returns every application of a school for scoring.
func (r *ApplicationRepository) ListBySchool(ctx context.Context, schoolID int64) ([]models.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications a WHERE a.school_id = $1 ORDER BY a.id`
	var apps []models.Application
	if err := r.db.SelectContext(ctx, &apps, query, schoolID); err != nil {
		return nil, fmt.Errorf("list school applications: %w", err)
	}
	return apps, nil
}

// CountByStatus groups visible applications by status.
func (r *ApplicationRepository) CountByStatus(ctx context.Context, filter models.ApplicationFilter) ([]models.StatusCount, error) {
	filter.Status = nil
	where, args := applicationConditions(filter)
	query := "SELECT a.status, COUNT(*) AS count" + applicationDetailFrom + where + " GROUP BY a.status"
	var counts []models.StatusCount
	if err := r.db.SelectContext(ctx, &counts, query, args...); err != nil {
		return nil, fmt.Errorf("count applications by status: %w", err)
	}
	return counts, nil
}

// UpdateStatus moves an application from expected to next only if no one changed it
// meanwhile. Returns sql.ErrNoRows when the compare fails.
func (r *ApplicationRepository) UpdateStatus(ctx context.Context, id int64, expected, next models.ApplicationStatus, changedAt time.Time) error {
	const query = `UPDATE applications SET status = $1, status_changed_at = $2, updated_at = $2 WHERE id = $3 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, next, changedAt, id, expected)
	if err != nil {
		return fmt.Errorf("update application status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update application status rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
