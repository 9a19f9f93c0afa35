package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/avtomat-kz/avtomat-api/internal/models"
	appErrors "github.com/avtomat-kz/avtomat-api/pkg/errors"
	"github.com/avtomat-kz/avtomat-api/pkg/middleware/requestid"
)

type studentRegistry interface {
	GetOrCreateByTelegramID(ctx context.Context, telegramID int64, username string) (*models.User, error)
}

type applicationCreator interface {
	Create(ctx context.Context, app *models.Application) error
}

// ApplicationFactory turns a completed conversation draft into a persisted application.
type ApplicationFactory struct {
	students     studentRegistry
	cities       cityReader
	applications applicationCreator
	metrics      *MetricsService
	logger       *zap.Logger
	now          func() time.Time
}

// NewApplicationFactory constructs an ApplicationFactory.
func NewApplicationFactory(students studentRegistry, cities cityReader, applications applicationCreator, metrics *MetricsService, logger *zap.Logger) *ApplicationFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApplicationFactory{students: students, cities: cities, applications: applications, metrics: metrics, logger: logger, now: time.Now}
}

// Create registers the student if needed and inserts a new application in status new.
// Missing or inactive city or target yields ErrNotFound and nothing is written.
func (f *ApplicationFactory) Create(ctx context.Context, student models.Student, draft models.ApplicationDraft) (*models.Application, error) {
	if draft.Target == nil {
		return nil, appErrors.Clone(appErrors.ErrTargetAmbiguous, "application target is missing")
	}
	name := strings.TrimSpace(draft.Name)
	if name == "" || draft.Phone == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student name and phone are required")
	}

	app := &models.Application{
		Status:       models.StatusNew,
		StudentName:  name,
		StudentPhone: draft.Phone,
	}
	app.SetTarget(draft.Target)

	switch draft.Target.Kind() {
	case models.TargetSchool:
		if !models.ValidCategory(draft.Category) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown licence category")
		}
		format := draft.Format
		if format == "" {
			format = models.FormatOffline
		}
		app.Category = draft.Category
		app.Format = string(format)
	case models.TargetInstructor:
		app.TimeSlot = draft.TimeSlot
	}

	city, err := f.cities.FindActiveByName(ctx, draft.CityName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "city not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve city")
	}
	app.CityID = city.ID

	user, err := f.students.GetOrCreateByTelegramID(ctx, student.TelegramID, student.Username)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register student")
	}
	app.StudentID = user.ID

	now := f.now().UTC()
	app.CreatedAt, app.UpdatedAt = now, now

	if err := f.applications.Create(ctx, app); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "city or target is not available")
		case errors.Is(err, models.ErrAmbiguousTarget):
			return nil, appErrors.Clone(appErrors.ErrTargetAmbiguous, err.Error())
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create application")
		}
	}

	f.metrics.RecordApplicationCreated(draft.Target.Kind())
	f.logger.Info("application created",
		zap.Int64("application_id", app.ID),
		zap.String("target", string(draft.Target.Kind())),
		zap.Int64("student_id", app.StudentID),
		zap.String("correlation_id", requestid.FromContext(ctx)),
	)
	return app, nil
}
