package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/avtomat-kz/avtomat-api/internal/models"
	appErrors "github.com/avtomat-kz/avtomat-api/pkg/errors"
	"github.com/avtomat-kz/avtomat-api/pkg/middleware/requestid"
)

type applicationFactory interface {
	Create(ctx context.Context, student models.Student, draft models.ApplicationDraft) (*models.Application, error)
}

type eventTracker interface {
	TrackEvent(ctx context.Context, userID int64, kind models.EventKind, step string, payload map[string]interface{}) (*models.AnalyticsEvent, error)
}

type confirmationDispatcher interface {
	Dispatch(applicationID int64)
}

// WebAppDeps groups the WebAppService collaborators. Tracker, Notifier and Trust are optional.
type WebAppDeps struct {
	Students     studentRegistry
	Factory      applicationFactory
	Applications applicationDetailReader
	Tracker      eventTracker
	Notifier     confirmationDispatcher
	Trust        trustScheduler
	Logger       *zap.Logger
}

// WebAppService serves students who apply through the Mini App instead of the chat flow.
type WebAppService struct {
	deps WebAppDeps
	log  *zap.Logger
}

// NewWebAppService constructs a WebAppService.
func NewWebAppService(deps WebAppDeps) *WebAppService {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &WebAppService{deps: deps, log: log}
}

// Authenticate registers the verified Mini App user as a student and returns the profile.
func (s *WebAppService) Authenticate(ctx context.Context, user models.WebAppUser) (*models.WebAppProfile, error) {
	stored, err := s.deps.Students.GetOrCreateByTelegramID(ctx, user.ID, user.Username)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register student")
	}
	return &models.WebAppProfile{
		UserID:     stored.ID,
		TelegramID: user.ID,
		Username:   stored.Username,
		FirstName:  user.FirstName,
		LastName:   user.LastName,
	}, nil
}

// Submit creates an application the same way the chat flow completes: the factory
// writes it, then the confirmation and the school's trust refresh are scheduled.
func (s *WebAppService) Submit(ctx context.Context, user models.WebAppUser, req models.WebAppApplicationRequest) (*models.ApplicationDetail, error) {
	target, err := req.Target()
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrTargetAmbiguous, "exactly one of school_id and instructor_id is required")
	}
	phone, ok := models.NormalizePhone(req.Phone)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "phone must be +7 followed by 10 digits")
	}

	draft := models.ApplicationDraft{
		Target:   target,
		CityName: strings.TrimSpace(req.City),
		Name:     req.Name,
		Phone:    phone,
	}
	switch target.Kind() {
	case models.TargetSchool:
		draft.Category = req.Category
		if req.Format != "" {
			format, ok := models.ParseFormat(req.Format)
			if !ok {
				return nil, appErrors.Clone(appErrors.ErrValidation, "unknown format "+req.Format)
			}
			draft.Format = format
		}
	case models.TargetInstructor:
		draft.TimeSlot = req.PreferredTime
	}

	app, err := s.deps.Factory.Create(ctx, user.Student(), draft)
	if err != nil {
		return nil, err
	}
	s.log.Info("mini app application submitted",
		zap.Int64("application_id", app.ID),
		zap.Int64("telegram_id", user.ID),
		zap.String("request_id", requestid.FromContext(ctx)),
	)

	if s.deps.Tracker != nil {
		payload := map[string]interface{}{"application_id": app.ID, "source": "mini_app"}
		if _, err := s.deps.Tracker.TrackEvent(ctx, app.StudentID, models.EventApplicationCreated, "application_completed", payload); err != nil {
			s.log.Warn("analytics event not stored", zap.Int64("user_id", app.StudentID), zap.Error(err))
		}
	}
	if s.deps.Notifier != nil {
		s.deps.Notifier.Dispatch(app.ID)
	}
	if app.SchoolID != nil && s.deps.Trust != nil {
		s.deps.Trust.RefreshTrust(*app.SchoolID)
	}

	return s.Get(ctx, user, app.ID)
}

// Get returns an application of the Mini App user. Other students' records are not found.
func (s *WebAppService) Get(ctx context.Context, user models.WebAppUser, id int64) (*models.ApplicationDetail, error) {
	detail, err := s.deps.Applications.FindDetail(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	if detail.StudentChatID == nil || *detail.StudentChatID != user.ID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
	}
	return detail, nil
}
