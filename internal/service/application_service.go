package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/avtomat-kz/avtomat-api/internal/models"
	appErrors "github.com/avtomat-kz/avtomat-api/pkg/errors"
	"github.com/avtomat-kz/avtomat-api/pkg/middleware/requestid"
)

type staffApplicationRepository interface {
	List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, int, error)
	FindDetail(ctx context.Context, id int64) (*models.ApplicationDetail, error)
	UpdateStatus(ctx context.Context, id int64, expected, next models.ApplicationStatus, changedAt time.Time) error
}

type trustScheduler interface {
	RefreshTrust(schoolID int64)
}

type confirmationSender interface {
	Send(ctx context.Context, applicationID int64) error
}

type dashboardInvalidator interface {
	Invalidate(ctx context.Context, ownerIDs ...int64)
}

// ApplicationListRequest carries staff list query parameters.
type ApplicationListRequest struct {
	Status   string
	Page     int
	PageSize int
}

// ApplicationService implements staff operations over applications.
type ApplicationService struct {
	repo      staffApplicationRepository
	trust     trustScheduler
	sender    confirmationSender
	dashboard dashboardInvalidator
	logger    *zap.Logger
	now       func() time.Time
}

// NewApplicationService constructs an ApplicationService. trust, sender and dashboard may be nil.
func NewApplicationService(repo staffApplicationRepository, trust trustScheduler, sender confirmationSender, dashboard dashboardInvalidator, logger *zap.Logger) *ApplicationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApplicationService{repo: repo, trust: trust, sender: sender, dashboard: dashboard, logger: logger, now: time.Now}
}

// List returns a page of applications visible to who, newest first.
func (s *ApplicationService) List(ctx context.Context, who models.StaffIdentity, req ApplicationListRequest) ([]models.ApplicationDetail, *models.Pagination, error) {
	filter := who.Scope()
	if req.Status != "" {
		status, ok := models.ParseApplicationStatus(req.Status)
		if !ok {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown status filter")
		}
		filter.Status = &status
	}
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize <= 0 || req.PageSize > 100 {
		req.PageSize = 20
	}
	filter.Page, filter.PageSize = req.Page, req.PageSize

	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applications")
	}
	return items, &models.Pagination{Page: req.Page, PageSize: req.PageSize, TotalCount: total}, nil
}

// Get returns one application. Records of other owners are reported as not found.
func (s *ApplicationService) Get(ctx context.Context, who models.StaffIdentity, id int64) (*models.ApplicationDetail, error) {
	detail, err := s.repo.FindDetail(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	if !who.CanSee(detail.OwnerID) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
	}
	return detail, nil
}

// UpdateStatus moves an application along the lifecycle graph. Setting the current
// status again is a no-op. A concurrent change between read and write yields ErrStatusConflict.
func (s *ApplicationService) UpdateStatus(ctx context.Context, who models.StaffIdentity, id int64, raw string) (*models.ApplicationDetail, error) {
	next, ok := models.ParseApplicationStatus(raw)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrIllegalStatus, "unknown status "+raw)
	}
	detail, err := s.Get(ctx, who, id)
	if err != nil {
		return nil, err
	}
	current := detail.Status
	if current == next {
		return detail, nil
	}
	if !current.CanTransitionTo(next) {
		return nil, appErrors.Clone(appErrors.ErrIllegalStatus, "cannot move application from "+string(current)+" to "+string(next))
	}

	if err := s.repo.UpdateStatus(ctx, id, current, next, s.now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrStatusConflict, "application status changed, reload and retry")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update status")
	}
	s.logger.Info("application status changed",
		zap.Int64("application_id", id),
		zap.String("from", string(current)),
		zap.String("to", string(next)),
		zap.Int64("actor_id", who.UserID),
		zap.String("request_id", requestid.FromContext(ctx)),
	)

	if detail.SchoolID != nil && s.trust != nil {
		s.trust.RefreshTrust(*detail.SchoolID)
	}
	if s.dashboard != nil {
		s.dashboard.Invalidate(ctx, detail.OwnerID)
	}

	updated, err := s.Get(ctx, who, id)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SendResponse re-sends the confirmation to the student. Delivery failures are
// reported as delivered=false rather than an error.
func (s *ApplicationService) SendResponse(ctx context.Context, who models.StaffIdentity, id int64) (bool, error) {
	if _, err := s.Get(ctx, who, id); err != nil {
		return false, err
	}
	if s.sender == nil {
		return false, nil
	}
	if err := s.sender.Send(ctx, id); err != nil {
		if appErrors.Is(err, appErrors.ErrDeliveryFailed) {
			s.logger.Warn("manual confirmation not delivered", zap.Int64("application_id", id), zap.Error(err))
			return false, nil
		}
		return false, err
	}
	return true, nil
}
