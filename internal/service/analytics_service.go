package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/avtomat-kz/avtomat-api/internal/models"
	appErrors "github.com/avtomat-kz/avtomat-api/pkg/errors"
)

// AnalyticsRepository describes the persistence layer required by AnalyticsService.
type AnalyticsRepository interface {
	InsertEvent(ctx context.Context, event *models.AnalyticsEvent) error
	EventsByUser(ctx context.Context, userID int64) ([]models.AnalyticsEvent, error)
	UsersWithEvents(ctx context.Context) ([]int64, error)
	SaveTrustIndex(ctx context.Context, idx *models.TrustIndex) error
	SaveDisciplineIndex(ctx context.Context, idx *models.DisciplineIndex) error
	FindTrustIndex(ctx context.Context, schoolID int64) (*models.TrustIndex, error)
	FindDisciplineIndex(ctx context.Context, userID int64) (*models.DisciplineIndex, error)
	TrustLeaderboard(ctx context.Context, limit int) ([]models.TrustLeader, error)
}

type schoolApplicationReader interface {
	ListBySchool(ctx context.Context, schoolID int64) ([]models.Application, error)
}

type activeSchoolLister interface {
	ListActiveIDs(ctx context.Context) ([]int64, error)
}

// AnalyticsService records bot events and maintains trust and discipline indices.
type AnalyticsService struct {
	repo    AnalyticsRepository
	apps    schoolApplicationReader
	schools activeSchoolLister
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NewAnalyticsService constructs an analytics service.
func NewAnalyticsService(repo AnalyticsRepository, apps schoolApplicationReader, schools activeSchoolLister, metrics *MetricsService, logger *zap.Logger) *AnalyticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsService{repo: repo, apps: apps, schools: schools, metrics: metrics, logger: logger, now: time.Now}
}

// TrackEvent appends an event for userID. Timing relative to the previous event is filled by the store.
func (s *AnalyticsService) TrackEvent(ctx context.Context, userID int64, kind models.EventKind, step string, payload map[string]interface{}) (*models.AnalyticsEvent, error) {
	raw := []byte("{}")
	if len(payload) > 0 {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode event payload: %w", err)
		}
		raw = encoded
	}
	event := &models.AnalyticsEvent{
		UserID:    userID,
		Kind:      kind,
		StepName:  step,
		Payload:   raw,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.InsertEvent(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// RefreshTrustIndex recomputes and overwrites the trust index of one school.
func (s *AnalyticsService) RefreshTrustIndex(ctx context.Context, schoolID int64) (*models.TrustIndex, error) {
	start := time.Now()
	apps, err := s.apps.ListBySchool(ctx, schoolID)
	if err != nil {
		s.metrics.RecordScoreRefresh("trust", err)
		return nil, err
	}
	s.metrics.ObserveDBQuery("trust_applications", time.Since(start))

	score := ComputeTrustIndex(apps)
	idx := &models.TrustIndex{
		SchoolID:           schoolID,
		AvgResponseHours:   score.AvgResponseHours,
		ConfirmationRate:   score.ConfirmationRate,
		PaymentRate:        score.PaymentRate,
		CompletionRate:     score.CompletionRate,
		AvgProcessingDelay: score.AvgProcessingDelay,
		Value:              score.Value,
		UpdatedAt:          s.now().UTC(),
	}
	err = s.repo.SaveTrustIndex(ctx, idx)
	s.metrics.RecordScoreRefresh("trust", err)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("trust index refreshed", zap.Int64("school_id", schoolID), zap.Float64("value", idx.Value), zap.Int("applications", len(apps)))
	return idx, nil
}

// RefreshDisciplineIndex recomputes the discipline index of one student.
// It returns nil without writing when the student has no events.
func (s *AnalyticsService) RefreshDisciplineIndex(ctx context.Context, userID int64) (*models.DisciplineIndex, error) {
	events, err := s.repo.EventsByUser(ctx, userID)
	if err != nil {
		s.metrics.RecordScoreRefresh("discipline", err)
		return nil, err
	}
	score, ok := ComputeDisciplineIndex(events)
	if !ok {
		return nil, nil
	}
	idx := &models.DisciplineIndex{
		UserID:        userID,
		AvgStepTime:   score.AvgStepTime,
		ReturnCount:   score.ReturnCount,
		ReactionDelay: score.ReactionDelay,
		TotalClicks:   score.TotalClicks,
		Value:         score.Value,
		UpdatedAt:     s.now().UTC(),
	}
	err = s.repo.SaveDisciplineIndex(ctx, idx)
	s.metrics.RecordScoreRefresh("discipline", err)
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// RefreshAllTrustIndices sweeps every active school. Failures are collected, not fatal.
func (s *AnalyticsService) RefreshAllTrustIndices(ctx context.Context) error {
	ids, err := s.schools.ListActiveIDs(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.RefreshTrustIndex(ctx, id); err != nil {
			s.logger.Warn("trust index refresh failed", zap.Int64("school_id", id), zap.Error(err))
			errs = append(errs, fmt.Errorf("school %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// RefreshAllDisciplineIndices sweeps every student with events.
func (s *AnalyticsService) RefreshAllDisciplineIndices(ctx context.Context) error {
	ids, err := s.repo.UsersWithEvents(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.RefreshDisciplineIndex(ctx, id); err != nil {
			s.logger.Warn("discipline index refresh failed", zap.Int64("user_id", id), zap.Error(err))
			errs = append(errs, fmt.Errorf("user %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// TrustIndex returns the stored trust index of a school.
func (s *AnalyticsService) TrustIndex(ctx context.Context, schoolID int64) (*models.TrustIndex, error) {
	idx, err := s.repo.FindTrustIndex(ctx, schoolID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "trust index not computed yet")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load trust index")
	}
	return idx, nil
}

// DisciplineIndex returns the stored discipline index of a student.
func (s *AnalyticsService) DisciplineIndex(ctx context.Context, userID int64) (*models.DisciplineIndex, error) {
	idx, err := s.repo.FindDisciplineIndex(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "discipline index not computed yet")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load discipline index")
	}
	return idx, nil
}

// TrustLeaderboard lists the best scored schools.
func (s *AnalyticsService) TrustLeaderboard(ctx context.Context, limit int) ([]models.TrustLeader, error) {
	leaders, err := s.repo.TrustLeaderboard(ctx, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load leaderboard")
	}
	return leaders, nil
}
