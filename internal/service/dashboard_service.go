package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/avtomat-kz/avtomat-api/internal/models"
	appErrors "github.com/avtomat-kz/avtomat-api/pkg/errors"
)

const dashboardCachePrefix = "dashboard"

type statusCounter interface {
	CountByStatus(ctx context.Context, filter models.ApplicationFilter) ([]models.StatusCount, error)
}

type ownedSchoolFinder interface {
	FindByOwner(ctx context.Context, userID int64) (*models.School, error)
}

// DashboardService summarises applications per staff identity with a Redis backed cache.
type DashboardService struct {
	counts  statusCounter
	schools ownedSchoolFinder
	cache   *CacheService
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewDashboardService constructs a DashboardService. cache may be nil.
func NewDashboardService(counts statusCounter, schools ownedSchoolFinder, cache *CacheService, ttl time.Duration, logger *zap.Logger) *DashboardService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{counts: counts, schools: schools, cache: cache, ttl: ttl, logger: logger, now: time.Now}
}

func dashboardKey(who models.StaffIdentity) string {
	if who.SeesAll() {
		return dashboardCachePrefix + ":all"
	}
	return fmt.Sprintf("%s:%d", dashboardCachePrefix, who.UserID)
}

// Stats returns status counters for who and reports whether they came from cache.
func (s *DashboardService) Stats(ctx context.Context, who models.StaffIdentity) (*models.DashboardStats, bool, error) {
	key := dashboardKey(who)
	var cached models.DashboardStats
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, true, nil
	}

	rows, err := s.counts.CountByStatus(ctx, who.Scope())
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count applications")
	}
	stats := &models.DashboardStats{
		ByStatus:    make(map[models.ApplicationStatus]int, len(models.ApplicationStatuses)),
		GeneratedAt: s.now().UTC(),
	}
	for _, status := range models.ApplicationStatuses {
		stats.ByStatus[status] = 0
	}
	for _, row := range rows {
		stats.ByStatus[row.Status] = row.Count
		stats.Total += row.Count
	}

	if who.Role == models.RoleSchool && s.schools != nil {
		school, err := s.schools.FindByOwner(ctx, who.UserID)
		switch {
		case err == nil:
			value := school.TrustIndex
			stats.TrustIndex = &value
		case errors.Is(err, sql.ErrNoRows):
		default:
			s.logger.Warn("dashboard trust lookup failed", zap.Int64("user_id", who.UserID), zap.Error(err))
		}
	}

	_ = s.cache.Set(ctx, key, stats, s.ttl)
	return stats, false, nil
}

// Invalidate drops cached dashboards of the given owners and the admin view.
func (s *DashboardService) Invalidate(ctx context.Context, ownerIDs ...int64) {
	keys := []string{dashboardCachePrefix + ":all"}
	for _, id := range ownerIDs {
		keys = append(keys, fmt.Sprintf("%s:%d", dashboardCachePrefix, id))
	}
	for _, key := range keys {
		if err := s.cache.Invalidate(ctx, key); err != nil {
			s.logger.Warn("dashboard cache invalidation failed", zap.String("key", key), zap.Error(err))
		}
	}
}
