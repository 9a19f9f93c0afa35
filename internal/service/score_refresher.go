package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/avtomat-kz/avtomat-api/internal/models"
	"github.com/avtomat-kz/avtomat-api/pkg/jobs"
)

const (
	jobRefreshTrust      = "refresh_trust"
	jobRefreshDiscipline = "refresh_discipline"
	jobSweep             = "sweep"
)

type indexRefresher interface {
	RefreshTrustIndex(ctx context.Context, schoolID int64) (*models.TrustIndex, error)
	RefreshDisciplineIndex(ctx context.Context, userID int64) (*models.DisciplineIndex, error)
	RefreshAllTrustIndices(ctx context.Context) error
	RefreshAllDisciplineIndices(ctx context.Context) error
}

// ScoreRefresherConfig tunes the background recomputation queue.
type ScoreRefresherConfig struct {
	Workers       int
	MaxRetries    int
	SweepInterval time.Duration
	Logger        *zap.Logger
}

// ScoreRefresher recomputes indices off the request path. Each job overwrites one
// index record, so duplicate or concurrent jobs for a subject are harmless.
type ScoreRefresher struct {
	analytics indexRefresher
	queue     *jobs.Queue
	interval  time.Duration
	logger    *zap.Logger

	stopOnce sync.Once
	done     chan struct{}
}

// NewScoreRefresher constructs a refresher backed by a jobs.Queue.
func NewScoreRefresher(analytics indexRefresher, cfg ScoreRefresherConfig) *ScoreRefresher {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	r := &ScoreRefresher{analytics: analytics, interval: cfg.SweepInterval, logger: cfg.Logger, done: make(chan struct{})}
	r.queue = jobs.NewQueue("scoring", r.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		BufferSize: 256,
		Logger:     cfg.Logger,
	})
	return r
}

// Start launches workers and, when an interval is configured, the periodic sweep.
func (r *ScoreRefresher) Start(ctx context.Context) {
	r.queue.Start(ctx)
	if r.interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.done:
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

// Stop halts the sweep and drains workers.
func (r *ScoreRefresher) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	r.queue.Stop()
}

// RefreshTrust schedules a trust index recomputation for a school.
func (r *ScoreRefresher) RefreshTrust(schoolID int64) {
	r.enqueue(jobRefreshTrust, schoolID)
}

// RefreshDiscipline schedules a discipline index recomputation for a student.
func (r *ScoreRefresher) RefreshDiscipline(userID int64) {
	r.enqueue(jobRefreshDiscipline, userID)
}

// Sweep schedules recomputation of every index.
func (r *ScoreRefresher) Sweep() {
	r.enqueue(jobSweep, 0)
}

func (r *ScoreRefresher) enqueue(kind string, subject int64) {
	job := jobs.Job{ID: fmt.Sprintf("%s:%d", kind, subject), Type: kind, Payload: subject}
	if err := r.queue.Enqueue(job); err != nil {
		r.logger.Warn("score refresh not scheduled", zap.String("job", job.ID), zap.Error(err))
	}
}

func (r *ScoreRefresher) handle(ctx context.Context, job jobs.Job) error {
	subject, _ := job.Payload.(int64)
	switch job.Type {
	case jobRefreshTrust:
		_, err := r.analytics.RefreshTrustIndex(ctx, subject)
		return err
	case jobRefreshDiscipline:
		_, err := r.analytics.RefreshDisciplineIndex(ctx, subject)
		return err
	case jobSweep:
		start := time.Now()
		trustErr := r.analytics.RefreshAllTrustIndices(ctx)
		disciplineErr := r.analytics.RefreshAllDisciplineIndices(ctx)
		r.logger.Info("score sweep finished", zap.Duration("took", time.Since(start)),
			zap.NamedError("trust_error", trustErr), zap.NamedError("discipline_error", disciplineErr))
		// per-subject failures are logged by the sweep itself
		return nil
	default:
		r.logger.Error("unknown scoring job", zap.String("type", job.Type))
		return nil
	}
}
