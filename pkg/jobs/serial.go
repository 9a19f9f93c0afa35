package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrBacklogFull is returned by Serial.Submit when a key already has too many
// jobs waiting.
var ErrBacklogFull = errors.New("jobs: key backlog full")

// SerialConfig configures a Serial executor.
type SerialConfig struct {
	// MaxPending caps the jobs waiting behind one key. Zero selects the default.
	MaxPending int
	Logger     *zap.Logger
}

// Serial runs jobs sharing a Key one at a time, in submission order. Each active
// key gets its own goroutine, which exits once the key's backlog drains, so a
// slow job only delays later jobs of the same key. Jobs without a key run
// immediately on a goroutine of their own. Failed jobs are logged, not retried.
type Serial struct {
	name       string
	handler    Handler
	maxPending int
	logger     *zap.Logger

	mu      sync.Mutex
	pending map[string][]Job
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewSerial builds a keyed executor with the provided handler.
func NewSerial(name string, handler Handler, cfg SerialConfig) *Serial {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Serial{
		name:       name,
		handler:    handler,
		maxPending: cfg.MaxPending,
		logger:     cfg.Logger,
		pending:    make(map[string][]Job),
	}
}

// Start enables submission. Safe to call once.
func (s *Serial) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.logger.Info("serial executor started", zap.String("executor", s.name))
}

// Stop cancels the context handed to running jobs and waits for them to return.
// Jobs still waiting are dropped.
func (s *Serial) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info("serial executor stopped", zap.String("executor", s.name))
}

// Submit schedules job without blocking.
func (s *Serial) Submit(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return fmt.Errorf("executor %s not started", s.name)
	}
	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("executor %s stopped: %w", s.name, err)
	}

	s.wg.Add(1)
	if job.Key == "" {
		go func() {
			defer s.wg.Done()
			s.run(job)
		}()
		return nil
	}

	backlog, active := s.pending[job.Key]
	if len(backlog) >= s.maxPending {
		s.wg.Done()
		return fmt.Errorf("executor %s key %s: %w", s.name, job.Key, ErrBacklogFull)
	}
	s.pending[job.Key] = append(backlog, job)
	if active {
		s.wg.Done()
		return nil
	}
	go s.drain(job.Key)
	return nil
}

// active returns the number of keys with a running or waiting job.
func (s *Serial) active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Serial) drain(key string) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		backlog := s.pending[key]
		if len(backlog) == 0 || s.ctx.Err() != nil {
			delete(s.pending, key)
			s.mu.Unlock()
			return
		}
		job := backlog[0]
		// the executing job stays in the backlog until it returns so the key
		// remains active and later submissions queue behind it
		s.mu.Unlock()

		s.run(job)

		s.mu.Lock()
		s.pending[key] = s.pending[key][1:]
		s.mu.Unlock()
	}
}

func (s *Serial) run(job Job) {
	if err := invoke(s.ctx, s.handler, job); err != nil {
		s.logger.Error("job failed",
			zap.String("executor", s.name),
			zap.String("job_id", job.ID),
			zap.String("type", job.Type),
			zap.String("key", job.Key),
			zap.Error(err),
		)
	}
}
