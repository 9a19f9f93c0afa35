package bot

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/avtomat-kz/avtomat-api/internal/models"
	"github.com/avtomat-kz/avtomat-api/pkg/jobs"
	"github.com/avtomat-kz/avtomat-api/pkg/middleware/requestid"
)

// Responder delivers engine outcomes back to the chat platform.
type Responder interface {
	Send(ctx context.Context, msg models.OutboundMessage) error
	Answer(ctx context.Context, alert models.Alert) error
}

// UpdateRecorder counts handled actions.
type UpdateRecorder interface {
	RecordBotUpdate(kind, outcome string)
}

type handler interface {
	Handle(ctx context.Context, a Action) (Outcome, error)
}

// RunnerConfig tunes the update runner.
type RunnerConfig struct {
	// MaxPending caps the actions waiting behind one user.
	MaxPending int
	Logger     *zap.Logger
}

// Runner feeds actions to the engine. Actions of one user are handled one at a
// time and in arrival order; different users never wait on each other.
type Runner struct {
	engine    handler
	responder Responder
	metrics   UpdateRecorder
	users     *jobs.Serial
	logger    *zap.Logger
}

// NewRunner wires an engine to a responder. metrics may be nil.
func NewRunner(engine handler, responder Responder, metrics UpdateRecorder, cfg RunnerConfig) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	r := &Runner{engine: engine, responder: responder, metrics: metrics, logger: cfg.Logger}
	r.users = jobs.NewSerial("bot-updates", r.process, jobs.SerialConfig{
		MaxPending: cfg.MaxPending,
		Logger:     cfg.Logger,
	})
	return r
}

// Start enables submission.
func (r *Runner) Start(ctx context.Context) { r.users.Start(ctx) }

// Stop waits for in-flight actions to finish.
func (r *Runner) Stop() { r.users.Stop() }

// Submit schedules an action without blocking. It fails when the user already
// has too many actions waiting.
func (r *Runner) Submit(a Action) error {
	if a.ID == "" {
		a.ID = requestid.New()
	}
	return r.users.Submit(jobs.Job{
		ID:      a.ID,
		Type:    a.Kind.String(),
		Key:     strconv.FormatInt(a.UserID, 10),
		Payload: a,
	})
}

func (r *Runner) process(ctx context.Context, job jobs.Job) error {
	a, ok := job.Payload.(Action)
	if !ok {
		return fmt.Errorf("unexpected payload %T", job.Payload)
	}
	r.Dispatch(ctx, a)
	return nil
}

// Dispatch handles one action synchronously and delivers the outcome.
func (r *Runner) Dispatch(ctx context.Context, a Action) {
	ctx = requestid.WithContext(ctx, a.ID)
	result := "ok"
	out, err := r.engine.Handle(ctx, a)
	if err != nil {
		result = "error"
		r.logger.Error("bot action failed",
			zap.String("action_id", a.ID),
			zap.Int64("telegram_id", a.UserID),
			zap.String("kind", a.Kind.String()),
			zap.Error(err),
		)
		out = Outcome{Messages: []models.OutboundMessage{{ChatID: a.ChatID, Text: InternalErrorText}}}
	}
	if r.metrics != nil {
		r.metrics.RecordBotUpdate(a.Kind.String(), result)
	}

	// every button press is answered so the client stops its spinner
	if a.CallbackID != "" {
		alert := models.Alert{CallbackID: a.CallbackID}
		if out.Alert != nil {
			alert = *out.Alert
		}
		if err := r.responder.Answer(ctx, alert); err != nil {
			r.logger.Warn("callback not answered", zap.String("action_id", a.ID), zap.Error(err))
		}
	}
	for _, msg := range out.Messages {
		if err := r.responder.Send(ctx, msg); err != nil {
			r.logger.Warn("reply not delivered", zap.String("action_id", a.ID), zap.Int64("chat_id", msg.ChatID), zap.Error(err))
		}
	}
}
