package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avtomat-kz/avtomat-api/internal/models"
)

type responderStub struct {
	mu      sync.Mutex
	sent    []models.OutboundMessage
	answers []models.Alert
}

func (r *responderStub) Send(ctx context.Context, msg models.OutboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *responderStub) Answer(ctx context.Context, alert models.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers = append(r.answers, alert)
	return nil
}

type recorderStub struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recorderStub) RecordBotUpdate(kind, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, kind+"/"+outcome)
}

// orderEngine echoes actions and records the per-user handling order.
type orderEngine struct {
	mu       sync.Mutex
	seen     map[int64][]string
	inFlight map[int64]bool
	overlap  bool
	fail     bool
}

func (e *orderEngine) Handle(ctx context.Context, a Action) (Outcome, error) {
	e.mu.Lock()
	if e.inFlight[a.UserID] {
		e.overlap = true
	}
	e.inFlight[a.UserID] = true
	e.mu.Unlock()

	time.Sleep(time.Millisecond)

	e.mu.Lock()
	e.inFlight[a.UserID] = false
	e.seen[a.UserID] = append(e.seen[a.UserID], a.Text)
	e.mu.Unlock()

	if e.fail {
		return Outcome{}, errors.New("boom")
	}
	return Outcome{Messages: []models.OutboundMessage{{ChatID: a.ChatID, Text: a.Text}}}, nil
}

func TestRunnerKeepsPerUserOrder(t *testing.T) {
	engine := &orderEngine{seen: map[int64][]string{}, inFlight: map[int64]bool{}}
	responder := &responderStub{}
	runner := NewRunner(engine, responder, nil, RunnerConfig{})
	runner.Start(context.Background())

	texts := []string{"1", "2", "3", "4", "5"}
	for _, text := range texts {
		for _, user := range []int64{10, 20, 30} {
			require.NoError(t, runner.Submit(Action{UserID: user, ChatID: user, Kind: ActionText, Text: text}))
		}
	}

	require.Eventually(t, func() bool {
		responder.mu.Lock()
		defer responder.mu.Unlock()
		return len(responder.sent) == 15
	}, 2*time.Second, 5*time.Millisecond)
	runner.Stop()

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.False(t, engine.overlap)
	for _, user := range []int64{10, 20, 30} {
		assert.Equal(t, texts, engine.seen[user])
	}
}

// gateEngine holds actions of blocked users until release is closed.
type gateEngine struct {
	blocked map[int64]bool
	release chan struct{}
	handled chan int64
}

func (e *gateEngine) Handle(ctx context.Context, a Action) (Outcome, error) {
	if e.blocked[a.UserID] {
		<-e.release
	}
	e.handled <- a.UserID
	return Outcome{}, nil
}

func TestRunnerSlowUserDoesNotStallOthers(t *testing.T) {
	engine := &gateEngine{blocked: map[int64]bool{1: true}, release: make(chan struct{}), handled: make(chan int64, 16)}
	runner := NewRunner(engine, &responderStub{}, nil, RunnerConfig{MaxPending: 4})
	runner.Start(context.Background())
	defer runner.Stop()
	defer close(engine.release)

	for i := 0; i < 4; i++ {
		require.NoError(t, runner.Submit(Action{UserID: 1, ChatID: 1, Kind: ActionText, Text: "slow"}))
	}
	assert.Error(t, runner.Submit(Action{UserID: 1, ChatID: 1, Kind: ActionText, Text: "overflow"}))

	others := []int64{9, 17, 25}
	for _, user := range others {
		require.NoError(t, runner.Submit(Action{UserID: user, ChatID: user, Kind: ActionText, Text: "hi"}))
	}

	var got []int64
	for range others {
		select {
		case user := <-engine.handled:
			got = append(got, user)
		case <-time.After(time.Second):
			t.Fatalf("handled while user 1 is busy: %v", got)
		}
	}
	assert.ElementsMatch(t, others, got)
}

func TestDispatchReportsFailure(t *testing.T) {
	engine := &orderEngine{seen: map[int64][]string{}, inFlight: map[int64]bool{}, fail: true}
	responder := &responderStub{}
	recorder := &recorderStub{}
	runner := NewRunner(engine, responder, recorder, RunnerConfig{})

	runner.Dispatch(context.Background(), Action{UserID: 1, ChatID: 5, Kind: ActionButton, Data: "city:Almaty", CallbackID: "cb-1"})

	require.Len(t, responder.sent, 1)
	assert.Equal(t, InternalErrorText, responder.sent[0].Text)
	assert.Equal(t, []models.Alert{{CallbackID: "cb-1"}}, responder.answers)
	assert.Equal(t, []string{"button/error"}, recorder.outcomes)
}

func TestSubmitBeforeStartFails(t *testing.T) {
	runner := NewRunner(&orderEngine{}, &responderStub{}, nil, RunnerConfig{})
	assert.Error(t, runner.Submit(Action{UserID: 1}))
}
