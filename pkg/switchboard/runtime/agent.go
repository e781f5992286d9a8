// Package runtime executes agent runs: it answers a user message, records the
// reply in the session store and reports progress as events on the bus.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tsarna/switchboard/pkg/switchboard/events"
	"github.com/tsarna/switchboard/pkg/switchboard/store"
	"go.uber.org/zap"
)

// Event topics published while a run progresses.
const (
	TopicRunStarted     = "run.started"
	TopicRunDelta       = "run.delta"
	TopicRunFinished    = "run.finished"
	TopicSessionMessage = "session.message"
)

// Agent executes runs against a session store and reports them on a bus.
type Agent struct {
	bus    events.EventBus
	store  *store.Store
	logger *zap.Logger
	now    func() time.Time

	wg sync.WaitGroup
}

// NewAgent creates an Agent. A nil logger disables logging.
func NewAgent(bus events.EventBus, st *store.Store, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		bus:    bus,
		store:  st,
		logger: logger,
		now:    time.Now,
	}
}

// Start executes run in the background. The run outlives the request that
// created it, so it does not inherit a request context.
func (a *Agent) Start(run *Run) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.Run(context.Background(), run); err != nil {
			a.logger.Warn("Run failed",
				zap.String("run_id", run.RunID),
				zap.String("session_id", run.SessionID),
				zap.Error(err))
		}
	}()
}

// Wait blocks until every run started with Start has finished.
func (a *Agent) Wait() {
	a.wg.Wait()
}

// Run executes run synchronously. run.finished is always published, with
// status failed and the error when something goes wrong.
func (a *Agent) Run(ctx context.Context, run *Run) error {
	startedAt := run.start()
	a.logger.Debug("Run started", zap.String("run_id", run.RunID))

	a.bus.Publish(ctx, TopicRunStarted, map[string]any{
		"runId":     run.RunID,
		"sessionId": run.SessionID,
		"startedAt": startedAt.Format(time.RFC3339Nano),
	})

	err := a.execute(ctx, run)

	status := StatusCompleted
	var errValue any
	if err != nil {
		status = StatusFailed
		if ctx.Err() != nil {
			status = StatusCancelled
		}
		errValue = err.Error()
	}

	finishedAt, _ := run.finish(status, err)
	a.bus.Publish(context.WithoutCancel(ctx), TopicRunFinished, map[string]any{
		"runId":      run.RunID,
		"status":     string(status),
		"finishedAt": finishedAt.Format(time.RFC3339Nano),
		"error":      errValue,
	})

	a.logger.Debug("Run finished", zap.String("run_id", run.RunID), zap.String("status", string(status)))
	return err
}

func (a *Agent) execute(ctx context.Context, run *Run) error {
	a.bus.Publish(ctx, TopicRunDelta, map[string]any{
		"runId": run.RunID,
		"kind":  "text",
		"text":  "Thinking...",
	})

	reply := Reply(run.Text, a.now())

	msg, err := a.store.AddMessage(ctx, run.SessionID, store.RoleAssistant, reply)
	if err != nil {
		return fmt.Errorf("storing reply: %w", err)
	}

	a.bus.Publish(ctx, TopicSessionMessage, map[string]any{
		"sessionId": msg.SessionID,
		"messageId": msg.MessageID,
		"role":      string(msg.Role),
	})
	return nil
}
