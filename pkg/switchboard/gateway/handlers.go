// Package gateway implements the application RPC methods served by the
// switchboard: session management, chat messages and a calculator.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tsarna/switchboard/pkg/switchboard/envelope"
	"github.com/tsarna/switchboard/pkg/switchboard/events"
	"github.com/tsarna/switchboard/pkg/switchboard/rpc"
	"github.com/tsarna/switchboard/pkg/switchboard/runtime"
	"github.com/tsarna/switchboard/pkg/switchboard/store"
	"go.uber.org/zap"
)

// Method names.
const (
	MethodSessionsList        = "gateway.sessions.list"
	MethodSessionsCreate      = "gateway.sessions.create"
	MethodSessionsRename      = "gateway.sessions.rename"
	MethodSessionsGet         = "gateway.sessions.get"
	MethodSessionsSendMessage = "gateway.sessions.sendMessage"
	MethodMathEvaluate        = "gateway.math.evaluate"
)

const (
	// MainSessionID receives messages sent without a session id.
	MainSessionID    = "s_main"
	mainSessionTitle = "Main"

	defaultSessionTitle = "New Session"

	// TopicRunQueued is pushed to the caller of sendMessage only.
	TopicRunQueued = "run.queued"
)

const sendMessageSchema = `{
	"type": "object",
	"properties": {
		"sessionId": {"type": "string"},
		"text": {"type": "string", "minLength": 1}
	},
	"required": ["text"]
}`

const evaluateSchema = `{
	"type": "object",
	"properties": {
		"expression": {"type": "string"}
	},
	"required": ["expression"]
}`

// Handlers serves the gateway methods.
type Handlers struct {
	bus    events.EventBus
	store  *store.Store
	agent  *runtime.Agent
	logger *zap.Logger
}

// NewHandlers creates the gateway handlers. A nil logger disables logging.
func NewHandlers(bus events.EventBus, st *store.Store, agent *runtime.Agent, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{bus: bus, store: st, agent: agent, logger: logger}
}

// Register adds every gateway method to registry.
func (h *Handlers) Register(registry *rpc.Registry) error {
	plain := map[string]rpc.Handler{
		MethodSessionsList:   rpc.Typed(h.listSessions),
		MethodSessionsCreate: rpc.Typed(h.createSession),
		MethodSessionsRename: rpc.Typed(h.renameSession),
		MethodSessionsGet:    rpc.Typed(h.getSession),
	}
	for method, handler := range plain {
		if err := registry.Register(method, handler); err != nil {
			return err
		}
	}

	if err := registry.RegisterWithSchema(MethodSessionsSendMessage, sendMessageSchema, rpc.Typed(h.sendMessage)); err != nil {
		return err
	}
	return registry.RegisterWithSchema(MethodMathEvaluate, evaluateSchema, rpc.Typed(h.evaluate))
}

type noParams struct{}

type listResult struct {
	Sessions []store.Summary `json:"sessions"`
}

func (h *Handlers) listSessions(ctx context.Context, _ noParams, _ rpc.Emitter) (listResult, error) {
	sessions, err := h.store.List(ctx)
	if err != nil {
		return listResult{}, err
	}
	return listResult{Sessions: sessions}, nil
}

type createParams struct {
	Title string `json:"title"`
}

type sessionResult struct {
	Session *store.Session `json:"session"`
}

func (h *Handlers) createSession(ctx context.Context, params createParams, _ rpc.Emitter) (sessionResult, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		title = defaultSessionTitle
	}

	session, err := h.store.Create(ctx, title)
	if err != nil {
		return sessionResult{}, err
	}

	h.logger.Info("Session created", zap.String("session_id", session.SessionID))
	return sessionResult{Session: session}, nil
}

type renameParams struct {
	SessionID string `json:"sessionId"`
	Title     string `json:"title"`
}

func (h *Handlers) renameSession(ctx context.Context, params renameParams, _ rpc.Emitter) (sessionResult, error) {
	title := strings.TrimSpace(params.Title)
	if params.SessionID == "" || title == "" {
		return sessionResult{}, envelope.NewError(envelope.CodeInvalidParams, "sessionId and title are required")
	}

	session, err := h.store.Rename(ctx, params.SessionID, title)
	if errors.Is(err, store.ErrNotFound) {
		return sessionResult{}, envelope.Errorf(envelope.CodeNotFound, "Session not found: %s", params.SessionID)
	}
	if err != nil {
		return sessionResult{}, err
	}
	return sessionResult{Session: session}, nil
}

type getParams struct {
	SessionID string `json:"sessionId"`
}

// getSession answers {session: null} for an unknown id rather than failing.
func (h *Handlers) getSession(ctx context.Context, params getParams, _ rpc.Emitter) (sessionResult, error) {
	if params.SessionID == "" {
		return sessionResult{}, envelope.NewError(envelope.CodeInvalidParams, "sessionId is required")
	}

	session, err := h.store.Get(ctx, params.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return sessionResult{}, nil
	}
	if err != nil {
		return sessionResult{}, err
	}
	return sessionResult{Session: session}, nil
}

type sendMessageParams struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

type sendMessageResult struct {
	OK        bool   `json:"ok"`
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
	RunID     string `json:"runId"`
}

// sendMessage stores the user's message and starts a run answering it. The
// response does not wait for the run; its progress arrives as events.
func (h *Handlers) sendMessage(ctx context.Context, params sendMessageParams, emit rpc.Emitter) (sendMessageResult, error) {
	text := strings.TrimSpace(params.Text)
	if text == "" {
		return sendMessageResult{}, envelope.NewError(envelope.CodeInvalidParams, "text is required")
	}

	sessionID := params.SessionID
	if sessionID == "" {
		sessionID = MainSessionID
		if _, err := h.store.GetOrCreate(ctx, MainSessionID, mainSessionTitle); err != nil {
			return sendMessageResult{}, err
		}
	}

	msg, err := h.store.AddMessage(ctx, sessionID, store.RoleUser, text)
	if err != nil {
		return sendMessageResult{}, fmt.Errorf("storing message: %w", err)
	}

	h.bus.Publish(ctx, runtime.TopicSessionMessage, map[string]any{
		"sessionId": msg.SessionID,
		"messageId": msg.MessageID,
		"role":      string(msg.Role),
	})

	run := runtime.NewRun(sessionID, text)
	queued := envelope.NewEvent(TopicRunQueued, map[string]any{
		"runId":     run.RunID,
		"sessionId": sessionID,
	}, envelope.Trace{TraceID: run.RunID})
	if err := emit.Emit(queued); err != nil {
		h.logger.Debug("Could not notify caller of queued run", zap.String("run_id", run.RunID), zap.Error(err))
	}

	h.agent.Start(run)

	return sendMessageResult{
		OK:        true,
		SessionID: sessionID,
		MessageID: msg.MessageID,
		RunID:     run.RunID,
	}, nil
}

type evaluateParams struct {
	Expression string `json:"expression"`
}

type evaluateResult struct {
	Value float64 `json:"value"`
}

func (h *Handlers) evaluate(_ context.Context, params evaluateParams, _ rpc.Emitter) (evaluateResult, error) {
	value, err := runtime.Evaluate(params.Expression)
	if err != nil {
		return evaluateResult{}, envelope.NewError(envelope.CodeInvalidParams, err.Error())
	}
	return evaluateResult{Value: value}, nil
}
