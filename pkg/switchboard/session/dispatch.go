package session

import (
	"context"
	"fmt"

	"github.com/tsarna/switchboard/pkg/switchboard/envelope"
	"github.com/tsarna/switchboard/pkg/switchboard/o11y"
	"github.com/tsarna/switchboard/pkg/switchboard/rpc"
	"github.com/tsarna/switchboard/pkg/switchboard/topics"
	"go.uber.org/zap"
)

// dispatch handles one inbound frame. Built-in methods and protocol errors
// are answered inline by the reader; registry handlers run on their own
// goroutine so a slow handler does not hold up the rest of the connection.
func (c *Connection) dispatch(data []byte) {
	env, err := envelope.Parse(data)
	if err != nil {
		c.logger.Debug("Rejecting malformed frame", zap.Error(err), zap.Int("length", len(data)))
		c.reject(envelope.UnknownID, envelope.NewError(envelope.CodeInvalidRequest, err.Error()))
		return
	}

	if !envelope.IsRequest(env) {
		c.logger.Debug("Rejecting non-request frame", zap.String("kind", string(env.Kind)))
		c.reject(envelope.ExtractID(data), envelope.NewError(envelope.CodeInvalidRequest, "Not a request envelope"))
		return
	}

	req := env.Request
	c.logger.Debug("Received request", zap.String("id", req.ID), zap.String("method", req.Method))

	switch req.Method {
	case rpc.MethodSubscribeEvents, rpc.MethodSubscribeEventsLegacy:
		c.reply(c.subscribe(req))
		return
	case rpc.MethodUnsubscribeEvents, rpc.MethodUnsubscribeEventsLegacy:
		c.reply(c.unsubscribeEvents(req))
		return
	}

	handler, ok := c.config.registry.Lookup(req.Method)
	if !ok {
		c.reply(envelope.NewErrorResponse(req.ID,
			envelope.Errorf(envelope.CodeNotFound, "Unknown method: %s", req.Method), req.Trace))
		return
	}

	go c.invoke(handler, req)
}

func (c *Connection) reject(id string, rpcErr *envelope.Error) {
	c.metrics.RecordFrameError(c.ctx, rpcErr.Code)
	c.reply(envelope.NewErrorResponse(id, rpcErr, c.trace))
}

func (c *Connection) reply(resp *envelope.Response) {
	if err := c.sendResponse(resp); err != nil {
		c.logger.Debug("Discarding response", zap.String("id", resp.ID), zap.Error(err))
	}
}

// subscribe replaces the active subscription with the requested patterns.
func (c *Connection) subscribe(req *envelope.Request) *envelope.Response {
	patterns, ok := topicsParam(req.Params)
	if !ok {
		return envelope.NewErrorResponse(req.ID,
			envelope.NewError(envelope.CodeInvalidParams, "Expected params.topics: string[]"), req.Trace)
	}

	matcher := topics.Compile(patterns)
	c.matcher.Store(matcher)

	c.logger.Debug("Subscription replaced", zap.Strings("patterns", matcher.Patterns()))
	return envelope.NewResponse(req.ID, map[string]any{"ok": true}, req.Trace)
}

func (c *Connection) unsubscribeEvents(req *envelope.Request) *envelope.Response {
	c.matcher.Store(nil)

	c.logger.Debug("Subscription cleared")
	return envelope.NewResponse(req.ID, map[string]any{"ok": true}, req.Trace)
}

// topicsParam extracts params.topics as a list of strings.
func topicsParam(params map[string]any) ([]string, bool) {
	switch raw := params["topics"].(type) {
	case []string:
		return raw, true
	case []any:
		patterns := make([]string, 0, len(raw))
		for _, p := range raw {
			s, ok := p.(string)
			if !ok {
				return nil, false
			}
			patterns = append(patterns, s)
		}
		return patterns, true
	default:
		return nil, false
	}
}

// invoke runs a registry handler and queues its response.
func (c *Connection) invoke(handler rpc.Handler, req *envelope.Request) {
	ctx, span := o11y.StartSpan(c.ctx, c.config.tracing, "rpc."+req.Method)
	defer span.End()

	span.SetAttributes(
		o11y.Label{Key: "rpc.method", Value: req.Method},
		o11y.Label{Key: "rpc.id", Value: req.ID},
		o11y.Label{Key: "connection.id", Value: c.id},
	)
	recordDone := c.metrics.RecordRequest(ctx, req.Method)

	emitter := rpc.EmitterFunc(func(ev *envelope.Event) error {
		return c.sendEvent(ev)
	})

	result, err := callHandler(ctx, handler, req, emitter)

	var resp *envelope.Response
	if err != nil {
		rpcErr := envelope.FromError(err)
		c.logger.Debug("Handler failed",
			zap.String("id", req.ID),
			zap.String("method", req.Method),
			zap.String("code", rpcErr.Code),
			zap.Error(err),
		)
		span.SetStatus(o11y.SpanStatusError, rpcErr.Message)
		recordDone(rpcErr.Code)
		resp = envelope.NewErrorResponse(req.ID, rpcErr, req.Trace)
	} else {
		span.SetStatus(o11y.SpanStatusOK, "")
		recordDone("")
		resp = envelope.NewResponse(req.ID, result, req.Trace)
	}

	c.reply(resp)
}

// callHandler invokes handler, converting a panic into an INTERNAL error.
func callHandler(ctx context.Context, handler rpc.Handler, req *envelope.Request, emit rpc.Emitter) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return handler.Handle(ctx, req, emit)
}
