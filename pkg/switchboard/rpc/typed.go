package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tsarna/switchboard/pkg/switchboard/envelope"
)

// Typed wraps a function taking a decoded params struct and returning a
// result struct. Params that cannot be decoded into P are rejected with
// INVALID_PARAMS before fn runs. R must encode to a JSON object.
func Typed[P any, R any](fn func(ctx context.Context, params P, emit Emitter) (R, error)) Handler {
	return HandlerFunc(func(ctx context.Context, req *envelope.Request, emit Emitter) (map[string]any, error) {
		var params P
		if err := convert(req.Params, &params); err != nil {
			return nil, envelope.Errorf(envelope.CodeInvalidParams, "invalid params for %s: %v", req.Method, err)
		}

		result, err := fn(ctx, params, emit)
		if err != nil {
			return nil, err
		}

		if m, ok := any(result).(map[string]any); ok {
			return m, nil
		}

		var out map[string]any
		if err := convert(result, &out); err != nil {
			return nil, fmt.Errorf("encode result for %s: %w", req.Method, err)
		}
		return out, nil
	})
}

func convert(in any, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// schemaHandler validates params against a JSON Schema before delegating.
type schemaHandler struct {
	inner  Handler
	schema *jsonschema.Schema
}

// WithSchema wraps handler so that params are validated against the given
// JSON Schema document first. Violations are reported as INVALID_PARAMS with
// the validator output in details.reason.
func WithSchema(method string, schema string, handler Handler) (Handler, error) {
	url := method + ".schema.json"

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", method, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", method, err)
	}

	return &schemaHandler{inner: handler, schema: compiled}, nil
}

func (s *schemaHandler) Handle(ctx context.Context, req *envelope.Request, emit Emitter) (map[string]any, error) {
	var doc any
	if err := convert(req.Params, &doc); err != nil {
		return nil, envelope.Errorf(envelope.CodeInvalidParams, "invalid params for %s: %v", req.Method, err)
	}

	if err := s.schema.Validate(doc); err != nil {
		return nil, envelope.Errorf(envelope.CodeInvalidParams, "params for %s failed validation", req.Method).
			WithDetails(map[string]any{"reason": err.Error()})
	}

	return s.inner.Handle(ctx, req, emit)
}

// RegisterWithSchema registers handler behind a JSON Schema check.
func (r *Registry) RegisterWithSchema(method string, schema string, handler Handler) error {
	wrapped, err := WithSchema(method, schema, handler)
	if err != nil {
		return err
	}
	return r.Register(method, wrapped)
}
