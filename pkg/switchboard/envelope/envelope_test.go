package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("valid request", func(t *testing.T) {
		raw := []byte(`{"v":1,"kind":"request","id":"7","method":"gateway.sessions.list",
			"params":{"limit":3},"trace":{"traceId":"t1","spanId":null,"parentSpanId":null},
			"auth":{"mode":"none","token":null}}`)

		env, err := Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, KindRequest, env.Kind)
		assert.Equal(t, "7", env.ID)
		require.NotNil(t, env.Request)
		assert.Equal(t, "gateway.sessions.list", env.Request.Method)
		assert.Equal(t, float64(3), env.Request.Params["limit"])
		assert.Equal(t, "t1", env.Request.Trace.TraceID)
		require.NotNil(t, env.Request.Auth)
		assert.Equal(t, AuthModeNone, env.Request.Auth.Mode)
		assert.True(t, IsRequest(env))
	})

	t.Run("missing params defaults to empty map", func(t *testing.T) {
		env, err := Parse([]byte(`{"v":1,"kind":"request","id":"1","method":"m"}`))
		require.NoError(t, err)
		assert.NotNil(t, env.Request.Params)
		assert.Empty(t, env.Request.Params)
	})

	t.Run("unknown fields are ignored", func(t *testing.T) {
		env, err := Parse([]byte(`{"v":1,"kind":"request","id":"1","method":"m","future":{"x":1}}`))
		require.NoError(t, err)
		assert.True(t, IsRequest(env))
	})

	t.Run("invalid JSON", func(t *testing.T) {
		_, err := Parse([]byte("not json"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMalformedEnvelope))
	})

	t.Run("non-object JSON", func(t *testing.T) {
		_, err := Parse([]byte(`[1,2,3]`))
		assert.ErrorIs(t, err, ErrMalformedEnvelope)
	})

	t.Run("request without id", func(t *testing.T) {
		_, err := Parse([]byte(`{"v":1,"kind":"request","method":"m"}`))
		assert.ErrorIs(t, err, ErrMalformedEnvelope)
	})

	t.Run("request with numeric method", func(t *testing.T) {
		_, err := Parse([]byte(`{"v":1,"kind":"request","id":"1","method":42}`))
		assert.ErrorIs(t, err, ErrMalformedEnvelope)
	})

	t.Run("request with non-object params", func(t *testing.T) {
		_, err := Parse([]byte(`{"v":1,"kind":"request","id":"1","method":"m","params":[1]}`))
		assert.ErrorIs(t, err, ErrMalformedEnvelope)
	})

	t.Run("response", func(t *testing.T) {
		env, err := Parse([]byte(`{"v":1,"kind":"response","id":"3","ok":true,"result":{"a":1},"error":null}`))
		require.NoError(t, err)
		require.NotNil(t, env.Response)
		assert.True(t, env.Response.OK)
		assert.False(t, IsRequest(env))
	})

	t.Run("response without ok", func(t *testing.T) {
		_, err := Parse([]byte(`{"v":1,"kind":"response","id":"3"}`))
		assert.ErrorIs(t, err, ErrMalformedEnvelope)
	})

	t.Run("event", func(t *testing.T) {
		env, err := Parse([]byte(`{"v":1,"kind":"event","topic":"run.finished","data":{"runId":"r1"}}`))
		require.NoError(t, err)
		require.NotNil(t, env.Event)
		assert.Equal(t, "run.finished", env.Event.Topic)
		assert.Equal(t, "r1", env.Event.Data["runId"])
	})

	t.Run("unknown kind parses but is not a request", func(t *testing.T) {
		env, err := Parse([]byte(`{"v":1,"kind":"ping","id":"9"}`))
		require.NoError(t, err)
		assert.Equal(t, "9", env.ID)
		assert.False(t, IsRequest(env))
	})
}

func TestIsRequest(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"valid", `{"v":1,"kind":"request","id":"1","method":"m"}`, true},
		{"wrong version", `{"v":2,"kind":"request","id":"1","method":"m"}`, false},
		{"missing version", `{"kind":"request","id":"1","method":"m"}`, false},
		{"empty method", `{"v":1,"kind":"request","id":"1","method":""}`, false},
		{"event kind", `{"v":1,"kind":"event","topic":"x"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Parse([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, IsRequest(env))
		})
	}

	assert.False(t, IsRequest(nil))
}

func TestExtractID(t *testing.T) {
	assert.Equal(t, "abc", ExtractID([]byte(`{"id":"abc"}`)))
	assert.Equal(t, UnknownID, ExtractID([]byte(`{"id":5}`)))
	assert.Equal(t, UnknownID, ExtractID([]byte(`not json`)))
	assert.Equal(t, UnknownID, ExtractID([]byte(`{}`)))
}

func TestResponseWireShape(t *testing.T) {
	t.Run("success has null error", func(t *testing.T) {
		data, err := json.Marshal(NewResponse("1", nil, Trace{TraceID: "t"}))
		require.NoError(t, err)

		var wire map[string]any
		require.NoError(t, json.Unmarshal(data, &wire))
		assert.Equal(t, float64(1), wire["v"])
		assert.Equal(t, "response", wire["kind"])
		assert.Equal(t, true, wire["ok"])
		assert.Equal(t, map[string]any{}, wire["result"])
		assert.Nil(t, wire["error"])
		assert.Contains(t, wire, "error")
	})

	t.Run("failure has null result", func(t *testing.T) {
		data, err := json.Marshal(NewErrorResponse("2", NewError(CodeNotFound, "nope"), Trace{}))
		require.NoError(t, err)

		var wire map[string]any
		require.NoError(t, json.Unmarshal(data, &wire))
		assert.Equal(t, false, wire["ok"])
		assert.Nil(t, wire["result"])
		errObj := wire["error"].(map[string]any)
		assert.Equal(t, CodeNotFound, errObj["code"])
		assert.Equal(t, "nope", errObj["message"])
		assert.Equal(t, false, errObj["retryable"])
	})
}

func TestFromError(t *testing.T) {
	t.Run("plain error becomes INTERNAL", func(t *testing.T) {
		e := FromError(errors.New("boom"))
		assert.Equal(t, CodeInternal, e.Code)
		assert.Equal(t, "boom", e.Message)
		assert.False(t, e.Retryable)
	})

	t.Run("wrapped protocol error keeps its code", func(t *testing.T) {
		orig := NewError(CodeNotFound, "session not found").WithRetryable(true)
		e := FromError(fmt.Errorf("rename: %w", orig))
		assert.Equal(t, CodeNotFound, e.Code)
		assert.True(t, e.Retryable)
	})

	t.Run("with details copies", func(t *testing.T) {
		orig := NewError(CodeInvalidParams, "bad")
		withDetails := orig.WithDetails(map[string]any{"field": "title"})
		assert.Nil(t, orig.Details)
		assert.Equal(t, "title", withDetails.Details["field"])
		assert.Equal(t, "INVALID_PARAMS: bad", withDetails.Error())
	})
}
