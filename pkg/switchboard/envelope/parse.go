package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Envelope is a parsed inbound frame. Exactly one of Request, Response and
// Event is set when Kind is one of the known kinds; for unknown kinds only
// the probed header fields are populated.
type Envelope struct {
	V    int
	Kind Kind
	ID   string

	Request  *Request
	Response *Response
	Event    *Event
}

// Parse decodes a raw frame. Unknown extra fields are ignored. Frames that
// are not JSON objects, or whose kind-specific required fields are missing
// or have the wrong type, yield an error wrapping ErrMalformedEnvelope.
func Parse(raw []byte) (*Envelope, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedEnvelope)
	}

	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w: frame is not an object", ErrMalformedEnvelope)
	}

	env := &Envelope{
		Kind: Kind(doc.Get("kind").String()),
		ID:   stringField(doc, "id"),
	}
	if v := doc.Get("v"); v.Type == gjson.Number {
		env.V = int(v.Int())
	}

	var err error
	switch env.Kind {
	case KindRequest:
		if err = requireField(doc, "id", gjson.String); err == nil {
			err = requireField(doc, "method", gjson.String)
		}
		if err == nil {
			env.Request = &Request{}
			err = json.Unmarshal(raw, env.Request)
		}
		if err == nil && env.Request.Params == nil {
			env.Request.Params = map[string]any{}
		}
	case KindResponse:
		if err = requireField(doc, "id", gjson.String); err == nil {
			err = requireField(doc, "ok", gjson.True, gjson.False)
		}
		if err == nil {
			env.Response = &Response{}
			err = json.Unmarshal(raw, env.Response)
		}
	case KindEvent:
		if err = requireField(doc, "topic", gjson.String); err == nil {
			env.Event = &Event{}
			err = json.Unmarshal(raw, env.Event)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedEnvelope, err.Error())
	}
	return env, nil
}

// IsRequest reports whether env is a version 1 request naming a method.
func IsRequest(env *Envelope) bool {
	return env != nil &&
		env.V == Version &&
		env.Kind == KindRequest &&
		env.Request != nil &&
		env.Request.Method != ""
}

// ExtractID returns the string id of a raw frame, or UnknownID if the frame
// is not JSON or has no string id.
func ExtractID(raw []byte) string {
	if !gjson.ValidBytes(raw) {
		return UnknownID
	}
	if id := stringField(gjson.ParseBytes(raw), "id"); id != "" {
		return id
	}
	return UnknownID
}

func stringField(doc gjson.Result, name string) string {
	if f := doc.Get(name); f.Type == gjson.String {
		return f.Str
	}
	return ""
}

func requireField(doc gjson.Result, name string, types ...gjson.Type) error {
	f := doc.Get(name)
	if !f.Exists() {
		return fmt.Errorf("missing field %q", name)
	}
	for _, t := range types {
		if f.Type == t {
			return nil
		}
	}
	return fmt.Errorf("field %q has wrong type", name)
}
