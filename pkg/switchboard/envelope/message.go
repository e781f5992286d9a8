// Package envelope defines the wire shapes of the switchboard RPC protocol.
//
// Every frame exchanged over a connection is a JSON object carrying a
// version ("v", always 1) and a kind ("request", "response" or "event").
// Requests and responses are correlated by an opaque, caller-assigned id;
// events are pushed by the server and carry a dot-segmented topic.
package envelope

// Version is the only protocol version understood by this package.
const Version = 1

// UnknownID is used as the response id when an error occurs before the
// request id could be read from the frame.
const UnknownID = "?"

// Kind identifies which of the three wire shapes a frame carries.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindEvent    Kind = "event"
)

// Auth modes. The auth descriptor travels with requests but is not validated.
const (
	AuthModeNone  = "none"
	AuthModeToken = "token"
)

// Trace carries opaque trace identifiers. Any of them may be absent.
type Trace struct {
	TraceID      string  `json:"traceId"`
	SpanID       *string `json:"spanId"`
	ParentSpanID *string `json:"parentSpanId"`
}

// Auth is the optional credential descriptor attached to a request.
type Auth struct {
	Mode  string  `json:"mode"`
	Token *string `json:"token"`
}

// Request is a client call.
type Request struct {
	V      int            `json:"v"`
	Kind   Kind           `json:"kind"`
	ID     string         `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
	Trace  Trace          `json:"trace"`
	Auth   *Auth          `json:"auth"`
}

// Response answers exactly one Request. Result is set iff OK, Error iff !OK.
type Response struct {
	V      int            `json:"v"`
	Kind   Kind           `json:"kind"`
	ID     string         `json:"id"`
	OK     bool           `json:"ok"`
	Result map[string]any `json:"result"`
	Error  *Error         `json:"error"`
	Trace  Trace          `json:"trace"`
}

// Event is an asynchronous notification pushed to a subscribed client.
type Event struct {
	V     int            `json:"v"`
	Kind  Kind           `json:"kind"`
	Topic string         `json:"topic"`
	Data  map[string]any `json:"data"`
	Trace Trace          `json:"trace"`
}

// NewRequest builds a request frame. A nil params map is sent as {}.
func NewRequest(id, method string, params map[string]any, trace Trace) *Request {
	if params == nil {
		params = map[string]any{}
	}
	return &Request{
		V:      Version,
		Kind:   KindRequest,
		ID:     id,
		Method: method,
		Params: params,
		Trace:  trace,
	}
}

// NewResponse builds a successful response. A nil result is sent as {}.
func NewResponse(id string, result map[string]any, trace Trace) *Response {
	if result == nil {
		result = map[string]any{}
	}
	return &Response{
		V:      Version,
		Kind:   KindResponse,
		ID:     id,
		OK:     true,
		Result: result,
		Trace:  trace,
	}
}

// NewErrorResponse builds a failed response carrying err.
func NewErrorResponse(id string, err *Error, trace Trace) *Response {
	return &Response{
		V:     Version,
		Kind:  KindResponse,
		ID:    id,
		OK:    false,
		Error: err,
		Trace: trace,
	}
}

// NewEvent builds an event frame. A nil data map is sent as {}.
func NewEvent(topic string, data map[string]any, trace Trace) *Event {
	if data == nil {
		data = map[string]any{}
	}
	return &Event{
		V:     Version,
		Kind:  KindEvent,
		Topic: topic,
		Data:  data,
		Trace: trace,
	}
}
