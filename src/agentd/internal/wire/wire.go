// Package wire implements the JSON-RPC 2.0 envelope codec shared by the LSP
// client and the outer tool protocol, along with the framings used to carry
// envelopes over byte streams.
package wire

import (
	"encoding/json"
	"fmt"

	"go.lsp.dev/jsonrpc2"
)

// Version is the JSON-RPC protocol version tag carried on every message.
const Version = "2.0"

// Message is one JSON-RPC envelope: *Request, *Response or *Notification.
type Message interface {
	isWireMessage()
}

// Request is a call expecting a Response with the same ID.
type Request struct {
	ID     jsonrpc2.ID
	Method string
	Params json.RawMessage
}

// Response answers the Request with the matching ID. Exactly one of Result
// and Error is meaningful.
type Response struct {
	ID     jsonrpc2.ID
	Result json.RawMessage
	Error  *jsonrpc2.Error
}

// Notification is a fire-and-forget message carrying no ID.
type Notification struct {
	Method string
	Params json.RawMessage
}

func (*Request) isWireMessage()      {}
func (*Response) isWireMessage()     {}
func (*Notification) isWireMessage() {}

// DecodeError reports bytes that could not be decoded into a Message.
type DecodeError struct {
	Reason string
	Err    error
}

// Error is an implementation of the error interface.
func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decoding message: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decoding message: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// combined is the superset shape used to marshal and classify envelopes.
type combined struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpc2.Error `json:"error,omitempty"`
}

// NewRequest builds a Request, marshaling params. A nil params stays absent
// on the wire.
func NewRequest(id jsonrpc2.ID, method string, params interface{}) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Request{ID: id, Method: method, Params: raw}, nil
}

// NewNotification builds a Notification, marshaling params.
func NewNotification(method string, params interface{}) (*Notification, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Notification{Method: method, Params: raw}, nil
}

// NewResponse builds a Response for the given request ID. When err is
// non-nil the result is discarded; non-*jsonrpc2.Error values are wrapped as
// an internal error so the original message survives.
func NewResponse(id jsonrpc2.ID, result interface{}, err error) (*Response, error) {
	if err != nil {
		return &Response{ID: id, Error: toWireError(err)}, nil
	}
	raw, merr := json.Marshal(result)
	if merr != nil {
		return nil, fmt.Errorf("marshaling result: %w", merr)
	}
	return &Response{ID: id, Result: raw}, nil
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshaling params: %w", err)
	}
	return raw, nil
}

func toWireError(err error) *jsonrpc2.Error {
	if wireErr, ok := err.(*jsonrpc2.Error); ok {
		return wireErr
	}
	return jsonrpc2.NewError(jsonrpc2.InternalError, err.Error())
}

// Encode marshals a Message into a single JSON document.
func Encode(m Message) ([]byte, error) {
	env := combined{JSONRPC: Version}
	switch msg := m.(type) {
	case *Request:
		id, err := json.Marshal(&msg.ID)
		if err != nil {
			return nil, fmt.Errorf("marshaling request id: %w", err)
		}
		env.ID = id
		env.Method = msg.Method
		env.Params = msg.Params
	case *Response:
		id, err := json.Marshal(&msg.ID)
		if err != nil {
			return nil, fmt.Errorf("marshaling response id: %w", err)
		}
		env.ID = id
		env.Error = msg.Error
		if msg.Error == nil {
			env.Result = msg.Result
			if env.Result == nil {
				// A successful response must carry a result member.
				env.Result = json.RawMessage("null")
			}
		}
	case *Notification:
		env.Method = msg.Method
		env.Params = msg.Params
	default:
		return nil, fmt.Errorf("unsupported message type %T", m)
	}
	return json.Marshal(env)
}

// Decode parses a single JSON document into a Message, classifying it by the
// members present: id+method is a Request, id+result/error is a Response,
// method without id is a Notification. Anything else is a *DecodeError.
// The JSON type of the id (number or string) is preserved.
func Decode(data []byte) (Message, error) {
	var env combined
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Reason: "malformed JSON", Err: fmt.Errorf("%s: %w", jsonrpc2.ErrParse, err)}
	}

	hasID := len(env.ID) > 0 && string(env.ID) != "null"
	var id jsonrpc2.ID
	if hasID {
		if err := json.Unmarshal(env.ID, &id); err != nil {
			return nil, &DecodeError{Reason: "invalid id", Err: fmt.Errorf("%s: %w", jsonrpc2.ErrInvalidRequest, err)}
		}
	}

	switch {
	case hasID && env.Method != "":
		return &Request{ID: id, Method: env.Method, Params: env.Params}, nil
	case hasID && (env.Result != nil || env.Error != nil):
		return &Response{ID: id, Result: env.Result, Error: env.Error}, nil
	case !hasID && env.Method != "":
		return &Notification{Method: env.Method, Params: env.Params}, nil
	}
	return nil, &DecodeError{Reason: "message is not a request, response, or notification", Err: jsonrpc2.ErrInvalidRequest}
}
