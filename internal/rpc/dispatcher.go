// Package rpc exposes flash operations as named, argument-validated
// remote procedures over a JSON-RPC 2.0 text envelope. The dispatcher
// knows nothing about the transport carrying requests: it maps one
// UTF-8 request payload to one UTF-8 response payload.
package rpc

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Handler executes one command against its decoded parameter object.
type Handler func(params json.RawMessage) (any, error)

// Request is a decoded JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// Dispatcher is a registry of command name to handler. Lookup is by
// exact name; registration order is irrelevant.
type Dispatcher struct {
	handlers map[string]Handler
}

// NewDispatcher returns an empty registry.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register adds a named handler. Registering the same name twice is a
// programming error.
func (d *Dispatcher) Register(name string, h Handler) {
	if _, dup := d.handlers[name]; dup {
		panic(fmt.Sprintf("rpc: duplicate handler %q", name))
	}
	d.handlers[name] = h
}

// Methods returns the registered command names, sorted.
func (d *Dispatcher) Methods() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch handles one raw request payload and returns the response
// payload. Notifications (requests without an id) produce no response:
// the returned slice is nil.
func (d *Dispatcher) Dispatch(raw []byte) []byte {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return marshalResponse(&Response{
			JSONRPC: "2.0",
			Error:   &Error{Code: CodeParse, Message: fmt.Sprintf("parse error: %v", err)},
			ID:      json.RawMessage("null"),
		})
	}

	id := req.ID
	if len(id) == 0 {
		id = nil // notification
	}
	resp := &Response{JSONRPC: "2.0", ID: id}

	switch {
	case req.Method == "":
		resp.Error = &Error{Code: CodeInvalidRequest, Message: "missing method"}
	default:
		h, ok := d.handlers[req.Method]
		if !ok {
			resp.Error = errMethodNotFound(req.Method)
		} else if result, err := h(req.Params); err != nil {
			resp.Error = wireError(err)
		} else if result == nil {
			// Success must carry a result member even for void commands.
			resp.Result = json.RawMessage("null")
		} else {
			resp.Result = result
		}
	}

	if id == nil {
		return nil
	}
	return marshalResponse(resp)
}

func marshalResponse(resp *Response) []byte {
	if resp.ID == nil {
		resp.ID = json.RawMessage("null")
	}
	out, err := json.Marshal(resp)
	if err != nil {
		// Result values are plain strings, numbers, bools and byte
		// slices; marshaling them cannot fail in practice.
		out, _ = json.Marshal(&Response{
			JSONRPC: "2.0",
			Error:   &Error{Code: CodeTransport, Message: err.Error()},
			ID:      json.RawMessage("null"),
		})
	}
	return out
}

// unmarshalParams decodes the request params object into a per-command
// argument struct. Absent params decode every field to its zero value;
// unknown members are ignored the way the original keyword-argument
// handlers ignored extras.
func unmarshalParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errInvalidParams("invalid params: %v", err)
	}
	return nil
}
