// Package a2a defines the wire model spoken between the console and the
// agent mesh gateway: JSON-RPC 2.0 envelopes and the streamed task,
// status-update and artifact-update events carried inside them.
package a2a

import (
	"encoding/json"
	"fmt"
)

// JSONRPCVersion is the only protocol version the gateway accepts.
const JSONRPCVersion = "2.0"

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope. Exactly one of Result
// or Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// RPC method names used by the console.
const (
	MethodMessageStream = "message/stream"
	MethodTaskCancel    = "tasks/cancel"
)

// NewRequest builds a request envelope with marshaled params.
func NewRequest(id, method string, params any) (Request, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return Request{}, fmt.Errorf("marshal params: %w", err)
	}
	return Request{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  data,
	}, nil
}
