package models

import "encoding/json"

// JSONRPCVersion is the only protocol version accepted.
const JSONRPCVersion = "2.0"

// JSONRPCRequest represents a JSON-RPC request object.
type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	// ID is a string or a number; it is echoed back in the response.
	ID     interface{} `json:"id"`
	Method string      `json:"method"`
	// Params is decoded once the method is known.
	Params json.RawMessage `json:"params"`
}

// JSONRPCErrorData is the "data" member of a JSON-RPC error.
type JSONRPCErrorData struct {
	Filename  string `json:"filename,omitempty"`
	Operation string `json:"operation,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Details   string `json:"details,omitempty"`
}

// JSONRPCError represents a JSON-RPC error object.
type JSONRPCError struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Data    *JSONRPCErrorData `json:"data,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC response object. Exactly one of
// Result and Error is set.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      interface{}   `json:"id"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}
