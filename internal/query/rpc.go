package query

import (
	"encoding/json"

	dErrors "creddd/pkg/domain-errors"
)

const jsonRPCVersion = "2.0"

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// toRPCError maps coded domain errors onto JSON-RPC errors. Internal
// failures never leak their message.
func toRPCError(err error) *rpcError {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInvalidInput, dErrors.CodeBadRequest, dErrors.CodeNotFound:
		msg := "Invalid params"
		if de, ok := dErrors.As(err); ok && de.Message != "" {
			msg = de.Message
		}
		return &rpcError{Code: codeInvalidParams, Message: msg}
	default:
		return &rpcError{Code: codeInternalError, Message: "Internal error"}
	}
}
