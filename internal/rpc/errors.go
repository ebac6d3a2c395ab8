package rpc

import (
	"errors"
	"fmt"

	"github.com/norbytes/flashprog/internal/block"
	"github.com/norbytes/flashprog/internal/spiflash"
)

// JSON-RPC 2.0 error codes, plus implementation-defined codes for the
// failure classes callers handle differently.
const (
	CodeParse          = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602

	// CodeTransport marks a bus/hardware failure: fatal to the
	// operation, nothing was retried.
	CodeTransport = -32000

	// CodeVerification marks a post-write readback checksum mismatch;
	// the caller may rewrite the whole block.
	CodeVerification = -32001

	// CodeUsage marks protocol misuse, such as polling an erase
	// session that was never started.
	CodeUsage = -32002
)

// Error is the JSON-RPC error envelope member.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

func errMethodNotFound(method string) *Error {
	return &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", method)}
}

func errInvalidParams(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

// wireError maps a handler failure onto the error envelope. Typed
// failures keep their class; anything else surfaces as a transport
// error, message intact.
func wireError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	var (
		decodeErr *block.DecodeError
		lenErr    *block.LengthError
		verifyErr *block.VerifyError
		stateErr  *spiflash.StateError
	)
	switch {
	case errors.As(err, &decodeErr), errors.As(err, &lenErr):
		return &Error{Code: CodeInvalidParams, Message: err.Error()}
	case errors.As(err, &verifyErr):
		return &Error{Code: CodeVerification, Message: err.Error()}
	case errors.As(err, &stateErr):
		return &Error{Code: CodeUsage, Message: err.Error()}
	}
	return &Error{Code: CodeTransport, Message: err.Error()}
}
