package jsonrpc

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
)

// JSON-RPC error codes for the command taxonomy. Forbidden and
// FailedPrecondition are terminal for the call; Transient commands are safe
// to retry wholesale because every mutation is an idempotent upsert or
// conditioned on current state.
const (
	codeForbidden          = -32001
	codeNotFound           = -32002
	codeFailedPrecondition = -32003
	codeTransient          = -32004
	codeInvalidArgument    = -32602
)

var _ rpc.Error = (*Error)(nil)

type Error struct {
	Code    int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) ErrorCode() int {
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func errForbidden(format string, args ...interface{}) *Error {
	return &Error{Code: codeForbidden, Message: fmt.Sprintf(format, args...)}
}

func errNotFound(format string, args ...interface{}) *Error {
	return &Error{Code: codeNotFound, Message: fmt.Sprintf(format, args...)}
}

func errFailedPrecondition(format string, args ...interface{}) *Error {
	return &Error{Code: codeFailedPrecondition, Message: fmt.Sprintf(format, args...)}
}

func errInvalidArgument(format string, args ...interface{}) *Error {
	return &Error{Code: codeInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// errTransient wraps a store or bus failure that the caller may retry.
func errTransient(op string, cause error) *Error {
	return &Error{
		Code:    codeTransient,
		Message: fmt.Sprintf("%s temporarily unavailable", op),
		Cause:   cause,
	}
}
