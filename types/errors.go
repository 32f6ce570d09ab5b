package types

import (
	"fmt"
)

// Error is the provider-visible error shape. Values serialize to JSON with
// code and message only, stack traces never cross the port. Codes follow
// EIP-1193 / JSON-RPC conventions so dApps can tell user rejection apart
// from transport failure.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// Is matches by code so wrapped detail messages still compare equal to the
// sentinel values below via errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithDetail returns a copy of e carrying extra context in the message.
func (e *Error) WithDetail(format string, args ...interface{}) *Error {
	return &Error{Code: e.Code, Message: e.Message + ": " + fmt.Sprintf(format, args...)}
}

var (
	ErrUserRejectedRequest = &Error{Code: 4001, Message: "user rejected request"}
	ErrUnauthorized        = &Error{Code: 4100, Message: "the requested account has not been authorized"}
	ErrUnsupportedMethod   = &Error{Code: 4200, Message: "the requested method is not supported"}
	ErrDisconnected        = &Error{Code: 4900, Message: "provider is disconnected"}
	ErrChainDisconnected   = &Error{Code: 4901, Message: "provider is disconnected from the requested chain"}

	ErrInvalidParams       = &Error{Code: -32602, Message: "invalid parameters"}
	ErrResourceUnavailable = &Error{Code: -32002, Message: "a conflicting request is already pending"}
	ErrTransactionRejected = &Error{Code: -32003, Message: "transaction rejected"}
	ErrNotFound            = &Error{Code: -32001, Message: "request not found"}
	ErrInternal            = &Error{Code: -32603, Message: "internal error"}

	ErrUnknownChain = &Error{Code: 4902, Message: "unrecognized chain id"}

	ErrUnsupportedSubscriptionType = &Error{Code: 4201, Message: "unsupported subscription type"}
	ErrSignTimeout                 = &Error{Code: 4202, Message: "sign request timed out"}
	ErrInvalidOrigin               = &Error{Code: 4203, Message: "invalid connection origin"}
)
