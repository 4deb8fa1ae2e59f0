package message

import (
	"encoding/json"
	"errors"

	"github.com/brianly1003/pressd/internal/domain"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Device error codes (-32001 to -32050).
const (
	// Queue errors
	AdmissionRejected = -32001
	EntryNotFound     = -32002
	EntryRunning      = -32003
	InvalidTransition = -32004

	// Subscription errors
	SubscriptionRejected = -32010

	// Device errors
	DeviceDown    = -32020
	DeviceStopped = -32021

	// Job errors
	JobNotFound = -32030
)

// Error is a JSON-RPC 2.0 error. It doubles as the return code handed to
// the subscription engine on query replay.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// NewError creates a new JSON-RPC error.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorWithData creates a new JSON-RPC error with additional data.
func NewErrorWithData(code int, message string, data interface{}) *Error {
	err := NewError(code, message)
	if data != nil {
		if d, e := json.Marshal(data); e == nil {
			err.Data = d
		}
	}
	return err
}

// ErrParseError creates a parse error.
func ErrParseError(message string) *Error {
	if message == "" {
		message = "Parse error"
	}
	return NewError(ParseError, message)
}

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *Error {
	if message == "" {
		message = "Invalid Request"
	}
	return NewError(InvalidRequest, message)
}

// ErrMethodNotFound reports an unknown query type.
func ErrMethodNotFound(method string) *Error {
	return NewError(MethodNotFound, "Method not found: "+method)
}

// ErrInvalidParams creates an invalid params error.
func ErrInvalidParams(message string) *Error {
	if message == "" {
		message = "Invalid params"
	}
	return NewError(InvalidParams, message)
}

// ErrInternalError creates an internal error.
func ErrInternalError(message string) *Error {
	if message == "" {
		message = "Internal error"
	}
	return NewError(InternalError, message)
}

// ErrSubscriptionRejected carries the rejection reason in data.
func ErrSubscriptionRejected(reason, msg string) *Error {
	return NewErrorWithData(SubscriptionRejected, msg, map[string]string{
		"reason": reason,
	})
}

// FromDomainError maps a domain error to a wire error.
func FromDomainError(err error) *Error {
	if err == nil {
		return nil
	}
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	var subErr *domain.SubscriptionError
	if errors.As(err, &subErr) {
		return ErrSubscriptionRejected(subErr.Reason, subErr.Error())
	}
	var valErr *domain.ValidationError
	if errors.As(err, &valErr) {
		return NewErrorWithData(InvalidParams, valErr.Error(), map[string]string{
			"field": valErr.Field,
		})
	}

	switch {
	case errors.Is(err, domain.ErrAdmissionRejected):
		return NewError(AdmissionRejected, err.Error())
	case errors.Is(err, domain.ErrEntryNotFound):
		return NewError(EntryNotFound, err.Error())
	case errors.Is(err, domain.ErrEntryRunning):
		return NewError(EntryRunning, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		return NewError(InvalidTransition, err.Error())
	case errors.Is(err, domain.ErrProcessDown):
		return NewError(DeviceDown, err.Error())
	case errors.Is(err, domain.ErrProcessStopped):
		return NewError(DeviceStopped, err.Error())
	case errors.Is(err, domain.ErrJobNotFound):
		return NewError(JobNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidPayload):
		return ErrInvalidParams(err.Error())
	default:
		return ErrInternalError(err.Error())
	}
}

// ErrorCodeName returns a human-readable name for an error code.
func ErrorCodeName(code int) string {
	switch code {
	case ParseError:
		return "ParseError"
	case InvalidRequest:
		return "InvalidRequest"
	case MethodNotFound:
		return "MethodNotFound"
	case InvalidParams:
		return "InvalidParams"
	case InternalError:
		return "InternalError"
	case AdmissionRejected:
		return "AdmissionRejected"
	case EntryNotFound:
		return "EntryNotFound"
	case EntryRunning:
		return "EntryRunning"
	case InvalidTransition:
		return "InvalidTransition"
	case SubscriptionRejected:
		return "SubscriptionRejected"
	case DeviceDown:
		return "DeviceDown"
	case DeviceStopped:
		return "DeviceStopped"
	case JobNotFound:
		return "JobNotFound"
	default:
		return "UnknownError"
	}
}
