package common

import "fmt"

// ExceptionType classifies a failed command for the client
type ExceptionType uint8

const (
	ExceptionOperationFailed ExceptionType = iota
	ExceptionAggregate
	ExceptionConfiguration
	ExceptionSecurity
	ExceptionGeneralFailure
	ExceptionNotSupported
	ExceptionInvalidReader
	ExceptionTypeIndexNotFound
	ExceptionAttributeIndexNotFound
	ExceptionStateTransfer
	ExceptionMaxClientsReached
)

func (t ExceptionType) String() string {
	switch t {
	case ExceptionOperationFailed:
		return "OperationFailed"
	case ExceptionAggregate:
		return "Aggregate"
	case ExceptionConfiguration:
		return "Configuration"
	case ExceptionSecurity:
		return "Security"
	case ExceptionGeneralFailure:
		return "GeneralFailure"
	case ExceptionNotSupported:
		return "NotSupported"
	case ExceptionInvalidReader:
		return "InvalidReader"
	case ExceptionTypeIndexNotFound:
		return "TypeIndexNotFound"
	case ExceptionAttributeIndexNotFound:
		return "AttributeIndexNotFound"
	case ExceptionStateTransfer:
		return "StateTransfer"
	case ExceptionMaxClientsReached:
		return "MaxClientsReached"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// Error codes carried by exceptions of type OperationFailed
const (
	ErrorCodeNone int32 = iota
	ErrorCodeKeyNotFound
	ErrorCodeKeyExists
	ErrorCodeItemLocked
	ErrorCodeLockNotHeld
	ErrorCodeVersionMismatch
	ErrorCodeTopicNotFound
	ErrorCodeTopicExists
	ErrorCodeInvalidQuery
	ErrorCodeInvalidEnumeration
	ErrorCodeCacheOffline
	ErrorCodeCacheClosed
	ErrorCodeFormat
	ErrorCodeParse
	ErrorCodeNoSession
)

// ExceptionDescriptor describes a failure to the client. It is the body of an
// exception response and the per key error of bulk responses.
type ExceptionDescriptor struct {
	Type    ExceptionType `json:"type"`
	Message string        `json:"message"`
	// Exception is the full error text including wrapped causes
	Exception  string `json:"exception,omitempty"`
	ErrorCode  int32  `json:"errorCode,omitempty"`
	StackTrace string `json:"stackTrace,omitempty"`
}

// Error implements error, the client returns the descriptor as is
func (e *ExceptionDescriptor) Error() string {
	if e.ErrorCode != ErrorCodeNone {
		return fmt.Sprintf("%s (code %d): %s", e.Type, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ExceptionResponse is the response of any failed command
type ExceptionResponse struct {
	ResponseHeader
	Exception ExceptionDescriptor `json:"exception"`
}
