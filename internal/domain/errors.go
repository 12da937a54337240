package domain

import (
	"errors"
	"fmt"
)

type ErrorType string

const (
	ErrorTypeNotFound  ErrorType = "not_found"
	ErrorTypeConflict  ErrorType = "conflict"
	ErrorTypeExhausted ErrorType = "exhausted"
	ErrorTypeStorage   ErrorType = "storage"
	ErrorTypeInvalid   ErrorType = "invalid"
)

// Error is the value-returned failure type for every allocator and store
// operation. Nothing in the core raises fatally; the dispatcher is the only
// place that converts these into wire-protocol text.
type Error struct {
	Type    ErrorType
	Message string
	Details map[string]interface{}
}

func (e Error) Error() string {
	return e.Message
}

var (
	ErrDuplicateContent = Error{
		Type:    ErrorTypeConflict,
		Message: "slogan already exists",
	}
	ErrClientHasLease = Error{
		Type:    ErrorTypeConflict,
		Message: "client already holds a lease",
	}
	ErrNoItemAvailable = Error{
		Type:    ErrorTypeExhausted,
		Message: "no item available to lease",
	}
	ErrItemNotFound = Error{
		Type:    ErrorTypeNotFound,
		Message: "item not found",
	}
	ErrAlreadyStarted = errors.New("adapter already started")
	ErrNotStarted     = errors.New("adapter not started")
	ErrClosed         = errors.New("adapter closed")
)

// NewStorageError wraps a storage-collaborator failure so that it propagates
// as a generic, recoverable error rather than one of the classified kinds.
func NewStorageError(op, key string, err error) Error {
	return Error{
		Type:    ErrorTypeStorage,
		Message: fmt.Sprintf("storage %s failed: %v", op, err),
		Details: map[string]interface{}{
			"op":  op,
			"key": key,
		},
	}
}

func isType(err error, t ErrorType, msg string) bool {
	var e Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == t && e.Message == msg
}

func IsDuplicateContent(err error) bool {
	return isType(err, ErrorTypeConflict, ErrDuplicateContent.Message)
}

func IsClientHasLease(err error) bool {
	return isType(err, ErrorTypeConflict, ErrClientHasLease.Message)
}

func IsNoItemAvailable(err error) bool {
	return isType(err, ErrorTypeExhausted, ErrNoItemAvailable.Message)
}

func IsItemNotFound(err error) bool {
	return isType(err, ErrorTypeNotFound, ErrItemNotFound.Message)
}

func IsStorageError(err error) bool {
	var e Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == ErrorTypeStorage
}
