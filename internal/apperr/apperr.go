// Package apperr defines the HTTP-mapped error taxonomy shared by the
// services and handlers. Every declared failure mode is one of these;
// anything else surfaces as a generic 500.
package apperr

import (
	"errors"
	"net/http"
)

// Error is an error with an associated HTTP status.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func BadRequest(message string) *Error {
	return &Error{Status: http.StatusBadRequest, Message: message}
}

func Unauthorized(message string) *Error {
	return &Error{Status: http.StatusUnauthorized, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Status: http.StatusForbidden, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Status: http.StatusNotFound, Message: message}
}

func Conflict(message string) *Error {
	return &Error{Status: http.StatusConflict, Message: message}
}

// From extracts an *Error from err's chain.
func From(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusOf returns the HTTP status for err, or 500 for undeclared
// errors.
func StatusOf(err error) int {
	if e, ok := From(err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}
