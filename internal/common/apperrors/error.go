// Package apperrors is the error type shared by every modhost package. Errors are
// declared once as package-level templates carrying an HTTP status code and are
// then derived per call site with New, Msg or Err. Derived errors keep the status
// code of their template and still match it under errors.Is.
package apperrors

import (
	"errors"
	"net/http"
)

// Error is an error with a status code and an optional list of wrapped causes.
// All methods return a fresh Error so templates are never mutated.
type Error interface {
	error
	Unwrap() error

	New(msg string) Error                  // sibling error with the same status, no causes
	Msg(msg string) Error                  // new message, current error kept as a cause
	MsgErr(msg string, err ...error) Error // new message plus extra causes
	Err(err ...error) Error                // same message plus extra causes
	SetExpandError(bool) Error             // ErrorAll includes causes when set
	SetStatusCode(int) Error
	StatusCode() int
	ErrorAll() string
	UnwrapAll() []error
}

// StatusOf returns the HTTP status carried by err, or 500 when err is not an
// Error or carries no status.
func StatusOf(err error) int {
	var appErr Error
	if errors.As(err, &appErr) && appErr.StatusCode() != 0 {
		return appErr.StatusCode()
	}
	return http.StatusInternalServerError
}
