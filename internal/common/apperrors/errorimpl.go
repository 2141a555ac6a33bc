package apperrors

import (
	"errors"
	"strings"
)

type appError struct {
	msg         string
	base        error
	causes      []error
	statuscode  int
	expandError bool
}

// New creates a root error with the given message.
func New(msg string) Error {
	return &appError{msg: msg}
}

func (e *appError) Error() string {
	return e.msg
}

// ErrorAll returns the message followed by every cause when expansion is on.
func (e *appError) ErrorAll() string {
	if !e.expandError || len(e.causes) == 0 {
		return e.Error()
	}
	parts := make([]string, 0, len(e.causes)+1)
	parts = append(parts, e.Error())
	for _, err := range e.causes {
		if err == e.base {
			continue
		}
		parts = append(parts, err.Error())
	}
	return strings.Join(parts, "; ")
}

func (e *appError) Unwrap() error {
	return e.base
}

func (e *appError) UnwrapAll() []error {
	return e.causes
}

func (e *appError) derive(msg string, causes []error) *appError {
	return &appError{
		msg:         msg,
		base:        e,
		causes:      causes,
		statuscode:  e.statuscode,
		expandError: e.expandError,
	}
}

func (e *appError) New(msg string) Error {
	return e.derive(msg, nil)
}

func (e *appError) Msg(msg string) Error {
	return e.derive(msg, append([]error{e}, e.causes...))
}

func (e *appError) MsgErr(msg string, errs ...error) Error {
	return e.derive(msg, append([]error{e}, errs...))
}

func (e *appError) Err(errs ...error) Error {
	return e.derive(e.msg, append([]error{e}, errs...))
}

func (e *appError) SetExpandError(flag bool) Error {
	cp := *e
	cp.expandError = flag
	return &cp
}

func (e *appError) SetStatusCode(code int) Error {
	cp := *e
	cp.statuscode = code
	return &cp
}

func (e *appError) StatusCode() int {
	return e.statuscode
}

// Is matches target against the base chain and every attached cause.
func (e *appError) Is(target error) bool {
	if target == nil {
		return false
	}
	if errors.Is(e.base, target) {
		return true
	}
	for _, err := range e.causes {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
